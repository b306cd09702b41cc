package detection

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Models per group in batch detection. Each insert runs in its own
	// transaction, so a long scan never holds locks across the whole batch.
	BatchSize int `envconfig:"DETECTION_BATCH_SIZE" default:"25"`

	// Consecutive RED cycles, including the current one, that count as
	// "persisting". The source behavior is ambiguous here, so it is a
	// parameter rather than a hard-coded threshold.
	RedPersistenceCycles int `envconfig:"RED_PERSISTENCE_CYCLES" default:"2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
