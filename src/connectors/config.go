package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RegistryBaseURL string `envconfig:"REGISTRY_BASE_URL" default:"http://localhost:8080"`
	RegistryAPIKey  string `envconfig:"REGISTRY_API_KEY" default:""`
	RegistryTimeout int    `envconfig:"REGISTRY_TIMEOUT_SECONDS" default:"10"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
