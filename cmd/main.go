package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/database"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/detection"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/repository"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/server"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Governance CMD"
	app.Usage = "The governance exception engine command line interface"

	app.Commands = []cli.Command{
		serveCMD,
		detectAllCMD,
		createUserCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run the exception API server",
		Action:      serveAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the governance exception HTTP server`,
	}
	detectAllCMD = cli.Command{
		Name:        "detect-all",
		Usage:       "run batch detection over all active models",
		Action:      detectAllAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run one batch detection pass and print the summary`,
	}
	createUserCMD = cli.Command{
		Name:   "create-user",
		Usage:  "provision an API user or rotate its token",
		Action: createUserAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "username", Usage: "user name, sent in the X-Actor header", Required: true},
			cli.StringFlag{Name: "token", Usage: "API token to hash and store", Required: true},
			cli.StringFlag{Name: "role", Usage: "admin or viewer", Value: "viewer"},
			cli.StringFlag{Name: "display-name", Usage: "display name"},
			cli.StringFlag{Name: "email", Usage: "email address"},
		},
		Description: `Create or update a user of the exception API. The token is stored as a bcrypt hash.`,
	}
)

func serveAction(_ *cli.Context) error {

	logrus.Info("Starting exception API server")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	if err := database.InitReadOnlyDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	server.StartServer(server.GetConfig().Port)
	return nil
}

func detectAllAction(_ *cli.Context) error {

	logrus.Info("Starting batch detection CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	if err := database.InitReadOnlyDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	engine := detection.NewDefaultEngine()
	summary, err := engine.DetectAllActive(context.Background())
	if err != nil {
		logrus.WithError(err).Error("Batch detection failed")
		return err
	}

	logrus.WithFields(map[string]interface{}{
		"created_by_type": summary.CreatedByType,
		"total_created":   summary.TotalCreated,
		"errors":          len(summary.Errors),
	}).Info("Batch detection finished")

	return nil
}

func createUserAction(c *cli.Context) error {

	role := c.String("role")
	if role != model.RoleAdmin && role != model.RoleViewer {
		return fmt.Errorf("invalid role %q: must be %s or %s", role, model.RoleAdmin, model.RoleViewer)
	}

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.String("token")), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	user := model.User{
		UserName:     c.String("username"),
		DisplayName:  c.String("display-name"),
		Email:        c.String("email"),
		Role:         role,
		APITokenHash: string(hash),
	}

	if err := repository.NewUserRepository().Upsert(context.Background(), &user); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	logrus.WithFields(map[string]interface{}{
		"user_name": user.UserName,
		"role":      user.Role,
	}).Info("User provisioned")

	return nil
}
