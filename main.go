package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"csms/config"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	_ "go.uber.org/automaxprocs"
)

func main() {
	app := &cli.App{
		Name:  "csms",
		Usage: "charging station management server for OCPP 1.6 and 2.0.1 chargers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the TOML configuration file",
				EnvVars: []string{"CSMS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "logging level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before reading the environment",
				Value: ".env",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// a missing .env file is fine, the environment is used as is
	if err := godotenv.Load(c.String("env-file")); err == nil {
		fmt.Printf("Loaded environment from: %s\n", c.String("env-file"))
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
	}

	app := fx.New(
		fx.NopLogger,
		fx.Supply(&cfg),
		fx.Provide(
			newLogger,
			provideStore,
			provideNATS,
			providePublisher,
			provideAuthorizer,
			provideAuthenticator,
			provideRegistry,
			provideTransactions,
			provideFactory,
			provideService,
		),
		fx.Invoke(
			startChargerServer,
			startAPI,
			startCommandServer,
		),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	return app.Stop(stopCtx)
}
