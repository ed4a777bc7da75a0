package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrebq/doorman/cmd/doorman/serve"
	"github.com/andrebq/doorman/cmd/doorman/users"
	"github.com/andrebq/doorman/internal/cmdflags"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	// .env is optional, values already in the environment take precedence
	_ = godotenv.Load()

	var logLevel, logFormat string
	app := &cli.App{
		Name:  "doorman",
		Usage: "Register users, log them in and keep track of their sessions",
		Flags: []cli.Flag{
			cmdflags.LogLevel(&logLevel),
			cmdflags.LogFormat(&logFormat),
		},
		Before: func(ctx *cli.Context) error {
			return logutil.Setup(os.Stderr, logLevel, logFormat)
		},
		Commands: []*cli.Command{
			serve.Cmd(),
			users.Cmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
