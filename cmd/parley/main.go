package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	internal "github.com/ZanzyTHEbar/parley/parley"
	"github.com/ZanzyTHEbar/parley/parley/config"
	"github.com/ZanzyTHEbar/parley/parley/logging"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  internal.DefaultAppName,
		Usage: "streaming chat client and relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (defaults to ./config.yaml or the user config dir)",
				EnvVars: []string{"PARLEY_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "chat",
				Usage:  "sign in and chat in the terminal",
				Action: runChat,
			},
			{
				Name:   "relay",
				Usage:  "serve the streaming chat endpoint",
				Action: runRelay,
			},
			{
				Name:  "init",
				Usage: "write a default config file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "path",
						Value: filepath.Join(internal.DefaultConfigPath, "config.yaml"),
						Usage: "where to write the config",
					},
				},
				Action: runInit,
			},
		},
		DefaultCommand: "chat",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// watchLogLevel applies log.level edits from the config file without a restart.
func watchLogLevel(logger zerolog.Logger) {
	config.Watch(func(cfg *config.Config) {
		zerolog.SetGlobalLevel(logging.ParseLevel(cfg.Log.Level))
		logger.Info().Str("level", cfg.Log.Level).Msg("Config reloaded")
	}, func(err error) {
		logger.Warn().Err(err).Msg("Ignoring invalid config change")
	})
}

func runInit(c *cli.Context) error {
	path := c.String("path")
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
