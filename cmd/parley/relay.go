package main

import (
	"github.com/ZanzyTHEbar/parley/parley/config"
	"github.com/ZanzyTHEbar/parley/parley/logging"
	"github.com/ZanzyTHEbar/parley/parley/relay"
	"github.com/urfave/cli/v2"
)

func runRelay(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)
	watchLogLevel(logger)

	srv, err := relay.FromConfig(cfg, logging.Component(logger, "relay"))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context)
	defer stop()
	return srv.ListenAndServe(ctx)
}
