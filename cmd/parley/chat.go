package main

import (
	"context"
	"errors"
	"io"

	"github.com/ZanzyTHEbar/parley/parley/config"
	"github.com/ZanzyTHEbar/parley/parley/logging"
	"github.com/ZanzyTHEbar/parley/parley/pipeline"
	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/ZanzyTHEbar/parley/parley/session"
	"github.com/ZanzyTHEbar/parley/parley/view"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func runChat(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	rl, err := view.NewReadline(cfg.View)
	if err != nil {
		return err
	}
	defer rl.Close()

	logger := logging.NewWithWriter(cfg.Log, rl.Stderr())
	watchLogLevel(logger)

	ctx, stop := signalContext(c.Context)
	defer stop()

	sess, err := session.Open(ctx, cfg.Session, logging.Component(logger, "session"))
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Teardown(); err != nil {
			logger.Warn().Err(err).Msg("Session teardown failed")
		}
	}()

	term := view.NewTerminal(rl, rl.Stdout(), logger)
	factory := pipeline.NewFactory(cfg, logging.Component(logger, "pipeline"))
	backend := factory.CreateBackend(sess.Token)
	speech := factory.ResolveSpeech()

	restored, err := sess.Initialize(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not restore the previous session")
	}

	for {
		if !restored {
			if _, err := term.Login(ctx, sess); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
		restored = false

		err := chatOnce(ctx, cfg, factory, backend, speech, term, sess, logger)
		switch {
		case errors.Is(err, view.ErrLoggedOut):
			continue
		case errors.Is(err, context.Canceled):
			return nil
		}
		return err
	}
}

// chatOnce runs one conversation view, bound to the current login.
func chatOnce(
	ctx context.Context,
	cfg *config.Config,
	factory *pipeline.Factory,
	backend ports.Backend,
	speech pipeline.SpeechCapability,
	term *view.Terminal,
	sess *session.Context,
	logger zerolog.Logger,
) error {
	viewCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := sess.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-viewCtx.Done():
		}
	}()

	orch := factory.CreateOrchestrator(viewCtx, backend, speech, term.Notifier())
	defer orch.Close()

	_, dictation := speech.Resolve()
	logger.Debug().Bool("dictation", dictation).Str("backend", cfg.Backend.URL).Msg("Chat view ready")
	if err := term.Chat(viewCtx, orch, sess); err != nil {
		return err
	}
	select {
	case <-done:
		if ctx.Err() == nil {
			return view.ErrLoggedOut
		}
	default:
	}
	return nil
}
