package session

import (
	"context"

	"github.com/ZanzyTHEbar/parley/parley/config"
	"github.com/rs/zerolog"
)

// Open builds a session context from config. Profiles live in libSQL when the
// database is enabled and in memory otherwise.
func Open(ctx context.Context, cfg config.SessionConfig, logger zerolog.Logger) (*Context, error) {
	auth, err := NewAuthenticator(cfg)
	if err != nil {
		return nil, err
	}
	tokens, err := NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	var profiles ProfileStore = NewMemoryProfileStore()
	if cfg.Database.Enabled {
		store, err := OpenLibSQLProfileStore(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return nil, err
		}
		profiles = store
	} else {
		logger.Warn().Msg("Profile database disabled, profiles will not persist")
	}

	return New(auth, tokens, profiles, logger), nil
}
