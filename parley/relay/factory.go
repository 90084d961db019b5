package relay

import (
	"errors"

	"github.com/ZanzyTHEbar/parley/parley/config"
	"github.com/ZanzyTHEbar/parley/parley/pipeline/adapters"
	"github.com/ZanzyTHEbar/parley/parley/relay/upstream"
	"github.com/ZanzyTHEbar/parley/parley/session"
	"github.com/rs/zerolog"
)

// FromConfig wires a Server from application config. A missing upstream is
// not fatal: the relay starts and answers chat requests with a configuration error.
func FromConfig(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	deps := Dependencies{Metrics: NewMetrics()}

	provider, err := upstream.Build(cfg.Relay, cfg.Providers, logger.With().Str("component", "upstream").Logger())
	switch {
	case errors.Is(err, upstream.ErrNoProvider):
		logger.Warn().Msg("No upstream provider configured; chat requests will fail until an API key is set")
	case err != nil:
		return nil, err
	default:
		deps.Provider = provider
		logger.Info().Str("provider", provider.Name()).Msg("Upstream ready")
	}

	if cfg.Relay.RateLimitEnabled && cfg.Relay.RateLimitBurst > 0 {
		deps.Limiter = adapters.NewKeyedLimiter(cfg.Relay.RateLimitBurst, cfg.Relay.RateLimitInterval)
	}

	if cfg.Relay.RequireAuth {
		if cfg.Session.JWTSecret == "" {
			return nil, errors.New("relay: require_auth needs session.jwt_secret shared with the chat client")
		}
		tokens, err := session.NewTokens(cfg.Session.JWTSecret, cfg.Session.TokenTTL)
		if err != nil {
			return nil, err
		}
		deps.Verifier = tokens
	}

	return NewServer(cfg.Relay, deps, logger)
}
