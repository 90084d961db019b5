package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/parley/parley/config"
	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
)

// ErrNoProvider is returned when no configured upstream can be built.
var ErrNoProvider = errors.New("no upstream provider configured")

// Build assembles the relay's provider from config: the primary followed by
// its fallbacks, skipping hosted providers that have no API key.
func Build(relay config.RelayConfig, providers config.ProvidersConfig, logger zerolog.Logger) (ports.Provider, error) {
	order := append([]string{relay.Provider}, relay.Fallbacks...)

	seen := make(map[string]bool, len(order))
	var candidates []Candidate
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true

		c, ok, err := candidate(name, providers, logger.With().Str("provider", name).Logger())
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Debug().Str("provider", name).Msg("Skipping upstream without credentials")
			continue
		}
		candidates = append(candidates, c)
	}

	switch len(candidates) {
	case 0:
		return nil, ErrNoProvider
	case 1:
		return withModel{Provider: candidates[0].Provider, model: candidates[0].Model}, nil
	default:
		return NewFallbackProvider(candidates, logger), nil
	}
}

func candidate(name string, providers config.ProvidersConfig, logger zerolog.Logger) (Candidate, bool, error) {
	switch name {
	case "openai":
		cfg := providers.OpenAI
		if cfg.APIKey == "" {
			return Candidate{}, false, nil
		}
		return Candidate{Provider: NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, logger), Model: cfg.Model}, true, nil
	case "anthropic":
		cfg := providers.Anthropic
		if cfg.APIKey == "" {
			return Candidate{}, false, nil
		}
		return Candidate{Provider: NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, logger), Model: cfg.Model}, true, nil
	case "ollama":
		cfg := providers.Ollama
		if cfg.BaseURL == "" && cfg.Model == "" {
			return Candidate{}, false, nil
		}
		return Candidate{Provider: NewOllamaProvider(cfg.BaseURL, logger), Model: cfg.Model}, true, nil
	default:
		return Candidate{}, false, fmt.Errorf("unknown upstream provider %q", name)
	}
}

// withModel pins the configured model onto a single provider.
type withModel struct {
	ports.Provider
	model string
}

func (w withModel) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	opts.Model = w.model
	return w.Provider.Stream(ctx, in, opts)
}
