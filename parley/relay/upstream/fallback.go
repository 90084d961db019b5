package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
)

// Candidate is one provider in a fallback chain together with the model it serves.
type Candidate struct {
	Provider ports.Provider
	Model    string
}

// FallbackProvider tries each candidate in order until one opens a stream.
// Failures after the first chunk are not retried: the client has already
// seen partial output.
type FallbackProvider struct {
	candidates []Candidate
	logger     zerolog.Logger
}

func NewFallbackProvider(candidates []Candidate, logger zerolog.Logger) *FallbackProvider {
	return &FallbackProvider{candidates: candidates, logger: logger}
}

func (p *FallbackProvider) Name() string {
	names := make([]string, len(p.candidates))
	for i, c := range p.candidates {
		names[i] = c.Provider.Name()
	}
	return strings.Join(names, ">")
}

// Stream opens the first candidate that succeeds. opts.Model is ignored in
// favour of each candidate's own model.
func (p *FallbackProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	if len(p.candidates) == 0 {
		return nil, ErrNoProvider
	}

	var errs []error
	for i, c := range p.candidates {
		candidateOpts := opts
		candidateOpts.Model = c.Model

		ch, err := c.Provider.Stream(ctx, in, candidateOpts)
		if err == nil {
			return ch, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		errs = append(errs, fmt.Errorf("%s: %w", c.Provider.Name(), err))
		if i < len(p.candidates)-1 {
			p.logger.Warn().Err(err).
				Str("provider", c.Provider.Name()).
				Str("next", p.candidates[i+1].Provider.Name()).
				Msg("Upstream failed, falling back")
		}
	}
	return nil, errors.Join(errs...)
}

var _ ports.Provider = (*FallbackProvider)(nil)
