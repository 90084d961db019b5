package upstream

import (
	"context"
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaProvider streams from a local Ollama server through langchaingo.
type OllamaProvider struct {
	baseURL string
	logger  zerolog.Logger
}

// NewOllamaProvider creates a provider. An empty baseURL uses the langchaingo default.
func NewOllamaProvider(baseURL string, logger zerolog.Logger) *OllamaProvider {
	return &OllamaProvider{baseURL: baseURL, logger: logger}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// Stream runs the generation in the background and returns once the first
// chunk arrives or the call fails before producing any text.
func (p *OllamaProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	clientOpts := []ollama.Option{ollama.WithModel(opts.Model)}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, ollama.WithServerURL(p.baseURL))
	}
	llm, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}

	content, err := ollamaMessages(in)
	if err != nil {
		return nil, err
	}

	callOpts := []llms.CallOption{}
	if opts.MaxNewTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxNewTokens))
	}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(float64(opts.Temperature)))
	}

	out := make(chan ports.CompletionChunk)
	started := make(chan struct{})
	failed := make(chan error, 1)

	go func() {
		defer close(out)
		emit := emitter{ctx: ctx, out: out}

		var sent bool
		streaming := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if !sent {
				sent = true
				close(started)
			}
			if !emit.text(string(chunk)) {
				return ctx.Err()
			}
			return nil
		})

		_, err := llm.GenerateContent(ctx, content, append(callOpts, streaming)...)
		if !sent {
			if err == nil {
				err = errEmptyCompletion
			}
			failed <- err
			return
		}
		if err != nil {
			p.logger.Warn().Err(err).Msg("Ollama stream failed")
			emit.finish(fmt.Errorf("ollama stream: %w", err))
			return
		}
		emit.finish(nil)
	}()

	select {
	case <-started:
		return out, nil
	case err := <-failed:
		if errors.Is(err, errEmptyCompletion) {
			done := make(chan ports.CompletionChunk, 1)
			done <- ports.CompletionChunk{Done: true}
			close(done)
			return done, nil
		}
		return nil, fmt.Errorf("ollama stream: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var errEmptyCompletion = errors.New("empty completion")

func ollamaMessages(in ports.PromptInput) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(in.Messages)+1)
	if in.System != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, in.System))
	}

	for _, m := range in.Messages {
		if m.Role == ports.RoleAssistant {
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, m.Content.PlainText()))
			continue
		}
		if !m.Content.IsStructured() {
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content.Text))
			continue
		}

		msg := llms.MessageContent{Role: llms.ChatMessageTypeHuman}
		for _, part := range m.Content.Parts {
			switch part.Type {
			case ports.PartText:
				msg.Parts = append(msg.Parts, llms.TextContent{Text: part.Text})
			case ports.PartImage:
				img, err := parseDataURL(part.Image)
				if err != nil {
					return nil, fmt.Errorf("image part: %w", err)
				}
				data, err := img.bytes()
				if err != nil {
					return nil, fmt.Errorf("decode image part: %w", err)
				}
				msg.Parts = append(msg.Parts, llms.BinaryPart(img.MediaType, data))
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

var _ ports.Provider = (*OllamaProvider)(nil)
