package upstream

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider streams messages from the Anthropic API.
type AnthropicProvider struct {
	client anthropic.Client
	logger zerolog.Logger
}

// NewAnthropicProvider creates a provider. baseURL may be empty.
func NewAnthropicProvider(apiKey, baseURL string, logger zerolog.Logger) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), logger: logger}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Stream opens a streaming message and waits for the first text delta.
func (p *AnthropicProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	msgs, err := anthropicMessages(in.Messages)
	if err != nil {
		return nil, err
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if opts.MaxNewTokens > 0 {
		maxTokens = int64(opts.MaxNewTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if in.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.System}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(opts.Temperature))
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	var first string
	for first == "" {
		if !stream.Next() {
			err := stream.Err()
			stream.Close()
			if err != nil {
				return nil, fmt.Errorf("anthropic stream: %w", err)
			}
			out := make(chan ports.CompletionChunk, 1)
			out <- ports.CompletionChunk{Done: true}
			close(out)
			return out, nil
		}
		first = anthropicDelta(stream.Current())
	}

	out := make(chan ports.CompletionChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		emit := emitter{ctx: ctx, out: out}
		if !emit.text(first) {
			return
		}
		for stream.Next() {
			if !emit.text(anthropicDelta(stream.Current())) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Warn().Err(err).Msg("Anthropic stream failed")
			emit.finish(fmt.Errorf("anthropic stream: %w", err))
			return
		}
		emit.finish(nil)
	}()

	return out, nil
}

func anthropicDelta(event anthropic.MessageStreamEventUnion) string {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
			return d.Text
		}
	}
	return ""
}

func anthropicMessages(messages []ports.OutgoingMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == ports.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content.PlainText())))
			continue
		}
		if !m.Content.IsStructured() {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content.Text)))
			continue
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content.Parts))
		for _, part := range m.Content.Parts {
			switch part.Type {
			case ports.PartText:
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case ports.PartImage:
				img, err := parseDataURL(part.Image)
				if err != nil {
					return nil, fmt.Errorf("image part: %w", err)
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Base64))
			}
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}
	return out, nil
}

var _ ports.Provider = (*AnthropicProvider)(nil)
