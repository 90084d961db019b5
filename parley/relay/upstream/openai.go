package upstream

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
)

// OpenAIProvider streams chat completions from the OpenAI API or any
// compatible endpoint.
type OpenAIProvider struct {
	client openai.Client
	logger zerolog.Logger
}

// NewOpenAIProvider creates a provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, baseURL string, logger zerolog.Logger) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), logger: logger}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Stream opens a streaming completion. The first chunk is awaited before
// returning so request errors surface here rather than mid-stream.
func (p *OpenAIProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(opts.Model),
		Messages: openAIMessages(in),
	}
	if opts.MaxNewTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxNewTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	// Pull until the first content (or failure) so a bad key or model is a
	// request error, not an interruption.
	var first string
	for first == "" {
		if !stream.Next() {
			err := stream.Err()
			stream.Close()
			if err != nil {
				return nil, fmt.Errorf("openai stream: %w", err)
			}
			out := make(chan ports.CompletionChunk, 1)
			out <- ports.CompletionChunk{Done: true}
			close(out)
			return out, nil
		}
		first = openAIDelta(stream.Current())
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
			if !emit.text(openAIDelta(stream.Current())) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Warn().Err(err).Msg("OpenAI stream failed")
			emit.finish(fmt.Errorf("openai stream: %w", err))
			return
		}
		emit.finish(nil)
	}()

	return out, nil
}

func openAIDelta(chunk openai.ChatCompletionChunk) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

func openAIMessages(in ports.PromptInput) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages)+1)
	if in.System != "" {
		msgs = append(msgs, openai.SystemMessage(in.System))
	}

	for _, m := range in.Messages {
		if m.Role == ports.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content.PlainText()))
			continue
		}
		if !m.Content.IsStructured() {
			msgs = append(msgs, openai.UserMessage(m.Content.Text))
			continue
		}

		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Content.Parts))
		for _, part := range m.Content.Parts {
			switch part.Type {
			case ports.PartText:
				parts = append(parts, openai.TextContentPart(part.Text))
			case ports.PartImage:
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: part.Image}))
			}
		}
		msgs = append(msgs, openai.UserMessage(parts))
	}
	return msgs
}

var _ ports.Provider = (*OpenAIProvider)(nil)
