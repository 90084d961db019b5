package pipelineports

import "context"

// PromptInput aggregates everything an upstream model needs to produce a reply.
type PromptInput struct {
	System   string            // system instructions
	Messages []OutgoingMessage // ordered chat history including the newest turn
	Meta     map[string]string // lightweight metadata for tracing
}

// Options controls sampling and limits.
type Options struct {
	Model        string
	MaxNewTokens int
	Temperature  float32
}

// CompletionChunk is an upstream streaming delta. Err is set on the final
// chunk when the upstream fails mid-stream.
type CompletionChunk struct {
	DeltaText string
	Done      bool
	Err       error
}

// Provider is the abstraction over upstream text-generation services.
type Provider interface {
	Name() string
	Stream(ctx context.Context, in PromptInput, opts Options) (<-chan CompletionChunk, error)
}
