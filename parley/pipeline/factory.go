package pipeline

import (
	"context"
	"net/http"

	internal "github.com/ZanzyTHEbar/parley/parley"
	"github.com/ZanzyTHEbar/parley/parley/config"
	"github.com/ZanzyTHEbar/parley/parley/pipeline/adapters"
	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
)

// Factory creates and wires pipeline components from configuration.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// NewFactory creates a new pipeline factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateBackend creates the HTTP stream consumer pointed at the relay.
// token supplies the session bearer token and may be nil.
func (f *Factory) CreateBackend(token func() string) ports.Backend {
	return adapters.NewHTTPBackend(
		f.cfg.Backend.URL,
		&http.Client{},
		f.cfg.Backend.OpenTimeout,
		token,
		f.logger.With().Str("component", "backend").Logger(),
	)
}

// ResolveSpeech decides once whether dictation is available.
func (f *Factory) ResolveSpeech() SpeechCapability {
	if f.cfg.Speech.Endpoint == "" {
		f.logger.Debug().Msg("No speech endpoint configured, dictation unavailable")
		return Unavailable()
	}
	return Available(adapters.NewWebSocketRecognizer(
		f.cfg.Speech.Endpoint,
		f.cfg.Speech.Language,
		f.logger.With().Str("component", "speech").Logger(),
	))
}

// CreateOrchestrator wires a fresh conversation view. A nil notifier logs notices.
func (f *Factory) CreateOrchestrator(ctx context.Context, backend ports.Backend, speech SpeechCapability, notifier ports.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = adapters.NewLogNotifier(f.logger)
	}

	ids := UUIDGenerator{}
	previews := NewPreviewRegistry(ids)
	maxBytes := f.cfg.Attachments.MaxBytes
	if maxBytes <= 0 {
		maxBytes = internal.MaxAttachmentBytes
		f.logger.Warn().Int64("max_bytes", f.cfg.Attachments.MaxBytes).Msg("Attachment ceiling clamped to default")
	}

	return NewOrchestrator(ctx, Dependencies{
		Store:    NewConversationStore(),
		Previews: previews,
		Encoder:  NewAttachmentEncoder(previews, f.logger.With().Str("component", "encoder").Logger()),
		Accept:   NewAcceptPolicy(maxBytes, f.cfg.Attachments.Accept),
		Backend:  backend,
		Notifier: notifier,
		Tracer:   f.createTracer(),
		IDs:      ids,
		Speech:   speech,
	}, f.logger.With().Str("component", "orchestrator").Logger())
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Pipeline.EnableTracing {
		return NoopTracer{}
	}
	return adapters.NewZerologTracer(f.logger.With().Str("component", "trace").Logger())
}

// NoopTracer implements Tracer with no-op behavior.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (NoopTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var _ ports.Tracer = NoopTracer{}
