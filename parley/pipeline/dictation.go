package pipeline

import (
	"context"
	"sync"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
)

// DictationState is the bridge's two-state machine.
type DictationState int

const (
	DictationIdle DictationState = iota
	DictationListening
)

func (s DictationState) String() string {
	if s == DictationListening {
		return "listening"
	}
	return "idle"
}

// DictationBridge mirrors recognizer transcripts into the pending draft.
// Each transcript replaces the draft; nothing is accumulated here.
type DictationBridge struct {
	mu         sync.Mutex
	capability SpeechCapability
	sink       func(draft string)
	notifier   ports.Notifier
	logger     zerolog.Logger

	state  DictationState
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDictationBridge creates an idle bridge delivering transcripts to sink.
func NewDictationBridge(capability SpeechCapability, sink func(string), notifier ports.Notifier, logger zerolog.Logger) *DictationBridge {
	return &DictationBridge{
		capability: capability,
		sink:       sink,
		notifier:   notifier,
		logger:     logger,
	}
}

// State returns the current state.
func (b *DictationBridge) State() DictationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Supported reports whether Start can ever succeed.
func (b *DictationBridge) Supported() bool {
	_, ok := b.capability.Resolve()
	return ok
}

// Start moves idle -> listening. It returns *UnsupportedCapabilityError without
// changing state when no recognizer exists, and is a no-op while listening.
func (b *DictationBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == DictationListening {
		return nil
	}

	rec, ok := b.capability.Resolve()
	if !ok {
		return &UnsupportedCapabilityError{Capability: "speech recognition"}
	}

	runCtx, cancel := context.WithCancel(ctx)
	events, err := rec.Start(runCtx)
	if err != nil {
		cancel()
		b.logger.Error().Err(err).Msg("Failed to start recognizer")
		b.notifier.Notify(ports.Notice{Level: ports.NoticeError, Title: "Error", Text: textSpeechFailed})
		return err
	}

	b.gen++
	b.state = DictationListening
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.pump(b.gen, events, b.done)

	b.logger.Debug().Uint64("session", b.gen).Msg("Dictation started")
	return nil
}

// Stop moves listening -> idle and is idempotent. Once Stop returns, the sink
// is not called again for the stopped session.
func (b *DictationBridge) Stop() {
	b.mu.Lock()
	done := b.done
	if b.state == DictationListening {
		b.state = DictationIdle
		b.cancel()
		if rec, ok := b.capability.Resolve(); ok {
			if err := rec.Stop(); err != nil {
				b.logger.Warn().Err(err).Msg("Recognizer stop failed")
			}
		}
		b.logger.Debug().Uint64("session", b.gen).Msg("Dictation stopped")
	}
	b.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (b *DictationBridge) pump(gen uint64, events <-chan ports.TranscriptEvent, done chan struct{}) {
	defer close(done)

	for ev := range events {
		if ev.Err != nil {
			b.fail(gen, ev)
			return
		}
		if !b.live(gen) {
			continue
		}
		b.sink(ev.Transcript)
	}

	// The engine ended the session on its own.
	b.mu.Lock()
	if b.gen == gen && b.state == DictationListening {
		b.state = DictationIdle
		b.cancel()
		if rec, ok := b.capability.Resolve(); ok {
			if err := rec.Stop(); err != nil {
				b.logger.Warn().Err(err).Msg("Recognizer stop failed")
			}
		}
		b.logger.Debug().Uint64("session", gen).Msg("Dictation ended by recognizer")
	}
	b.mu.Unlock()
}

func (b *DictationBridge) live(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == gen && b.state == DictationListening
}

func (b *DictationBridge) fail(gen uint64, ev ports.TranscriptEvent) {
	b.mu.Lock()
	if b.gen != gen || b.state != DictationListening {
		b.mu.Unlock()
		return
	}
	b.state = DictationIdle
	b.cancel()
	if rec, ok := b.capability.Resolve(); ok {
		_ = rec.Stop()
	}
	b.mu.Unlock()

	b.logger.Error().Err(ev.Err).Msg("Speech recognition error")
	b.notifier.Notify(ports.Notice{Level: ports.NoticeError, Title: "Error", Text: textSpeechFailed})
}
