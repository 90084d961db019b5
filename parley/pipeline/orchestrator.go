package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	internal "github.com/ZanzyTHEbar/parley/parley"
	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// errTurnCancelled ends a turn whose orchestrator went away mid-flight.
var errTurnCancelled = errors.New("turn cancelled")

// PendingInput is the not-yet-sent user input.
type PendingInput struct {
	Draft     string
	File      AttachmentFile
	Dictating bool
}

// Dependencies are the collaborators an Orchestrator is built from.
type Dependencies struct {
	Store    *ConversationStore
	Previews *PreviewRegistry
	Encoder  *AttachmentEncoder
	Accept   *AcceptPolicy
	Backend  ports.Backend
	Notifier ports.Notifier
	Tracer   ports.Tracer
	IDs      IDGenerator
	Speech   SpeechCapability
}

// Orchestrator coordinates sends for one conversation view. All store
// mutation it performs happens under its mutex, and every resumption after a
// suspension point re-checks that the turn is still the active one.
type Orchestrator struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	draft    string
	file     AttachmentFile
	active   *Turn
	displays []string // preview locators owned by messages in the store

	store     *ConversationStore
	previews  *PreviewRegistry
	encoder   *AttachmentEncoder
	accept    *AcceptPolicy
	composer  Composer
	backend   ports.Backend
	notifier  ports.Notifier
	tracer    ports.Tracer
	ids       IDGenerator
	dictation *DictationBridge
	logger    zerolog.Logger

	wg        conc.WaitGroup
	closeOnce sync.Once
}

// NewOrchestrator creates an orchestrator bound to ctx. Cancelling ctx has
// the same effect as Close.
func NewOrchestrator(ctx context.Context, deps Dependencies, logger zerolog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(ctx)

	o := &Orchestrator{
		ctx:      ctx,
		cancel:   cancel,
		store:    deps.Store,
		previews: deps.Previews,
		encoder:  deps.Encoder,
		accept:   deps.Accept,
		backend:  deps.Backend,
		notifier: deps.Notifier,
		tracer:   deps.Tracer,
		ids:      deps.IDs,
		logger:   logger,
	}
	o.dictation = NewDictationBridge(deps.Speech, o.SetDraft, deps.Notifier, logger.With().Str("component", "dictation").Logger())

	go func() {
		<-ctx.Done()
		o.Close()
	}()

	return o
}

// Store returns the conversation history.
func (o *Orchestrator) Store() *ConversationStore {
	return o.store
}

// Previews returns the registry holding attachment previews.
func (o *Orchestrator) Previews() *PreviewRegistry {
	return o.previews
}

// Dictation returns the dictation bridge feeding the draft.
func (o *Orchestrator) Dictation() *DictationBridge {
	return o.dictation
}

// MaxAttachmentBytes is the largest file SelectFile accepts.
func (o *Orchestrator) MaxAttachmentBytes() int64 {
	return o.accept.MaxBytes()
}

// Pending returns a copy of the pending input.
func (o *Orchestrator) Pending() PendingInput {
	o.mu.Lock()
	p := PendingInput{Draft: o.draft, File: o.file}
	o.mu.Unlock()

	p.Dictating = o.dictation.State() == DictationListening
	return p
}

// Active returns the in-flight turn, or nil.
func (o *Orchestrator) Active() *Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// SetDraft replaces the draft text.
func (o *Orchestrator) SetDraft(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.draft = text
}

// SelectFile sets the pending attachment. Oversized and unsupported files are
// rejected here with a *ValidationError and never reach the encoder.
func (o *Orchestrator) SelectFile(f AttachmentFile) error {
	if err := o.accept.Check(f); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			text := textFileUnsupported
			title := "Unsupported file"
			if verr.Reason == ReasonFileTooLarge {
				text, title = textFileTooLarge, "File too large"
			}
			o.notifier.Notify(ports.Notice{Level: ports.NoticeError, Title: title, Text: text})
		}
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.file = f
	return nil
}

// ClearFile drops the pending attachment.
func (o *Orchestrator) ClearFile() {
	o.mu.Lock()
	o.file = nil
	o.mu.Unlock()
}

// StartDictation begins mirroring speech into the draft.
func (o *Orchestrator) StartDictation() error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrClosed
	}

	err := o.dictation.Start(o.ctx)
	var unsupported *UnsupportedCapabilityError
	if errors.As(err, &unsupported) {
		o.notifier.Notify(ports.Notice{Level: ports.NoticeInfo, Title: "Not supported", Text: textSpeechUnsupported})
	}
	return err
}

// StopDictation stops mirroring speech. Safe to call when idle.
func (o *Orchestrator) StopDictation() {
	o.dictation.Stop()
}

// Send accepts the pending input as a new turn and runs it in the background.
// Empty input and sends while another turn is in flight are rejected with a
// *ValidationError and leave all state untouched.
func (o *Orchestrator) Send() (*Turn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}
	if strings.TrimSpace(o.draft) == "" && o.file == nil {
		return nil, ErrEmptyTurn
	}
	if o.active != nil {
		return nil, ErrTurnInFlight
	}

	turn := newTurn(o.ids.NewID())
	turn.advance(TurnSending)
	o.active = turn

	draft, file := o.draft, o.file
	o.wg.Go(func() {
		o.runTurn(turn, draft, file)
	})

	return turn, nil
}

// Close cancels the view: in-flight turns stop folding, dictation stops and
// every preview owned by displayed messages is released. No store mutation
// happens after Close returns.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.cancel()
		o.dictation.Stop()

		if r := o.wg.WaitAndRecover(); r != nil {
			o.logger.Error().Str("panic", r.String()).Msg("Turn goroutine panicked")
		}

		o.mu.Lock()
		displays := o.displays
		o.displays = nil
		o.mu.Unlock()

		for _, loc := range displays {
			o.previews.Release(loc)
		}
		o.logger.Debug().Int("released_previews", len(displays)).Msg("Orchestrator closed")
	})
}

func (o *Orchestrator) runTurn(turn *Turn, draft string, file AttachmentFile) {
	// The turn's context ends with the turn, releasing any backend stream it
	// stopped reading.
	turnCtx, cancel := context.WithCancel(o.ctx)
	defer cancel()

	ctx, finish := o.tracer.StartSpan(turnCtx, "turn", map[string]any{
		"turn_id":        turn.ID,
		"has_attachment": file != nil,
	})

	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() {
		err = o.executeTurn(ctx, turn, draft, file)
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
		o.logger.Error().Str("turn_id", turn.ID).Str("panic", r.String()).Msg("Turn panicked")
	}

	o.settle(turn, err)
	finish(err)
}

// executeTurn walks sending -> streaming. Errors returned here settle the turn.
func (o *Orchestrator) executeTurn(ctx context.Context, turn *Turn, draft string, file AttachmentFile) error {
	var att *EncodedAttachment
	if file != nil {
		encoded, err := o.encoder.Encode(ctx, file)
		if err != nil {
			return err
		}
		att = encoded
		o.tracer.Event(ctx, "attachment_encoded", map[string]any{"kind": string(att.Ref.MediaKind)})
	}

	text := strings.TrimSpace(draft)
	if text == "" {
		text = internal.DefaultAttachmentText
	}

	o.mu.Lock()
	if !o.liveLocked(turn) {
		o.mu.Unlock()
		if att != nil {
			o.previews.Release(att.Ref.PreviewLocator)
		}
		return errTurnCancelled
	}

	// Accepted: only clear what this send consumed, keystrokes typed while
	// encoding survive.
	if o.draft == draft {
		o.draft = ""
	}
	if o.file == file {
		o.file = nil
	}

	req := ports.Request{Messages: o.composer.Compose(o.store.Snapshot(), text, att)}

	user := Message{ID: o.ids.NewID(), Role: RoleUser, Content: text}
	if att != nil {
		ref := att.Ref
		user.Attachment = &ref
		o.displays = append(o.displays, ref.PreviewLocator)
	}
	if err := o.store.Append(user); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("append user message: %w", err)
	}
	turn.setUser(user.ID)
	o.mu.Unlock()

	stream, err := o.backend.Open(ctx, req)
	if err != nil {
		return err
	}

	assistantID := o.ids.NewID()

	o.mu.Lock()
	if !o.liveLocked(turn) {
		o.mu.Unlock()
		return errTurnCancelled
	}
	if err := o.store.Append(Message{ID: assistantID, Role: RoleAssistant}); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("append assistant message: %w", err)
	}
	turn.setAssistant(assistantID)
	o.mu.Unlock()

	o.tracer.Event(ctx, "stream_opened", map[string]any{"assistant_id": assistantID})

	return o.fold(ctx, turn, assistantID, stream)
}

// fold applies deltas in arrival order to the reserved assistant message.
func (o *Orchestrator) fold(ctx context.Context, turn *Turn, id string, stream <-chan ports.Delta) error {
	var (
		content strings.Builder
		deltas  int
	)

	for {
		select {
		case <-ctx.Done():
			return errTurnCancelled
		case d, ok := <-stream:
			if !ok {
				o.tracer.Event(ctx, "stream_completed", map[string]any{"deltas": deltas, "bytes": content.Len()})
				return nil
			}
			if d.Err != nil {
				var interrupted *StreamInterruptedError
				if errors.As(d.Err, &interrupted) {
					return d.Err
				}
				return &StreamInterruptedError{Err: d.Err}
			}

			content.WriteString(d.Text)
			deltas++

			o.mu.Lock()
			if !o.liveLocked(turn) {
				o.mu.Unlock()
				return errTurnCancelled
			}
			err := o.store.UpdateContent(id, content.String())
			o.mu.Unlock()
			if err != nil {
				return fmt.Errorf("fold delta: %w", err)
			}
		}
	}
}

func (o *Orchestrator) liveLocked(turn *Turn) bool {
	return !o.closed && o.active == turn
}

func (o *Orchestrator) settle(turn *Turn, err error) {
	o.mu.Lock()
	if o.active == turn {
		o.active = nil
	}
	closed := o.closed
	o.mu.Unlock()

	cancelled := errors.Is(err, errTurnCancelled) || errors.Is(err, context.Canceled)
	if cancelled {
		err = errTurnCancelled
	}
	turn.settle(err)

	switch {
	case err == nil:
		o.logger.Debug().Str("turn_id", turn.ID).Msg("Turn settled")
	case cancelled:
		o.logger.Debug().Str("turn_id", turn.ID).Msg("Turn cancelled")
	default:
		o.logger.Warn().Err(err).Str("turn_id", turn.ID).Msg("Turn failed")
		if !closed {
			o.notifier.Notify(noticeFor(err))
		}
	}
}
