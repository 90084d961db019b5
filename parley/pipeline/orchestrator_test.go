package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOrchestrator_AppendOrderFollowsAcceptedSends checks user/assistant pairs land in send order.
func TestOrchestrator_AppendOrderFollowsAcceptedSends(t *testing.T) {
	calls := 0
	backend := &stubBackend{open: func(ctx context.Context, req ports.Request) (<-chan ports.Delta, error) {
		calls++
		return replying(fmt.Sprintf("reply %d", calls))(ctx, req)
	}}
	o, notifier := newTestOrchestrator(t, backend, Unavailable())

	for i := 1; i <= 3; i++ {
		turn := sendText(t, o, fmt.Sprintf("question %d", i))
		assert.NoError(t, turn.Err())
		assert.Equal(t, TurnSettled, turn.State())
	}

	snap := o.Store().Snapshot()
	require.Len(t, snap, 6)
	for i := 0; i < 3; i++ {
		assert.Equal(t, RoleUser, snap[2*i].Role)
		assert.Equal(t, fmt.Sprintf("question %d", i+1), snap[2*i].Content)
		assert.Equal(t, RoleAssistant, snap[2*i+1].Role)
		assert.Equal(t, fmt.Sprintf("reply %d", i+1), snap[2*i+1].Content)
	}

	// The third request carried the first two exchanges as plain history.
	req := backend.lastRequest()
	require.Len(t, req.Messages, 5)
	assert.Equal(t, "reply 2", req.Messages[3].Content.Text)
	assert.Empty(t, notifier.texts())
}

// TestOrchestrator_ChunkingIsIdempotent checks final content is independent of delta boundaries.
func TestOrchestrator_ChunkingIsIdempotent(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
	}{
		{name: "single delta", deltas: []string{"hello world"}},
		{name: "five deltas", deltas: []string{"he", "llo", " ", "wor", "ld"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t, &stubBackend{open: replying(tt.deltas...)}, Unavailable())

			turn := sendText(t, o, "greet")

			msg, ok := o.Store().Get(turn.AssistantMessageID())
			require.True(t, ok)
			assert.Equal(t, "hello world", msg.Content)
		})
	}
}

func TestOrchestrator_EmptySendIsNoop(t *testing.T) {
	backend := &stubBackend{open: replying("unused")}
	o, notifier := newTestOrchestrator(t, backend, Unavailable())

	for _, draft := range []string{"", "   \n"} {
		o.SetDraft(draft)
		turn, err := o.Send()

		assert.Nil(t, turn)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, ReasonEmptyTurn, verr.Reason)
	}

	assert.Zero(t, o.Store().Len())
	assert.Empty(t, backend.requests)
	assert.Empty(t, notifier.texts())
}

// TestOrchestrator_RejectsSecondSendWhileStreaming checks at most one turn is in flight.
func TestOrchestrator_RejectsSecondSendWhileStreaming(t *testing.T) {
	stream := make(chan ports.Delta)
	backend := &stubBackend{open: func(context.Context, ports.Request) (<-chan ports.Delta, error) {
		return stream, nil
	}}
	o, notifier := newTestOrchestrator(t, backend, Unavailable())

	o.SetDraft("first")
	first, err := o.Send()
	require.NoError(t, err)

	stream <- ports.Delta{Text: "par"}
	assert.Eventually(t, func() bool { return first.State() == TurnStreaming }, time.Second, 5*time.Millisecond)

	o.SetDraft("second")
	second, err := o.Send()
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.Equal(t, "second", o.Pending().Draft)

	close(stream)
	waitSettled(t, first)

	require.Equal(t, 2, o.Store().Len())
	assert.Empty(t, notifier.texts())

	// Once settled, the retained draft can go out.
	backend.open = replying("ok")
	third := sendText(t, o, "second")
	assert.NoError(t, third.Err())
	assert.Equal(t, 4, o.Store().Len())
}

// TestOrchestrator_ImageAttachmentRequest checks the newest entry is structured and history is text only.
func TestOrchestrator_ImageAttachmentRequest(t *testing.T) {
	backend := &stubBackend{open: replying("a red dot")}
	o, _ := newTestOrchestrator(t, backend, Unavailable())

	sendText(t, o, "hi")

	file := &memFile{name: "dot.png", mediaType: "image/png", data: pngBytes(t, 1, 1)}
	require.NoError(t, o.SelectFile(file))
	o.SetDraft("what is this?")

	turn, err := o.Send()
	require.NoError(t, err)
	waitSettled(t, turn)
	require.NoError(t, turn.Err())

	req := backend.lastRequest()
	require.Len(t, req.Messages, 3)
	for _, prior := range req.Messages[:2] {
		assert.False(t, prior.Content.IsStructured())
	}

	newest := req.Messages[2].Content
	require.Len(t, newest.Parts, 2)
	assert.Equal(t, "what is this?", newest.Parts[0].Text)
	assert.Equal(t, ports.PartImage, newest.Parts[1].Type)
	assert.Contains(t, newest.Parts[1].Image, "data:image/png;base64,")

	user, ok := o.Store().Get(turn.UserMessageID())
	require.True(t, ok)
	require.NotNil(t, user.Attachment)
	assert.Equal(t, "dot.png", user.Attachment.DisplayName)
	assert.Equal(t, MediaImage, user.Attachment.MediaKind)

	pending := o.Pending()
	assert.Empty(t, pending.Draft)
	assert.Nil(t, pending.File)
}

func TestOrchestrator_AttachmentOnlyUsesDefaultText(t *testing.T) {
	backend := &stubBackend{open: replying("seen")}
	o, _ := newTestOrchestrator(t, backend, Unavailable())

	require.NoError(t, o.SelectFile(&memFile{name: "report.pdf", mediaType: "application/pdf", data: []byte("%PDF")}))
	turn, err := o.Send()
	require.NoError(t, err)
	waitSettled(t, turn)

	user, _ := o.Store().Get(turn.UserMessageID())
	assert.Equal(t, "Attached file", user.Content)
	assert.Equal(t, "Attached file\n[File attached: report.pdf]", backend.lastRequest().Messages[0].Content.Text)
}

// TestOrchestrator_OversizedFileRejectedAtSelection checks the encoder is never reached.
func TestOrchestrator_OversizedFileRejectedAtSelection(t *testing.T) {
	o, notifier := newTestOrchestrator(t, &stubBackend{open: replying()}, Unavailable())

	file := &memFile{name: "huge.png", mediaType: "image/png", size: 10<<20 + 1}
	err := o.SelectFile(file)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonFileTooLarge, verr.Reason)
	assert.Zero(t, file.opens.Load())

	pending := o.Pending()
	assert.Nil(t, pending.File)
	assert.Empty(t, pending.Draft)
	assert.Equal(t, []string{"Please select a file smaller than 10MB."}, notifier.texts())
}

// TestOrchestrator_BackendErrorKeepsUserMessage covers a 500 with a server message.
func TestOrchestrator_BackendErrorKeepsUserMessage(t *testing.T) {
	backend := &stubBackend{open: func(context.Context, ports.Request) (<-chan ports.Delta, error) {
		return nil, &BackendRequestError{StatusCode: 500, Message: "quota exceeded"}
	}}
	o, notifier := newTestOrchestrator(t, backend, Unavailable())

	turn := sendText(t, o, "hello?")

	var berr *BackendRequestError
	require.ErrorAs(t, turn.Err(), &berr)
	assert.Equal(t, 500, berr.StatusCode)

	snap := o.Store().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, RoleUser, snap[0].Role)
	assert.Equal(t, "hello?", snap[0].Content)
	assert.Empty(t, turn.AssistantMessageID())

	assert.Equal(t, []string{"quota exceeded"}, notifier.texts())
}

// TestOrchestrator_InterruptedStreamKeepsPartial checks partial content survives a transport failure.
func TestOrchestrator_InterruptedStreamKeepsPartial(t *testing.T) {
	backend := &stubBackend{open: func(context.Context, ports.Request) (<-chan ports.Delta, error) {
		ch := make(chan ports.Delta, 3)
		ch <- ports.Delta{Text: "Hel"}
		ch <- ports.Delta{Text: "lo"}
		ch <- ports.Delta{Err: &StreamInterruptedError{Err: errors.New("connection reset")}}
		close(ch)
		return ch, nil
	}}
	o, notifier := newTestOrchestrator(t, backend, Unavailable())

	turn := sendText(t, o, "say hello")

	assert.Equal(t, TurnSettled, turn.State())
	var serr *StreamInterruptedError
	require.ErrorAs(t, turn.Err(), &serr)

	msg, ok := o.Store().Get(turn.AssistantMessageID())
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, []string{"The response was interrupted."}, notifier.texts())
}

// TestOrchestrator_EncoderFailurePreservesInput checks a read failure mutates nothing.
func TestOrchestrator_EncoderFailurePreservesInput(t *testing.T) {
	backend := &stubBackend{open: replying("unused")}
	o, notifier := newTestOrchestrator(t, backend, Unavailable())

	file := &memFile{name: "notes.txt", mediaType: "text/plain", data: []byte("x"), openErr: errDiskGone}
	require.NoError(t, o.SelectFile(file))
	o.SetDraft("read this")

	turn, err := o.Send()
	require.NoError(t, err)
	waitSettled(t, turn)

	var readErr *AttachmentReadError
	require.ErrorAs(t, turn.Err(), &readErr)

	assert.Zero(t, o.Store().Len())
	assert.Empty(t, backend.requests)

	pending := o.Pending()
	assert.Equal(t, "read this", pending.Draft)
	assert.Same(t, file, pending.File)
	assert.Equal(t, []string{"Failed to process file"}, notifier.texts())
	assert.Nil(t, o.Active())
}

// TestOrchestrator_CloseStopsFolding checks no mutation is observable after Close.
func TestOrchestrator_CloseStopsFolding(t *testing.T) {
	stream := make(chan ports.Delta)
	backend := &stubBackend{open: func(context.Context, ports.Request) (<-chan ports.Delta, error) {
		return stream, nil
	}}
	o, notifier := newTestOrchestrator(t, backend, Unavailable())

	require.NoError(t, o.SelectFile(&memFile{name: "dot.png", mediaType: "image/png", data: pngBytes(t, 1, 1)}))
	o.SetDraft("describe")
	turn, err := o.Send()
	require.NoError(t, err)

	stream <- ports.Delta{Text: "A red"}
	assert.Eventually(t, func() bool {
		msg, ok := o.Store().Get(turn.AssistantMessageID())
		return ok && msg.Content == "A red"
	}, time.Second, 5*time.Millisecond)

	o.Close()
	waitSettled(t, turn)

	select {
	case stream <- ports.Delta{Text: " dot"}:
		t.Fatal("delta consumed after close")
	case <-time.After(50 * time.Millisecond):
	}

	msg, _ := o.Store().Get(turn.AssistantMessageID())
	assert.Equal(t, "A red", msg.Content)
	assert.Zero(t, o.Previews().Outstanding())
	assert.Empty(t, notifier.texts())

	_, err = o.Send()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOrchestrator_ParentContextCancelsView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := make(chan ports.Delta)

	ids := &SequenceGenerator{}
	previews := NewPreviewRegistry(ids)
	o := NewOrchestrator(ctx, Dependencies{
		Store:    NewConversationStore(),
		Previews: previews,
		Encoder:  NewAttachmentEncoder(previews, testLogger()),
		Accept:   NewAcceptPolicy(10<<20, nil),
		Backend: &stubBackend{open: func(context.Context, ports.Request) (<-chan ports.Delta, error) {
			return stream, nil
		}},
		Notifier: &recordingNotifier{},
		Tracer:   NoopTracer{},
		IDs:      ids,
		Speech:   Unavailable(),
	}, testLogger())

	o.SetDraft("hi")
	turn, err := o.Send()
	require.NoError(t, err)

	cancel()
	waitSettled(t, turn)

	assert.Eventually(t, func() bool {
		_, err := o.Send()
		return errors.Is(err, ErrClosed)
	}, time.Second, 5*time.Millisecond)
}

func BenchmarkOrchestrator_Turn(b *testing.B) {
	ids := &SequenceGenerator{}
	previews := NewPreviewRegistry(ids)
	o := NewOrchestrator(context.Background(), Dependencies{
		Store:    NewConversationStore(),
		Previews: previews,
		Encoder:  NewAttachmentEncoder(previews, testLogger()),
		Accept:   NewAcceptPolicy(10<<20, nil),
		Backend:  &stubBackend{open: replying("a", "b", "c", "d")},
		Notifier: &recordingNotifier{},
		Tracer:   NoopTracer{},
		IDs:      ids,
		Speech:   Unavailable(),
	}, testLogger())
	defer o.Close()

	for b.Loop() {
		o.SetDraft("bench")
		turn, err := o.Send()
		if err != nil {
			b.Fatal(err)
		}
		<-turn.Done()
	}
}

func TestOrchestrator_TrimsDraft(t *testing.T) {
	backend := &stubBackend{open: replying("ok")}
	o, _ := newTestOrchestrator(t, backend, Unavailable())

	sendText(t, o, "  hi \n")

	snap := o.Store().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "hi", snap[0].Content)
	assert.Equal(t, "hi", backend.lastRequest().Messages[0].Content.Text)
}

// TestOrchestrator_TurnContextEndsWithTurn checks the backend call's context
// is cancelled once the turn settles, whatever ended the fold.
func TestOrchestrator_TurnContextEndsWithTurn(t *testing.T) {
	tests := []struct {
		name   string
		deltas []ports.Delta
	}{
		{name: "completed", deltas: []ports.Delta{{Text: "done"}}},
		{name: "interrupted", deltas: []ports.Delta{{Text: "Hel"}, {Err: errors.New("reset")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened := make(chan context.Context, 1)
			backend := &stubBackend{open: func(ctx context.Context, _ ports.Request) (<-chan ports.Delta, error) {
				opened <- ctx
				ch := make(chan ports.Delta, len(tt.deltas))
				for _, d := range tt.deltas {
					ch <- d
				}
				close(ch)
				return ch, nil
			}}
			o, _ := newTestOrchestrator(t, backend, Unavailable())

			sendText(t, o, "hi")

			ctx := <-opened
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
				t.Fatal("backend context still live after the turn settled")
			}

			_, err := o.Send()
			assert.ErrorIs(t, err, ErrEmptyTurn, "orchestrator stays open")
		})
	}
}
