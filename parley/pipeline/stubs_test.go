package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// memFile implements AttachmentFile over an in-memory buffer.
type memFile struct {
	name      string
	mediaType string
	data      []byte
	size      int64 // overrides len(data) when non-zero
	openErr   error
	opens     atomic.Int32
}

func (f *memFile) Name() string      { return f.name }
func (f *memFile) MediaType() string { return f.mediaType }
func (f *memFile) Size() int64 {
	if f.size != 0 {
		return f.size
	}
	return int64(len(f.data))
}
func (f *memFile) Open() (io.ReadCloser, error) {
	f.opens.Add(1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func pngBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// stubBackend records every request and delegates the response to open.
type stubBackend struct {
	mu       sync.Mutex
	requests []ports.Request
	open     func(ctx context.Context, req ports.Request) (<-chan ports.Delta, error)
}

func (b *stubBackend) Open(ctx context.Context, req ports.Request) (<-chan ports.Delta, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	return b.open(ctx, req)
}

func (b *stubBackend) lastRequest() ports.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

// replying returns an open func streaming the given deltas and then closing.
func replying(parts ...string) func(context.Context, ports.Request) (<-chan ports.Delta, error) {
	return func(context.Context, ports.Request) (<-chan ports.Delta, error) {
		ch := make(chan ports.Delta, len(parts))
		for _, p := range parts {
			ch <- ports.Delta{Text: p}
		}
		close(ch)
		return ch, nil
	}
}

// recordingNotifier keeps every notice it receives.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []ports.Notice
}

func (n *recordingNotifier) Notify(notice ports.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *recordingNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.notices))
	for i, notice := range n.notices {
		out[i] = notice.Text
	}
	return out
}

// stubRecognizer hands out a channel the test drives directly.
type stubRecognizer struct {
	mu      sync.Mutex
	events  chan ports.TranscriptEvent
	stops   int
	closed  bool
	startFn func() error
}

func (r *stubRecognizer) Start(ctx context.Context) (<-chan ports.TranscriptEvent, error) {
	if r.startFn != nil {
		if err := r.startFn(); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(chan ports.TranscriptEvent)
	r.closed = false
	return r.events, nil
}

func (r *stubRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	if r.events != nil && !r.closed {
		close(r.events)
		r.closed = true
	}
	return nil
}

// end closes the event channel the way an engine finishing on its own does.
func (r *stubRecognizer) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events != nil && !r.closed {
		close(r.events)
		r.closed = true
	}
}

func (r *stubRecognizer) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// emit delivers one event, failing the test if the bridge stops reading.
func (r *stubRecognizer) emit(t *testing.T, ev ports.TranscriptEvent) {
	t.Helper()
	r.mu.Lock()
	ch := r.events
	r.mu.Unlock()
	select {
	case ch <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer event was not consumed")
	}
}

func newTestOrchestrator(t *testing.T, backend ports.Backend, speech SpeechCapability) (*Orchestrator, *recordingNotifier) {
	t.Helper()

	ids := &SequenceGenerator{Prefix: "id-"}
	previews := NewPreviewRegistry(ids)
	notifier := &recordingNotifier{}

	o := NewOrchestrator(context.Background(), Dependencies{
		Store:    NewConversationStore(),
		Previews: previews,
		Encoder:  NewAttachmentEncoder(previews, zerolog.Nop()),
		Accept:   NewAcceptPolicy(10<<20, []string{"*.pdf", "*.doc", "*.docx", "*.txt"}),
		Backend:  backend,
		Notifier: notifier,
		Tracer:   NoopTracer{},
		IDs:      ids,
		Speech:   speech,
	}, zerolog.Nop())
	t.Cleanup(o.Close)

	return o, notifier
}

func waitSettled(t *testing.T, turn *Turn) {
	t.Helper()
	select {
	case <-turn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("turn %s did not settle, state %s", turn.ID, turn.State())
	}
}

func sendText(t *testing.T, o *Orchestrator, text string) *Turn {
	t.Helper()
	o.SetDraft(text)
	turn, err := o.Send()
	require.NoError(t, err)
	waitSettled(t, turn)
	return turn
}

var errDiskGone = errors.New("disk gone")
