package view

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/parley/parley/config"
	"github.com/ZanzyTHEbar/parley/parley/pipeline"
	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/ZanzyTHEbar/parley/parley/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the renderer and notifier goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// scriptReader replays lines and passwords, then reports end of input.
type scriptReader struct {
	lines     []string
	passwords []string
	prompts   []string
}

func (r *scriptReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptReader) ReadPassword(prompt string) ([]byte, error) {
	r.prompts = append(r.prompts, prompt)
	if len(r.passwords) == 0 {
		return nil, io.EOF
	}
	pw := r.passwords[0]
	r.passwords = r.passwords[1:]
	return []byte(pw), nil
}

func (r *scriptReader) SetPrompt(prompt string) {
	r.prompts = append(r.prompts, prompt)
}

type recordingBackend struct {
	mu       sync.Mutex
	requests []ports.Request
	reply    []string
}

func (b *recordingBackend) Open(ctx context.Context, req ports.Request) (<-chan ports.Delta, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	out := make(chan ports.Delta, len(b.reply))
	for _, r := range b.reply {
		out <- ports.Delta{Text: r}
	}
	close(out)
	return out, nil
}

func (b *recordingBackend) sent() []ports.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ports.Request(nil), b.requests...)
}

type fakeProfile struct {
	user      session.User
	loggedOut bool
}

func (p *fakeProfile) CurrentUser() (session.User, bool) { return p.user, !p.loggedOut }

func (p *fakeProfile) UpdateProfile(_ context.Context, u session.ProfileUpdate) (session.User, error) {
	if u.Name != nil {
		if *u.Name == "" {
			return session.User{}, errors.New("name must not be empty")
		}
		p.user.Name = *u.Name
	}
	if u.ProfilePicture != nil {
		p.user.ProfilePicture = *u.ProfilePicture
	}
	return p.user, nil
}

func (p *fakeProfile) Logout(context.Context) error {
	if p.loggedOut {
		return session.ErrNoSession
	}
	p.loggedOut = true
	return nil
}

type fakeAuth struct {
	attempts int
}

func (a *fakeAuth) Login(_ context.Context, email, password string) (session.User, error) {
	a.attempts++
	if email != "test@example.com" || password != "password123" {
		return session.User{}, session.ErrInvalidCredentials
	}
	return session.User{Email: email, Name: "Test User"}, nil
}

type harness struct {
	term    *Terminal
	in      *scriptReader
	out     *syncBuffer
	orch    *pipeline.Orchestrator
	backend *recordingBackend
	profile *fakeProfile
}

func newHarness(t *testing.T, reply []string, lines ...string) *harness {
	t.Helper()
	h := &harness{
		in:      &scriptReader{lines: lines},
		out:     &syncBuffer{},
		backend: &recordingBackend{reply: reply},
		profile: &fakeProfile{user: session.User{Email: "test@example.com", Name: "Test User"}},
	}
	h.term = NewTerminal(h.in, h.out, zerolog.Nop())

	cfg := &config.Config{Attachments: config.AttachmentConfig{
		MaxBytes: 1 << 20,
		Accept:   []string{"*.pdf", "*.doc", "*.docx", "*.txt"},
	}}
	h.orch = pipeline.NewFactory(cfg, zerolog.Nop()).
		CreateOrchestrator(context.Background(), h.backend, pipeline.Unavailable(), h.term.Notifier())
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) run(t *testing.T) error {
	t.Helper()
	return h.term.Chat(context.Background(), h.orch, h.profile)
}

func TestCommandTable_Resolve(t *testing.T) {
	table := defaultCommands()

	tests := []struct {
		line     string
		wantName string
		wantArgs []string
		wantErr  error
	}{
		{line: "/attach notes.txt", wantName: "attach", wantArgs: []string{"notes.txt"}},
		{line: "/at notes.txt", wantName: "attach", wantArgs: []string{"notes.txt"}},
		{line: "  /QUIT  ", wantName: "quit", wantArgs: []string{}},
		{line: "/p name Ada", wantName: "profile", wantArgs: []string{"name", "Ada"}},
		{line: "/st", wantName: "stop", wantArgs: []string{}},
		{line: "/zzz", wantErr: ErrUnknownCommand},
		{line: "/", wantErr: ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, args, err := table.Resolve(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, cmd.Name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCommandTable_AmbiguousPrefix(t *testing.T) {
	_, _, err := defaultCommands().Resolve("/d")

	var ambiguous *AmbiguousCommandError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{"/detach", "/dictate"}, ambiguous.Candidates)
}

func TestCommandTable_NamesSorted(t *testing.T) {
	assert.Equal(t,
		[]string{"/attach", "/detach", "/dictate", "/help", "/logout", "/profile", "/quit", "/stop"},
		defaultCommands().Names())
}

func TestRenderer_PrintsOnlyNewContent(t *testing.T) {
	out := &syncBuffer{}
	r := newRenderer(&console{w: out}, nil)

	user := pipeline.Message{ID: "u1", Role: pipeline.RoleUser, Content: "hi"}
	r.Render([]pipeline.Message{user})
	r.Render([]pipeline.Message{user, {ID: "a1", Role: pipeline.RoleAssistant}})
	r.Render([]pipeline.Message{user, {ID: "a1", Role: pipeline.RoleAssistant, Content: "Hel"}})
	r.Render([]pipeline.Message{user, {ID: "a1", Role: pipeline.RoleAssistant, Content: "Hello"}})
	r.Render([]pipeline.Message{user, {ID: "a1", Role: pipeline.RoleAssistant, Content: "Hello"}})
	r.Finish()

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "Hel"))
	assert.Equal(t, 1, strings.Count(got, "You"))
	assert.Equal(t, 1, strings.Count(got, "Assistant"))
	assert.Less(t, strings.Index(got, "hi"), strings.Index(got, "Assistant"))
	assert.True(t, strings.HasSuffix(got, "Hello\n"))
}

func TestRenderer_DescribesAttachment(t *testing.T) {
	out := &syncBuffer{}
	lookup := func(string) (pipeline.Preview, bool) {
		return pipeline.Preview{Size: 2048, Width: 640, Height: 480}, true
	}
	r := newRenderer(&console{w: out}, lookup)

	r.Render([]pipeline.Message{{
		ID: "u1", Role: pipeline.RoleUser, Content: "what is this?",
		Attachment: &pipeline.AttachmentRef{DisplayName: "cat.png", MediaKind: pipeline.MediaImage, PreviewLocator: "preview:1"},
	}})

	assert.Contains(t, out.String(), "[image: cat.png] (2.0 KB, 640x480)")
}

func TestNotifier_PrintsNotice(t *testing.T) {
	out := &syncBuffer{}
	n := &Notifier{out: &console{w: out}}

	n.Notify(ports.Notice{Level: ports.NoticeError, Title: "Error", Text: "Failed to process file"})

	assert.Contains(t, out.String(), "Error")
	assert.Contains(t, out.String(), "Failed to process file")
}

func TestLogin_RetriesUntilSuccess(t *testing.T) {
	in := &scriptReader{
		lines:     []string{"", "test@example.com", "test@example.com"},
		passwords: []string{"wrong", "password123"},
	}
	out := &syncBuffer{}
	auth := &fakeAuth{}

	user, err := NewTerminal(in, out, zerolog.Nop()).Login(context.Background(), auth)

	require.NoError(t, err)
	assert.Equal(t, "Test User", user.Name)
	assert.Equal(t, 2, auth.attempts)
	assert.Contains(t, out.String(), "Invalid email or password.")
}

func TestLogin_EndOfInput(t *testing.T) {
	_, err := NewTerminal(&scriptReader{}, &syncBuffer{}, zerolog.Nop()).Login(context.Background(), &fakeAuth{})
	assert.ErrorIs(t, err, io.EOF)
}

func TestChat_StreamsReply(t *testing.T) {
	h := newHarness(t, []string{"Hi", " there"}, "hello", "/quit")

	require.NoError(t, h.run(t))

	got := h.out.String()
	assert.Contains(t, got, "signed in as Test User")
	assert.Contains(t, got, "hello")
	assert.Contains(t, got, "Hi there")

	msgs := h.orch.Store().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi there", msgs[1].Content)
}

func TestChat_EmptyLineWithoutDraftIsIgnored(t *testing.T) {
	h := newHarness(t, []string{"ok"}, "", "   ")

	require.NoError(t, h.run(t))

	assert.Empty(t, h.backend.sent())
	assert.Equal(t, 0, h.orch.Store().Len())
}

func TestChat_AttachThenSendEmptyLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0o644))

	h := newHarness(t, []string{"Noted."}, "/attach "+path, "")

	require.NoError(t, h.run(t))

	sent := h.backend.sent()
	require.Len(t, sent, 1)
	last := sent[0].Messages[len(sent[0].Messages)-1].Content.PlainText()
	assert.True(t, strings.HasPrefix(last, "Attached file"))
	assert.Contains(t, last, "remember the milk")
	assert.Contains(t, h.out.String(), "notes.txt")
	assert.Nil(t, h.orch.Pending().File)
}

func TestChat_DetachDropsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	h := newHarness(t, nil, "/attach "+path, "/detach", "")

	require.NoError(t, h.run(t))

	assert.Empty(t, h.backend.sent())
	assert.Contains(t, h.out.String(), "Attachment removed.")
}

func TestChat_UnsupportedFileNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool.exe")
	require.NoError(t, os.WriteFile(path, []byte{0x4d, 0x5a, 0x00, 0x01}, 0o644))

	h := newHarness(t, nil, "/attach "+path)

	require.NoError(t, h.run(t))

	assert.Contains(t, h.out.String(), "Please select an image, PDF, DOC, DOCX or TXT file.")
	assert.Nil(t, h.orch.Pending().File)
}

func TestChat_CommandErrorsAreHints(t *testing.T) {
	h := newHarness(t, nil, "/d", "/zzz", "/help")

	require.NoError(t, h.run(t))

	got := h.out.String()
	assert.Contains(t, got, "ambiguous")
	assert.Contains(t, got, "unknown command")
	assert.Contains(t, got, "/attach <path>")
}

func TestChat_DictationUnsupported(t *testing.T) {
	h := newHarness(t, nil, "/dictate", "/stop")

	require.NoError(t, h.run(t))

	got := h.out.String()
	assert.Contains(t, got, "Speech recognition is not supported on this system.")
	assert.Contains(t, got, "Draft is empty.")
}

func TestChat_ProfileEdits(t *testing.T) {
	h := newHarness(t, nil, "/profile name Ada Lovelace", "/profile picture random", "/profile", "/profile name")

	require.NoError(t, h.run(t))

	assert.Equal(t, "Ada Lovelace", h.profile.user.Name)
	assert.True(t, strings.HasPrefix(h.profile.user.ProfilePicture, "https://api.dicebear.com/7.x/avataaars/svg?seed="))
	got := h.out.String()
	assert.Contains(t, got, "Ada Lovelace <test@example.com>")
	assert.Contains(t, got, "Failed to update profile")
}

func TestChat_Logout(t *testing.T) {
	h := newHarness(t, nil, "/logout", "never read")

	err := h.run(t)

	assert.ErrorIs(t, err, ErrLoggedOut)
	assert.True(t, h.profile.loggedOut)
	assert.Equal(t, []string{"never read"}, h.in.lines)
}

func TestChat_HelpNotesMissingDictation(t *testing.T) {
	h := newHarness(t, nil, "/help", "/attach")

	require.NoError(t, h.run(t))

	got := h.out.String()
	assert.Contains(t, got, "Dictation is unavailable")
	assert.Contains(t, got, "up to 1.0 MB")
	assert.Equal(t, int64(1<<20), h.orch.MaxAttachmentBytes())
}

// stallingBackend opens a stream that stays silent until its context ends.
type stallingBackend struct {
	opened chan struct{}
}

func (b *stallingBackend) Open(ctx context.Context, _ ports.Request) (<-chan ports.Delta, error) {
	out := make(chan ports.Delta)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	close(b.opened)
	return out, nil
}

func TestChat_CancelledContextEndsCleanly(t *testing.T) {
	h := newHarness(t, nil, "hello", "never read")
	backend := &stallingBackend{opened: make(chan struct{})}
	h.orch = pipeline.NewFactory(&config.Config{}, zerolog.Nop()).
		CreateOrchestrator(context.Background(), backend, pipeline.Unavailable(), h.term.Notifier())
	t.Cleanup(h.orch.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- h.term.Chat(ctx, h.orch, h.profile) }()

	select {
	case <-backend.opened:
	case <-time.After(time.Second):
		t.Fatal("turn never reached the backend")
	}
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("chat did not return after cancellation")
	}
	assert.Equal(t, []string{"never read"}, h.in.lines)
}
