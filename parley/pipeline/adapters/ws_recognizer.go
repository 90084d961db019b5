package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// recognizerCommand is sent to the speech service.
type recognizerCommand struct {
	Action     string `json:"action"` // "start" | "stop"
	Language   string `json:"language,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`
	Interim    bool   `json:"interim,omitempty"`
}

// recognizerMessage is received from the speech service.
type recognizerMessage struct {
	Type       string `json:"type"` // "transcript" | "error" | "end"
	Transcript string `json:"transcript,omitempty"`
	Final      bool   `json:"final,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WebSocketRecognizer talks to a local speech service that captures audio
// and streams cumulative transcripts back over a websocket.
type WebSocketRecognizer struct {
	endpoint string
	language string
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketRecognizer creates a recognizer for the given ws:// endpoint.
func NewWebSocketRecognizer(endpoint, language string, logger zerolog.Logger) *WebSocketRecognizer {
	return &WebSocketRecognizer{
		endpoint: endpoint,
		language: language,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
}

// Start dials the service and requests continuous recognition with interim results.
func (r *WebSocketRecognizer) Start(ctx context.Context) (<-chan ports.TranscriptEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil, errors.New("recognizer already started")
	}

	conn, _, err := r.dialer.DialContext(ctx, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial speech service: %w", err)
	}

	cmd := recognizerCommand{Action: "start", Language: r.language, Continuous: true, Interim: true}
	if err := conn.WriteJSON(cmd); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start recognition: %w", err)
	}
	r.conn = conn

	events := make(chan ports.TranscriptEvent)
	stopped := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-stopped:
		}
	}()
	go r.read(ctx, conn, events, stopped)

	return events, nil
}

func (r *WebSocketRecognizer) read(ctx context.Context, conn *websocket.Conn, events chan<- ports.TranscriptEvent, stopped chan struct{}) {
	defer close(stopped)
	defer close(events)
	defer r.release(conn)

	emit := func(ev ports.TranscriptEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var msg recognizerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || !r.owns(conn) || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			emit(ports.TranscriptEvent{Err: fmt.Errorf("speech service: %w", err)})
			return
		}

		switch msg.Type {
		case "transcript":
			if !emit(ports.TranscriptEvent{Transcript: msg.Transcript, Final: msg.Final}) {
				return
			}
		case "error":
			emit(ports.TranscriptEvent{Err: fmt.Errorf("speech service: %s", msg.Error)})
			return
		case "end":
			return
		default:
			r.logger.Debug().Str("type", msg.Type).Msg("Ignoring speech service message")
		}
	}
}

func (r *WebSocketRecognizer) owns(conn *websocket.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn == conn
}

// release drops conn if it is still the current session, so a session the
// service ended on its own does not block the next Start.
func (r *WebSocketRecognizer) release(conn *websocket.Conn) {
	r.mu.Lock()
	owned := r.conn == conn
	if owned {
		r.conn = nil
	}
	r.mu.Unlock()

	if owned {
		conn.Close()
	}
}

// Stop ends the current session. Safe to call when not started.
func (r *WebSocketRecognizer) Stop() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.WriteJSON(recognizerCommand{Action: "stop"}); err != nil {
		r.logger.Debug().Err(err).Msg("Speech service stop command failed")
	}
	return conn.Close()
}

var _ ports.Recognizer = (*WebSocketRecognizer)(nil)
