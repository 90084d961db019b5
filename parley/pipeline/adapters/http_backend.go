package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
)

const (
	readChunkSize    = 4096
	maxErrorBodySize = 64 << 10
)

// HTTPBackend streams replies from the relay's POST endpoint. The response
// body is raw UTF-8 text with no framing.
type HTTPBackend struct {
	url         string
	client      *http.Client
	openTimeout time.Duration
	token       func() string
	logger      zerolog.Logger
}

// NewHTTPBackend creates a backend posting to url. token may be nil; when it
// returns a non-empty value it is sent as a bearer token. openTimeout bounds
// the wait for response headers only, never the stream itself.
func NewHTTPBackend(url string, client *http.Client, openTimeout time.Duration, token func() string, logger zerolog.Logger) *HTTPBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{
		url:         url,
		client:      client,
		openTimeout: openTimeout,
		token:       token,
		logger:      logger,
	}
}

// Open issues the call. Non-2xx responses return *BackendRequestError and no
// channel. On success the channel yields deltas in arrival order and is closed
// at end of stream; a transport failure is delivered as a final delta carrying
// *StreamInterruptedError. Cancelling ctx closes the channel without an error delta.
func (b *HTTPBackend) Open(ctx context.Context, req ports.Request) (<-chan ports.Delta, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")
	if b.token != nil {
		if tok := b.token(); tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	var timer *time.Timer
	if b.openTimeout > 0 {
		timer = time.AfterFunc(b.openTimeout, cancel)
	}

	resp, err := b.client.Do(httpReq)
	if timer != nil && !timer.Stop() && ctx.Err() == nil {
		// Headers arrived too late; the request context is already gone.
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, &ports.BackendRequestError{Message: fmt.Sprintf("backend did not respond within %s", b.openTimeout)}
	}
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		b.logger.Warn().Err(err).Str("url", b.url).Msg("Backend unreachable")
		return nil, &ports.BackendRequestError{Message: "Failed to reach the backend. Please try again."}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		return nil, b.requestError(resp)
	}

	out := make(chan ports.Delta)
	go b.read(reqCtx, cancel, resp.Body, out)
	return out, nil
}

func (b *HTTPBackend) requestError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var payload ports.ErrorBody
	if err := json.Unmarshal(raw, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		return &ports.BackendRequestError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	b.logger.Warn().Int("status", resp.StatusCode).Int("body_bytes", len(raw)).Msg("Backend error without message")
	return &ports.BackendRequestError{StatusCode: resp.StatusCode}
}

func (b *HTTPBackend) read(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, out chan<- ports.Delta) {
	defer close(out)
	defer cancel()
	defer body.Close()

	buf := make([]byte, readChunkSize)
	var pending []byte

	for {
		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			text, tail := splitUTF8(pending)
			pending = append([]byte(nil), tail...)
			if text != "" && !send(ctx, out, ports.Delta{Text: text}) {
				return
			}
		}

		if errors.Is(err, io.EOF) {
			if len(pending) > 0 {
				send(ctx, out, ports.Delta{Text: string(pending)})
			}
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn().Err(err).Msg("Backend stream interrupted")
			send(ctx, out, ports.Delta{Err: &ports.StreamInterruptedError{Err: err}})
			return
		}
	}
}

func send(ctx context.Context, out chan<- ports.Delta, d ports.Delta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// splitUTF8 returns the longest prefix of b that does not end inside a
// multi-byte rune, and the incomplete remainder.
func splitUTF8(b []byte) (string, []byte) {
	cut := len(b)
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				cut = i
			}
			break
		}
	}
	return string(b[:cut]), b[cut:]
}

var _ ports.Backend = (*HTTPBackend)(nil)
