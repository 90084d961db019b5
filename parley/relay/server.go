// Package relay serves the streaming chat endpoint the client talks to. It
// validates requests and streams upstream model output back as raw text.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/parley/parley/config"
	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/ZanzyTHEbar/parley/parley/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Dependencies are the relay's collaborators. Provider may be nil, in which
// case chat requests fail with a configuration error. Limiter and Verifier are
// optional.
type Dependencies struct {
	Provider ports.Provider
	Limiter  ports.RateLimiter
	Verifier session.TokenVerifier
	Metrics  *Metrics
}

// Server is the HTTP relay.
type Server struct {
	cfg       config.RelayConfig
	provider  ports.Provider
	limiter   ports.RateLimiter
	verifier  session.TokenVerifier
	validator *RequestValidator
	prompts   *PromptBuilder
	metrics   *Metrics
	logger    zerolog.Logger
}

func NewServer(cfg config.RelayConfig, deps Dependencies, logger zerolog.Logger) (*Server, error) {
	validator, err := NewRequestValidator()
	if err != nil {
		return nil, err
	}
	if cfg.RequireAuth && deps.Verifier == nil {
		return nil, errors.New("relay: require_auth is set but no token verifier was provided")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Server{
		cfg:       cfg,
		provider:  deps.Provider,
		limiter:   deps.Limiter,
		verifier:  deps.Verifier,
		validator: validator,
		prompts:   NewPromptBuilder(cfg.SystemPrompt),
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Routes returns the relay's handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Post("/api/chat", s.handleChat)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("Relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info().Msg("Relay shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
	start := time.Now()

	req, outcome, err := s.admit(w, r)
	if err != nil {
		s.metrics.requests.WithLabelValues(outcome).Inc()
		logger.Info().Err(err).Str("outcome", outcome).Msg("Chat request rejected")
		writeError(w, err)
		return
	}

	in := s.prompts.Build(req.Messages, map[string]string{"request_id": middleware.GetReqID(r.Context())})
	opts := ports.Options{MaxNewTokens: s.cfg.MaxTokens, Temperature: float32(s.cfg.Temperature)}

	chunks, err := s.provider.Stream(r.Context(), in, opts)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.metrics.requests.WithLabelValues(outcomeUpstream).Inc()
		logger.Warn().Err(err).Str("provider", s.provider.Name()).Msg("Upstream failed before streaming")
		writeError(w, &StatusError{Message: msgUpstreamError, StatusCode: http.StatusBadGateway})
		return
	}
	s.metrics.firstChunk.Observe(time.Since(start).Seconds())

	s.stream(w, r, chunks, logger)
}

// admit runs every check that happens before the upstream is contacted.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) (*ports.Request, string, error) {
	if s.limiter != nil {
		release, err := s.limiter.Acquire(r.Context(), clientKey(r))
		if err != nil {
			return nil, outcomeRateLimited, &StatusError{Message: msgRateLimited, StatusCode: http.StatusTooManyRequests}
		}
		defer release()
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, outcomeInvalid, &StatusError{Message: msgBodyTooLarge, StatusCode: http.StatusRequestEntityTooLarge}
		}
		return nil, outcomeInvalid, &StatusError{Message: "Failed to read request body.", StatusCode: http.StatusBadRequest}
	}

	if err := s.validator.Validate(body); err != nil {
		return nil, outcomeInvalid, &StatusError{Message: err.Error(), StatusCode: http.StatusBadRequest}
	}

	if s.verifier != nil {
		if err := s.authorize(r); err != nil {
			return nil, outcomeUnauthorized, err
		}
	}

	if s.provider == nil {
		return nil, outcomeUnconfigured, &StatusError{Message: msgUnconfigured, StatusCode: http.StatusInternalServerError}
	}

	var req ports.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, outcomeInvalid, &StatusError{Message: fmt.Sprintf("invalid request: %v", err), StatusCode: http.StatusBadRequest}
	}
	return &req, outcomeOK, nil
}

func (s *Server) authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return &StatusError{Message: msgUnauthorized, StatusCode: http.StatusUnauthorized}
	}
	if _, err := s.verifier.Verify(strings.TrimSpace(token)); err != nil {
		return &StatusError{Message: msgUnauthorized, StatusCode: http.StatusUnauthorized}
	}
	return nil
}

// stream writes chunks as raw UTF-8 text, flushing each one. An upstream
// failure after headers are sent aborts the connection so the client sees a
// transport interruption rather than a clean end of stream.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, chunks <-chan ports.CompletionChunk, logger zerolog.Logger) {
	s.metrics.inFlight.Inc()
	defer s.metrics.inFlight.Dec()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	var written int
	for chunk := range chunks {
		if chunk.Err != nil {
			s.metrics.requests.WithLabelValues(outcomeInterrupted).Inc()
			logger.Warn().Err(chunk.Err).Int("bytes", written).Msg("Upstream failed mid-stream, aborting response")
			panic(http.ErrAbortHandler)
		}
		if chunk.DeltaText == "" {
			continue
		}

		n, err := io.WriteString(w, chunk.DeltaText)
		written += n
		s.metrics.streamedBytes.Add(float64(n))
		if err != nil {
			logger.Debug().Err(err).Msg("Client went away")
			return
		}
		if err := rc.Flush(); err != nil {
			logger.Debug().Err(err).Msg("Flush failed")
			return
		}
	}

	if r.Context().Err() != nil {
		return
	}
	s.metrics.requests.WithLabelValues(outcomeOK).Inc()
	logger.Debug().Int("bytes", written).Msg("Chat response complete")
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
