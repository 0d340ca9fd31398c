package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/config"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/dispatcher"
	"github.com/JakeFAU/adaptive-frontier/internal/frontier"
	"github.com/JakeFAU/adaptive-frontier/internal/metrics"
	memorypublisher "github.com/JakeFAU/adaptive-frontier/internal/publisher/memory"
	"github.com/JakeFAU/adaptive-frontier/internal/worker"
)

// maxBodyBytes bounds request payloads.
const maxBodyBytes = 4 << 20

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// EventLog exposes recently published progress batches.
type EventLog interface {
	Messages() []memorypublisher.PublishedMessage
}

// Deps are the collaborators behind the routes. Ready and Events are
// optional.
type Deps struct {
	Scheduler dispatcher.Scheduler
	Preparer  worker.Preparer
	Ready     ReadyFunc
	Events    EventLog
}

// Server wires HTTP handlers to the frontier.
type Server struct {
	router    chi.Router
	scheduler dispatcher.Scheduler
	preparer  worker.Preparer
	ready     ReadyFunc
	events    EventLog
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scheduler: deps.Scheduler,
		preparer:  deps.Preparer,
		ready:     deps.Ready,
		events:    deps.Events,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/candidates", s.submitCandidates)
		r.Post("/cost", s.assessCost)
		r.Get("/next", s.next)
		r.Post("/finished", s.finished)
		r.Post("/terminate", s.terminate)
		r.Get("/stats", s.stats)
		r.Get("/events", s.recentEvents)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.scheduler.Done():
		writeError(w, http.StatusServiceUnavailable, "frontier terminated")
		return
	default:
	}
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type candidatesRequest struct {
	Candidates []crawler.Candidate `json:"candidates"`
	// Score runs the cost and precedence policies first; defaults to true.
	Score *bool `json:"score"`
}

type candidateResult struct {
	URI        string `json:"uri"`
	ClassKey   string `json:"class_key"`
	Precedence int    `json:"precedence"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) submitCandidates(w http.ResponseWriter, r *http.Request) {
	var req candidatesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "candidates required")
		return
	}
	score := req.Score == nil || *req.Score

	results := make([]candidateResult, 0, len(req.Candidates))
	for i := range req.Candidates {
		c := &req.Candidates[i]
		if c.URI == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "candidate uri required", "results": results})
			return
		}
		if score && s.preparer != nil {
			s.preparer.Prepare(r.Context(), c)
		}
		err := s.scheduler.Submit(r.Context(), c)
		res := candidateResult{URI: c.URI, ClassKey: c.ClassKey, Precedence: c.Precedence}
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			s.logger.Warn("submit candidate failed", zap.String("uri", c.URI), zap.String("via", c.Via), zap.Error(err))
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "results": results})
			return
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(results), "results": results})
}

type costResponse struct {
	URI        string  `json:"uri"`
	Cost       int     `json:"cost"`
	Kind       string  `json:"kind"`
	Reason     string  `json:"reason"`
	Similarity float64 `json:"similarity"`
	Precedence int     `json:"precedence"`
}

func (s *Server) assessCost(w http.ResponseWriter, r *http.Request) {
	var c crawler.Candidate
	if err := decodeJSON(w, r, &c); err != nil || c.URI == "" {
		writeError(w, http.StatusBadRequest, "candidate uri required")
		return
	}
	if s.preparer == nil {
		writeError(w, http.StatusServiceUnavailable, "no cost policy configured")
		return
	}
	res := s.preparer.Prepare(r.Context(), &c)
	writeJSON(w, http.StatusOK, costResponse{
		URI:        c.URI,
		Cost:       res.Cost,
		Kind:       res.Kind.String(),
		Reason:     res.Reason,
		Similarity: res.Similarity,
		Precedence: c.Precedence,
	})
}

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	c, err := s.scheduler.Next(r.Context())
	if errors.Is(err, frontier.ErrNoWork) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) finished(w http.ResponseWriter, r *http.Request) {
	var c crawler.Candidate
	if err := decodeJSON(w, r, &c); err != nil || c.URI == "" {
		writeError(w, http.StatusBadRequest, "candidate uri required")
		return
	}
	if err := s.scheduler.Finished(r.Context(), &c); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uri": c.URI, "outlinks": len(c.Outlinks)})
}

func (s *Server) terminate(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Terminate(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Stats())
}

const defaultEventsLimit = 20

// recentEvents returns the newest progress batches, oldest first.
func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "event log disabled")
		return
	}
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	messages := s.events.Messages()
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	batches := make([]any, 0, len(messages))
	for _, m := range messages {
		batches = append(batches, m.Payload)
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

// statusFor maps frontier errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, frontier.ErrTerminated):
		return http.StatusGone
	case errors.Is(err, frontier.ErrProtocol):
		return http.StatusConflict
	case errors.Is(err, frontier.ErrBatchFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
