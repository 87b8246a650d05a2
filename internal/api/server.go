package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/monitor"
	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const (
	defaultRequestTimeout = 60 * time.Second
	maxRoutineBytes       = 1 << 20
)

// Monitor is the operation surface the handlers drive.
type Monitor interface {
	List(ctx context.Context) ([]watchlist.Item, error)
	Insert(ctx context.Context, description, rawURL string) (watchlist.Item, error)
	SetMonitoring(ctx context.Context, id string, keep bool) (watchlist.Item, error)
	Routine(ctx context.Context, domainOrURL string) (string, error)
	EditRoutine(ctx context.Context, domainOrURL, source string) error
	Refresh(ctx context.Context, id string) (watchlist.Item, error)
	RefreshStale(ctx context.Context) ([]monitor.Result, error)
}

// Subscriber hands out live refresh event streams.
type Subscriber interface {
	Subscribe() (<-chan watchlist.RefreshEvent, func())
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the monitor service.
type Server struct {
	router   chi.Router
	monitor  Monitor
	events   Subscriber
	ready    Pinger
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. events and ready
// may be nil, in which case /api/events is not served and /readyz always
// reports ready.
func NewServer(svc Monitor, events Subscriber, ready Pinger, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		monitor:  svc,
		events:   events,
		ready:    ready,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Refreshes drive a browser and streams stay open, so only the
		// plain store routes get the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Get("/items", s.listItems)
			r.Put("/item", s.insertItem)
			r.Post("/toggle-item/{id}", s.toggleItem)
			r.Get("/script/{domain}", s.getRoutine)
			r.Post("/edit-script/{domain}", s.editRoutine)
		})
		r.Post("/update-item/{id}", s.refreshItem)
		r.Post("/update-items", s.refreshItems)
		if events != nil {
			r.Get("/events", s.streamEvents)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
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
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
						zap.Stack("stack"),
					)
					writeJSONTo(logger, w, http.StatusInternalServerError, errorBody{Error: "internal server error", Outcome: monitor.OutcomeError})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out","outcome":"error"}`)
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
				writeJSONTo(zap.NewNop(), w, http.StatusForbidden, errorBody{Error: "unauthorized", Outcome: monitor.OutcomeError})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Error   string          `json:"error"`
	Outcome monitor.Outcome `json:"outcome"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSONTo(s.logger, w, status, payload)
}

func writeJSONTo(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

// writeError maps a service error to its status code and outcome.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	outcome := monitor.OutcomeOf(err)
	status := statusFor(outcome)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	s.writeJSON(w, status, errorBody{Error: err.Error(), Outcome: outcome})
}

func statusFor(outcome monitor.Outcome) int {
	switch outcome {
	case monitor.OutcomeSuccess:
		return http.StatusOK
	case monitor.OutcomeInvalidInput:
		return http.StatusBadRequest
	case monitor.OutcomeNotFound:
		return http.StatusNotFound
	case monitor.OutcomeNoRoutine, monitor.OutcomeDuplicateURL:
		return http.StatusConflict
	case monitor.OutcomeExtractionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
