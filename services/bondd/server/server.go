package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bondvault/native/bond"
	"bondvault/observability"
	"bondvault/services/bondd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	Auth          AuthConfig
	RateLimit     RateLimitConfig
}

// EventLog is the read side of the audit journal.
type EventLog interface {
	List(ctx context.Context, filter storage.Filter) ([]storage.Entry, error)
	Get(ctx context.Context, id string) (storage.Entry, error)
}

// ReserveSetter is implemented by pool readers whose reserves operators may
// override at runtime.
type ReserveSetter interface {
	Set(r0, r1 *big.Int) error
}

// Server hosts the bond ledger HTTP API.
type Server struct {
	cfg     Config
	engine  *bond.Engine
	events  EventLog
	pool    ReserveSetter
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

// New constructs a new HTTP server. pool may be nil when reserves come from
// an external chain.
func New(cfg Config, engine *bond.Engine, events EventLog, pool ReserveSetter, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("bond engine required")
	}
	if events == nil {
		return nil, fmt.Errorf("event log required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("configure auth: %w", err)
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		events:  events,
		pool:    pool,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}, nil
}

// Handler builds the routed handler tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Get("/quote", s.handleQuote)
		r.Get("/records/{address}", s.handleRecord)
		r.Get("/reserve", s.handleReserve)
		r.Get("/settings", s.handleSettings)
		r.Get("/events", s.handleEvents)
		r.Get("/events/{id}", s.handleEvent)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/vest", s.handleVest)
			r.Post("/release", s.handleRelease)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/withdraw-base", s.handleWithdrawBase)
				r.Post("/soft-withdraw", s.handleSoftWithdraw)
				r.Post("/emergency-withdraw", s.handleEmergencyWithdraw)
				r.Post("/emergency-sweep", s.handleEmergencySweep)
				r.Post("/settings", s.handleSetSettings)
				r.Post("/pause", s.handleTogglePause)
				r.Post("/pool", s.handleSetPool)
			})
		})
	})
	return otelhttp.NewHandler(r, "bondd")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("bondd: http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.ModuleMetrics().Observe(route, r.Method, rec.status, time.Since(start))
		s.logger.Debug("bondd: request served",
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps the ledger error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch bond.ErrorReason(err) {
	case "validation":
		return http.StatusBadRequest
	case "insufficient_reserve", "arithmetic":
		return http.StatusConflict
	case "transfer_failed":
		return http.StatusBadGateway
	case "access_denied":
		return http.StatusForbidden
	case "paused":
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	reason := bond.ErrorReason(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("bondd: request failed", "route", r.URL.Path, "reason", reason, "error", err)
	}
	message := err.Error()
	if reason == "internal" {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: reason, Message: message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: message})
}
