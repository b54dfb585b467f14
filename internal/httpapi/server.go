package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/rickgao/wallet-watch/internal/model"
	"github.com/rickgao/wallet-watch/internal/pool"
)

// Watcher is the subset of *pool.Pool the API drives.
type Watcher interface {
	Add(ctx context.Context, address model.Address, subscriber model.SubscriberID) error
	Remove(address model.Address, subscriber model.SubscriberID)
	Status() []pool.ConnectionStatus
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Config configures a Server.
type Config struct {
	Port        int
	MetricsPath string
	AddTimeout  time.Duration // Bound on a subscription request
}

// Option configures a Server.
type Option func(*Server)

// WithCheck adds a named health check.
func WithCheck(name string, check Check) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithMetricsHandler mounts the metrics handler at Config.MetricsPath.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithStats adds a named statistics provider to /status.
func WithStats(name string, stats func() any) Option {
	return func(s *Server) { s.stats[name] = stats }
}

// Server is the HTTP control surface.
type Server struct {
	cfg     Config
	watcher Watcher
	logger  *slog.Logger
	checks  map[string]Check
	stats   map[string]func() any
	metrics http.Handler

	srv *http.Server
}

// New creates a Server.
func New(cfg Config, watcher Watcher, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.AddTimeout <= 0 {
		cfg.AddTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		watcher: watcher,
		logger:  logger,
		checks:  make(map[string]Check),
		stats:   make(map[string]func() any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /subscriptions", s.handleAdd)
	mux.HandleFunc("DELETE /subscriptions", s.handleRemove)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.metrics)
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "port", s.cfg.Port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

type subscriptionRequest struct {
	Address    string `json:"address"`
	Subscriber int64  `json:"subscriber"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (subscriptionRequest, bool) {
	var req subscriptionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return req, false
	}
	if err := ValidateAddress(req.Address); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return req, false
	}
	return req, true
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AddTimeout)
	defer cancel()

	if err := s.watcher.Add(ctx, req.Address, req.Subscriber); err != nil {
		status := statusFor(err)
		s.logger.Warn("add subscription failed",
			"address", req.Address,
			"subscriber", req.Subscriber,
			"status", status,
			"error", err,
		)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	s.logger.Info("subscription added", "address", req.Address, "subscriber", req.Subscriber)
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.watcher.Remove(req.Address, req.Subscriber)
	s.logger.Info("subscription removed", "address", req.Address, "subscriber", req.Subscriber)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	conns := s.watcher.Status()
	if conns == nil {
		conns = []pool.ConnectionStatus{}
	}

	wallets := 0
	for _, c := range conns {
		wallets += c.WalletCount
	}

	body := map[string]any{
		"connections":   conns,
		"bound_wallets": wallets,
	}
	for name, stats := range s.stats {
		body[name] = stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			health.Status = "unhealthy"
			health.Components[name] = map[string]string{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			health.Components[name] = "up"
		}
	}

	conns := s.watcher.Status()
	reconnecting := 0
	for _, c := range conns {
		if c.IsReconnecting {
			reconnecting++
		}
	}
	health.Components["pool"] = map[string]int{
		"connections":  len(conns),
		"reconnecting": reconnecting,
	}
	if reconnecting > 0 && health.Status == "healthy" {
		health.Status = "degraded"
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// statusFor maps pool errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrCapacity):
		return http.StatusInsufficientStorage
	case errors.Is(err, pool.ErrSubscribe):
		return http.StatusBadGateway
	case errors.Is(err, pool.ErrClosed), errors.Is(err, pool.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
