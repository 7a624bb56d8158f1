package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CheckFunc checks one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Overall health values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ComponentHealth is the last check result of one dependency.
type ComponentHealth struct {
	OK        bool    `json:"ok"`
	Required  bool    `json:"required"`
	LatencyMs float64 `json:"latencyMs"`
	Error     string  `json:"error,omitempty"`
	CheckedAt string  `json:"checkedAt,omitempty"`
}

// HealthReport aggregates all checks.
type HealthReport struct {
	Status     string                     `json:"status"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

type namedCheck struct {
	name     string
	required bool
	check    CheckFunc
}

// Health runs dependency checks and reports the aggregate status. A failing
// required check makes the service unhealthy; a failing optional one only
// degrades it.
type Health struct {
	mu        sync.RWMutex
	checks    []namedCheck
	results   map[string]ComponentHealth
	startedAt time.Time
	now       func() time.Time
}

// NewHealth returns an empty health registry.
func NewHealth() *Health {
	return &Health{
		results:   make(map[string]ComponentHealth),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// AddCheck registers a dependency check.
func (h *Health) AddCheck(name string, required bool, fn CheckFunc) {
	h.mu.Lock()
	h.checks = append(h.checks, namedCheck{name: name, required: required, check: fn})
	h.results[name] = ComponentHealth{Required: required, Error: "not checked yet"}
	h.mu.Unlock()
}

// Check runs every check once with a 3s budget each.
func (h *Health) Check(ctx context.Context) {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	for _, p := range checks {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		start := h.now()
		err := p.check(pctx)
		latency := h.now().Sub(start)
		cancel()

		res := ComponentHealth{
			OK:        err == nil,
			Required:  p.required,
			LatencyMs: float64(latency.Microseconds()) / 1000.0,
			CheckedAt: h.now().UTC().Format(time.RFC3339),
		}
		if err != nil {
			res.Error = err.Error()
		}
		h.mu.Lock()
		h.results[p.name] = res
		h.mu.Unlock()
	}
}

// Run checks immediately and then every interval until ctx is done.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Report returns the current aggregate.
func (h *Health) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := HealthReport{
		Status:     StatusHealthy,
		Uptime:     h.now().Sub(h.startedAt).Round(time.Second).String(),
		Components: make(map[string]ComponentHealth, len(h.results)),
	}
	for name, c := range h.results {
		r.Components[name] = c
		if c.OK {
			continue
		}
		if c.Required {
			r.Status = StatusUnhealthy
		} else if r.Status == StatusHealthy {
			r.Status = StatusDegraded
		}
	}
	return r
}

// ServeHTTP writes the report; unhealthy answers 503.
func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	r := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if r.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(r)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics and health server for gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *Health, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr:   addr,
		logger: logger.With(zap.String("component", "metrics")),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
