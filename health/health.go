// Package health adapts the teacher's internal/health/health_check.go
// (a ticker-driven checker with liveness/readiness flags and JSON HTTP
// handlers) and internal/server/metrics_server.go (the HTTP server wrapper
// around it) to this module's one external dependency: the underlying
// document store. Disk-space and file-descriptor checks, meaningful for a
// storage node with local SSTables, have no analog in an ODM whose only
// collaborator is a remote driver connection; the one check that matters
// here is "can we still reach the store."
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Status is the coarse health state a check reports in its CheckResult.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of a single named check.
type CheckResult struct {
	Name      string
	Status    Status
	Message   string
	Timestamp time.Time
}

// Checker periodically pings the document store and serves liveness and
// readiness over HTTP.
type Checker struct {
	client   *mongo.Client
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	mu          sync.RWMutex
	lastCheck   time.Time
	status      Status
	lastCheckRes CheckResult
	livenessOK  bool
	readinessOK bool
}

// Config holds the checker's tunables.
type Config struct {
	// Interval between store pings. Defaults to 10s, matching the teacher.
	Interval time.Duration
	// Timeout applied to each ping.
	Timeout time.Duration
}

// NewChecker builds a Checker for client.
func NewChecker(client *mongo.Client, cfg Config, logger *zap.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		client:      client,
		logger:      logger,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		livenessOK:  true,
		readinessOK: client != nil,
		status:      StatusHealthy,
	}
}

// Start runs the periodic ping loop until ctx is cancelled (spec Design
// Notes' ambient-stack carry-forward: observability is never a Non-goal).
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			c.runCheck(ctx)
		case <-ctx.Done():
			c.logger.Info("health checker stopped")
			return
		}
	}
}

func (c *Checker) runCheck(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := c.pingStore(pingCtx)

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.lastCheckRes = result
	c.status = result.Status
	c.livenessOK = true // the process is responsive enough to run this check
	c.readinessOK = result.Status != StatusUnhealthy
	c.mu.Unlock()

	c.logger.Debug("health check completed",
		zap.String("status", string(result.Status)),
		zap.String("message", result.Message))
}

func (c *Checker) pingStore(ctx context.Context) CheckResult {
	if c.client == nil {
		return CheckResult{Name: "store_ping", Status: StatusUnhealthy, Message: "no store client configured", Timestamp: time.Now()}
	}
	if err := c.client.Ping(ctx, nil); err != nil {
		return CheckResult{
			Name:      "store_ping",
			Status:    StatusUnhealthy,
			Message:   fmt.Sprintf("store unreachable: %v", err),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{Name: "store_ping", Status: StatusHealthy, Message: "store reachable", Timestamp: time.Now()}
}

// IsLive reports whether the process is responsive (liveness probe).
func (c *Checker) IsLive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.livenessOK
}

// IsReady reports whether the store is reachable (readiness probe).
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readinessOK
}

// SetReadiness manually overrides readiness, used during graceful shutdown
// to stop routing traffic before the process actually exits.
func (c *Checker) SetReadiness(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessOK = ready
}

// LastCheck returns the most recent check's result.
func (c *Checker) LastCheck() CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCheckRes
}

// LivenessHandler serves the liveness probe.
func (c *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := c.IsLive()
	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"healthy": live})
}

// ReadinessHandler serves the readiness probe.
func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := c.IsReady()
	result := c.LastCheck()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":   ready,
		"message": result.Message,
	})
}

// Server wraps an HTTP mux serving /healthz, /readyz, and (if mh is
// non-nil) /metrics, adapted from the teacher's internal/server/
// metrics_server.go.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds a Server. metricsHandler is typically promhttp.Handler();
// it is passed in rather than imported directly so this package does not
// need to depend on the metrics registry.
func NewServer(addr string, checker *Checker, metricsHandler http.Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("starting health/metrics server", zap.String("addr", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health/metrics server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping health/metrics server")
	return s.httpServer.Shutdown(ctx)
}
