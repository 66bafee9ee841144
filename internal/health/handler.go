package health

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/labstack/echo/v4"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type ModelStatus struct {
	inference.ModelInfo
	Loaded bool `json:"loaded"`
}

type ServiceResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Models  map[string]ModelStatus `json:"models"`
}

type LivenessResponse struct {
	Status         string `json:"status"`
	ModelLoaded    bool   `json:"model_loaded"`
	ActiveSessions int    `json:"active_sessions"`
}

type ReadinessResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Runtime       RuntimeStats               `json:"runtime"`
	Components    map[string]ComponentStatus `json:"components"`
}

// Model is a loadable inference service.
type Model interface {
	Loaded() bool
	Info() inference.ModelInfo
}

type SessionCounter interface {
	Count() int
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	models    map[string]Model
	sessions  SessionCounter
	cache     Pinger
	version   string
	startTime time.Time
	log       *slog.Logger
}

// NewHandler reports on models keyed by service name ("stt", "tts"). Nil
// models are skipped. cache may be nil when no cache is configured.
func NewHandler(models map[string]Model, sessions SessionCounter, cache Pinger, version string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	enabled := make(map[string]Model, len(models))
	for name, m := range models {
		if m != nil {
			enabled[name] = m
		}
	}
	return &Handler{
		models:    enabled,
		sessions:  sessions,
		cache:     cache,
		version:   version,
		startTime: time.Now(),
		log:       log.With("handler", "health"),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Service)
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

// Service godoc
// @Summary Service and model information
// @Tags health
// @Router / [get]
func (h *Handler) Service(c echo.Context) error {
	models := make(map[string]ModelStatus, len(h.models))
	for name, m := range h.models {
		models[name] = ModelStatus{ModelInfo: m.Info(), Loaded: m.Loaded()}
	}
	return c.JSON(http.StatusOK, ServiceResponse{
		Status:  "running",
		Version: h.version,
		Models:  models,
	})
}

// Liveness godoc
// @Summary Liveness and model load state
// @Tags health
// @Router /health [get]
func (h *Handler) Liveness(c echo.Context) error {
	resp := LivenessResponse{
		Status:      "ok",
		ModelLoaded: h.allLoaded(),
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions.Count()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := map[string]func(context.Context) ComponentStatus{}
	for name, m := range h.models {
		checks[name] = modelCheck(m)
	}
	if h.cache != nil {
		checks["cache"] = h.checkCache
	}

	wg.Add(len(checks))
	for name, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	overall := computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := ReadinessResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: memStats.Alloc / 1024 / 1024,
			MemorySysMB:   memStats.Sys / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Components: components,
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, resp)
}

func (h *Handler) allLoaded() bool {
	if len(h.models) == 0 {
		return false
	}
	for _, m := range h.models {
		if !m.Loaded() {
			return false
		}
	}
	return true
}

func modelCheck(m Model) func(context.Context) ComponentStatus {
	return func(context.Context) ComponentStatus {
		if !m.Loaded() {
			return ComponentStatus{Status: StatusUnhealthy, Error: "model not loaded"}
		}
		return ComponentStatus{Status: StatusHealthy}
	}
}

func (h *Handler) checkCache(ctx context.Context) ComponentStatus {
	start := time.Now()
	if err := h.cache.Ping(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}
	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

// computeOverallStatus treats models as critical and everything else as
// degrading.
func computeOverallStatus(components map[string]ComponentStatus) Status {
	hasDegraded := false
	for name, status := range components {
		switch status.Status {
		case StatusUnhealthy:
			if name != "cache" {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// SyncGRPC publishes model load state to srv. The empty service name reports
// overall serving status.
func (h *Handler) SyncGRPC(srv *health.Server) {
	for name, m := range h.models {
		srv.SetServingStatus(name, servingStatus(m.Loaded()))
	}
	srv.SetServingStatus("", servingStatus(h.allLoaded()))
}

// WatchGRPC calls SyncGRPC every interval until ctx is done.
func (h *Handler) WatchGRPC(ctx context.Context, srv *health.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.SyncGRPC(srv)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SyncGRPC(srv)
		}
	}
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
