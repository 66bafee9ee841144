package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records sidecar metrics. It satisfies the inference observer and
// the realtime session recorder.
type Collector struct {
	sessionsActive   *prometheus.GaugeVec
	sessionsTotal    *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	sessionsRejected *prometheus.CounterVec
	protocolErrors   *prometheus.CounterVec

	inferenceTotal    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewCollector registers all metrics on reg. A nil reg gets a fresh registry.
func NewCollector(namespace string, reg *prometheus.Registry, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	c := &Collector{
		gatherer: reg,
		logger:   logger.With("component", "metrics"),
	}

	c.sessionsActive = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of streaming sessions currently open",
		},
		[]string{"kind"},
	)

	c.sessionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of streaming sessions by outcome",
		},
		[]string{"kind", "outcome"},
	)

	c.sessionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Streaming session duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)

	c.sessionsRejected = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Sessions refused before streaming began",
		},
		[]string{"kind", "reason"},
	)

	c.protocolErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or unexpected client frames",
		},
		[]string{"kind", "reason"},
	)

	c.inferenceTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Total number of model inference calls",
		},
		[]string{"kind", "status"},
	)

	c.inferenceDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Model inference latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	c.cacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Synthesis cache lookups by result",
		},
		[]string{"result"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

func (c *Collector) SessionOpened(kind string) {
	c.sessionsActive.WithLabelValues(kind).Inc()
}

func (c *Collector) SessionClosed(kind string, graceful bool, duration time.Duration) {
	outcome := "aborted"
	if graceful {
		outcome = "completed"
	}
	c.sessionsActive.WithLabelValues(kind).Dec()
	c.sessionsTotal.WithLabelValues(kind, outcome).Inc()
	c.sessionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) SessionRejected(kind, reason string) {
	c.sessionsRejected.WithLabelValues(kind, reason).Inc()
}

func (c *Collector) ProtocolError(kind, reason string) {
	c.protocolErrors.WithLabelValues(kind, reason).Inc()
}

func (c *Collector) ObserveInference(kind string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.inferenceTotal.WithLabelValues(kind, status).Inc()
	c.inferenceDuration.WithLabelValues(kind).Observe(seconds)
}

func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Middleware records every request under its route pattern.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			status := ctx.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := ctx.Path()
			if path == "" {
				path = "unmatched"
			}
			c.RecordHTTPRequest(ctx.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) RegisterRoutes(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(c.Handler()))
}
