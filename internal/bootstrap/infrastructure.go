package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/cache"
	"github.com/eleven-am/speech-sidecar/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const metricsNamespace = "speech_sidecar"

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return logger
}

// ProvideRedisClient returns nil when no REDIS_ADDR is configured.
func ProvideRedisClient(lc fx.Lifecycle, cfg *Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func ProvideSynthesisCache(client *redis.Client, cfg *Config, collector *metrics.Collector, logger *slog.Logger) *cache.SynthesisCache {
	if client == nil {
		return nil
	}
	c := cache.NewSynthesisCache(client, time.Duration(cfg.CacheTTLSeconds)*time.Second, logger)
	c.OnLookup(collector.CacheLookup)
	return c
}

func ProvideMetrics(logger *slog.Logger) *metrics.Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewCollector(metricsNamespace, reg, logger)
}

var InfrastructureModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisClient,
		ProvideSynthesisCache,
	),
)
