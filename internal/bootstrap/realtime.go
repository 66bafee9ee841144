package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/eleven-am/speech-sidecar/internal/metrics"
	"github.com/eleven-am/speech-sidecar/internal/realtime"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func ProvideRealtimeConfig(cfg *Config) realtime.Config {
	rc := realtime.DefaultConfig()
	rc.ChunkSeconds = cfg.STTChunkSeconds
	rc.OverlapSeconds = cfg.STTOverlapSeconds
	rc.RateLimit.SessionsPerSecond = cfg.SessionRate
	rc.RateLimit.Burst = cfg.SessionBurst
	return rc
}

func ProvideRealtimeManager(cfg realtime.Config, collector *metrics.Collector, logger *slog.Logger) *realtime.Manager {
	return realtime.NewManager(cfg, collector, logger)
}

func ProvideRealtimeHandler(
	lc fx.Lifecycle,
	manager *realtime.Manager,
	stt *inference.TranscriptionService,
	tts *inference.SynthesisService,
	logger *slog.Logger,
) *realtime.Handler {
	var transcriber realtime.Transcriber
	if stt != nil {
		transcriber = stt
	}
	var synthesizer realtime.Synthesizer
	if tts != nil {
		synthesizer = tts
	}

	h := realtime.NewHandler(manager, transcriber, synthesizer, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			h.Close()
			return nil
		},
	})
	return h
}

func RegisterRealtimeRoutes(e *echo.Echo, h *realtime.Handler) {
	h.RegisterRoutes(e)
}

var RealtimeModule = fx.Options(
	fx.Provide(
		ProvideRealtimeConfig,
		ProvideRealtimeManager,
		ProvideRealtimeHandler,
	),
	fx.Invoke(RegisterRealtimeRoutes),
)
