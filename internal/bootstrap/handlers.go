package bootstrap

import (
	"log/slog"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/cache"
	"github.com/eleven-am/speech-sidecar/internal/health"
	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/eleven-am/speech-sidecar/internal/metrics"
	"github.com/eleven-am/speech-sidecar/internal/realtime"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const version = "1.0.0"

func ProvideAudioHandler(
	stt *inference.TranscriptionService,
	tts *inference.SynthesisService,
	synthCache *cache.SynthesisCache,
	logger *slog.Logger,
) *audio.Handler {
	var transcriber audio.Transcriber
	if stt != nil {
		transcriber = stt
	}
	var synthesizer audio.Synthesizer
	if tts != nil {
		synthesizer = tts
	}
	return audio.NewHandler(transcriber, synthesizer, synthCache, logger)
}

func ProvideHealthHandler(
	stt *inference.TranscriptionService,
	tts *inference.SynthesisService,
	manager *realtime.Manager,
	synthCache *cache.SynthesisCache,
	logger *slog.Logger,
) *health.Handler {
	models := map[string]health.Model{}
	if stt != nil {
		models["stt"] = stt
	}
	if tts != nil {
		models["tts"] = tts
	}
	var pinger health.Pinger
	if synthCache != nil {
		pinger = synthCache
	}
	return health.NewHandler(models, manager, pinger, version, logger)
}

type RouteParams struct {
	fx.In

	AudioHandler  *audio.Handler
	HealthHandler *health.Handler
	Metrics       *metrics.Collector
}

func RegisterRoutes(e *echo.Echo, params RouteParams) {
	params.HealthHandler.RegisterRoutes(e)
	params.AudioHandler.RegisterRoutes(e)
	params.Metrics.RegisterRoutes(e)
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideAudioHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
)
