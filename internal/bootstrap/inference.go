package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/eleven-am/speech-sidecar/internal/inference/openai"
	"github.com/eleven-am/speech-sidecar/internal/metrics"
	"go.uber.org/fx"
)

// ProvideTranscriptionService returns nil when STT is disabled.
func ProvideTranscriptionService(lc fx.Lifecycle, cfg *Config, collector *metrics.Collector, logger *slog.Logger) *inference.TranscriptionService {
	if !cfg.STTEnabled {
		return nil
	}
	backend := openai.NewTranscriber(openai.Config{
		BaseURL:     cfg.STTRuntimeURL,
		APIKey:      cfg.RuntimeAPIKey,
		Model:       cfg.WhisperModelSize,
		Device:      cfg.WhisperDevice,
		ComputeType: cfg.WhisperComputeType,
	})
	svc := inference.NewTranscriptionService(backend, inference.PoolConfig{
		MaxConcurrent: int64(cfg.InferenceConcurrency),
		Observer:      collector,
	}, logger)
	appendModelLifecycle(lc, "stt", svc.Pool, logger)
	return svc
}

// ProvideSynthesisService returns nil when TTS is disabled.
func ProvideSynthesisService(lc fx.Lifecycle, cfg *Config, collector *metrics.Collector, logger *slog.Logger) *inference.SynthesisService {
	if !cfg.TTSEnabled {
		return nil
	}
	backend := openai.NewSynthesizer(openai.SynthesizerConfig{
		Config: openai.Config{
			BaseURL: cfg.TTSRuntimeURL,
			APIKey:  cfg.RuntimeAPIKey,
			Model:   cfg.TTSModelName,
			Device:  cfg.TTSDevice,
		},
		SampleRate: cfg.TTSSampleRate,
	})
	svc := inference.NewSynthesisService(backend, inference.PoolConfig{
		MaxConcurrent: int64(cfg.InferenceConcurrency),
		Observer:      collector,
	}, logger)
	appendModelLifecycle(lc, "tts", svc.Pool, logger)
	return svc
}

// appendModelLifecycle loads the model in the background so the server can
// report model_loaded=false while the runtime warms up.
func appendModelLifecycle(lc fx.Lifecycle, kind string, pool *inference.Pool, logger *slog.Logger) {
	loadCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := pool.Load(loadCtx); err != nil {
					logger.Error("model load failed", "kind", kind, "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			if err := pool.Unload(); err != nil {
				return fmt.Errorf("unload %s model: %w", kind, err)
			}
			return nil
		},
	})
}

var InferenceModule = fx.Options(
	fx.Provide(
		ProvideTranscriptionService,
		ProvideSynthesisService,
	),
)
