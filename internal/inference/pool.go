package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/shared"
	"golang.org/x/sync/semaphore"
)

// Pool owns the load state of a model and bounds how many inference calls
// may run against it at once.
type Pool struct {
	kind     string
	loader   Loader
	sem      *semaphore.Weighted
	loaded   atomic.Bool
	observer Observer
	logger   *slog.Logger
}

type PoolConfig struct {
	Kind          string
	MaxConcurrent int64
	Observer      Observer
}

func NewPool(loader Loader, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Pool{
		kind:     cfg.Kind,
		loader:   loader,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		observer: cfg.Observer,
		logger:   logger.With("component", "inference", "kind", cfg.Kind),
	}
}

func (p *Pool) Load(ctx context.Context) error {
	if p.loaded.Load() {
		return nil
	}
	info := p.loader.Info()
	p.logger.Info("loading model", "model", info.Name, "device", info.Device)

	start := time.Now()
	if err := p.loader.Load(ctx); err != nil {
		return fmt.Errorf("load %s model: %w", p.kind, err)
	}
	p.loaded.Store(true)
	p.logger.Info("model loaded", "model", info.Name, "duration", time.Since(start))
	return nil
}

func (p *Pool) Unload() error {
	if !p.loaded.Swap(false) {
		return nil
	}
	if err := p.loader.Unload(); err != nil {
		return fmt.Errorf("unload %s model: %w", p.kind, err)
	}
	p.logger.Info("model unloaded")
	return nil
}

func (p *Pool) Loaded() bool {
	return p.loaded.Load()
}

func (p *Pool) Info() ModelInfo {
	return p.loader.Info()
}

func (p *Pool) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !p.loaded.Load() {
		return shared.ErrNotLoaded
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire inference slot: %w", err)
	}
	defer p.sem.Release(1)

	start := time.Now()
	err := fn(ctx)
	if p.observer != nil {
		p.observer.ObserveInference(p.kind, time.Since(start).Seconds(), err)
	}
	return err
}

type TranscriptionService struct {
	*Pool
	backend Transcriber
}

func NewTranscriptionService(backend Transcriber, cfg PoolConfig, logger *slog.Logger) *TranscriptionService {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &TranscriptionService{
		Pool:    NewPool(backend, cfg, logger),
		backend: backend,
	}
}

func (s *TranscriptionService) Transcribe(ctx context.Context, req TranscribeRequest) ([]Segment, Info, error) {
	var (
		segments []Segment
		info     Info
	)
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		segments, info, err = s.backend.Transcribe(ctx, req)
		return err
	})
	return segments, info, err
}

type SynthesisService struct {
	*Pool
	backend Synthesizer
}

func NewSynthesisService(backend Synthesizer, cfg PoolConfig, logger *slog.Logger) *SynthesisService {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &SynthesisService{
		Pool:    NewPool(backend, cfg, logger),
		backend: backend,
	}
}

func (s *SynthesisService) Synthesize(ctx context.Context, req SynthesizeRequest) ([]float32, error) {
	var samples []float32
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		samples, err = s.backend.Synthesize(ctx, req)
		return err
	})
	return samples, err
}

func (s *SynthesisService) SampleRate() int {
	return s.backend.SampleRate()
}
