package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/inference"
)

const defaultSynthesisRate = 24000

type SynthesizerConfig struct {
	Config
	Voice      string
	SampleRate int
}

// Synthesizer requests raw PCM16 speech from an OpenAI-compatible runtime.
type Synthesizer struct {
	client
	voice      string
	sampleRate int
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = "parler-tts/parler-tts-mini-v1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSynthesisRate
	}
	return &Synthesizer{
		client:     newClient(cfg.Config, 60*time.Second),
		voice:      cfg.Voice,
		sampleRate: cfg.SampleRate,
	}
}

func (s *Synthesizer) Load(ctx context.Context) error {
	return s.checkModel(ctx)
}

func (s *Synthesizer) Unload() error { return nil }

func (s *Synthesizer) SampleRate() int { return s.sampleRate }

func (s *Synthesizer) Info() inference.ModelInfo {
	return inference.ModelInfo{
		Name:       s.cfg.Model,
		Device:     s.cfg.Device,
		SampleRate: s.sampleRate,
	}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	Instructions   string `json:"instructions,omitempty"`
	ResponseFormat string `json:"response_format"`
	SampleRate     int    `json:"sample_rate,omitempty"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, req inference.SynthesizeRequest) ([]float32, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          s.cfg.Model,
		Input:          req.Text,
		Voice:          s.voice,
		Instructions:   req.VoiceDescription,
		ResponseFormat: "pcm",
		SampleRate:     s.sampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	pcm = pcm[:len(pcm)-len(pcm)%audio.SampleWidth]
	return audio.DecodePCM16(pcm)
}
