package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/eleven-am/speech-sidecar/internal/shared"
)

const (
	transcriptionTimeout = 5 * time.Minute
	synthesisTimeout     = 5 * time.Minute
	modelSampleRate      = 16000
)

// Transcriber is the model capability behind POST /transcribe.
type Transcriber interface {
	Loaded() bool
	Transcribe(ctx context.Context, req inference.TranscribeRequest) ([]inference.Segment, inference.Info, error)
}

// Synthesizer is the model capability behind POST /synthesize.
type Synthesizer interface {
	Loaded() bool
	Synthesize(ctx context.Context, req inference.SynthesizeRequest) ([]float32, error)
	SampleRate() int
}

type BatchTranscribeRequest struct {
	Audio     io.Reader
	Language  string
	Task      shared.Task
	BeamSize  int
	VADFilter bool
}

type BatchTranscribeResult struct {
	Text                string
	Segments            []inference.Segment
	Language            string
	LanguageProbability float64
	Duration            float64
}

// BatchTranscribe decodes a WAV upload, normalises it to mono 16 kHz and
// transcribes it in a single inference call.
func BatchTranscribe(ctx context.Context, model Transcriber, req BatchTranscribeRequest) (*BatchTranscribeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, transcriptionTimeout)
	defer cancel()

	wav, err := DecodeWAV(req.Audio)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if wav.SampleRate <= 0 || wav.Channels <= 0 {
		return nil, fmt.Errorf("%d channels at %d Hz: %w", wav.Channels, wav.SampleRate, ErrUnsupportedFormat)
	}
	samples, err := DecodePCM16(wav.Mono())
	if err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	samples = Resample(samples, wav.SampleRate, modelSampleRate)

	segments, info, err := model.Transcribe(ctx, inference.TranscribeRequest{
		Samples:    samples,
		SampleRate: modelSampleRate,
		Language:   req.Language,
		Task:       req.Task,
		BeamSize:   req.BeamSize,
		VADFilter:  req.VADFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			texts = append(texts, t)
		}
	}

	duration := info.Duration
	if duration == 0 {
		duration = float64(len(samples)) / modelSampleRate
	}

	return &BatchTranscribeResult{
		Text:                strings.Join(texts, " "),
		Segments:            segments,
		Language:            info.Language,
		LanguageProbability: info.LanguageProbability,
		Duration:            duration,
	}, nil
}

type BatchSynthesizeRequest struct {
	Text             string
	VoiceDescription string
}

type BatchSynthesizeResult struct {
	PCM        []byte
	SampleRate int
}

var errEmptyAudio = errors.New("no audio generated")

func BatchSynthesize(ctx context.Context, model Synthesizer, req BatchSynthesizeRequest) (*BatchSynthesizeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	samples, err := model.Synthesize(ctx, inference.SynthesizeRequest{
		Text:             req.Text,
		VoiceDescription: req.VoiceDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if len(samples) == 0 {
		return nil, errEmptyAudio
	}
	return &BatchSynthesizeResult{
		PCM:        EncodePCM16(samples),
		SampleRate: model.SampleRate(),
	}, nil
}
