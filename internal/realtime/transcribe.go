package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/eleven-am/speech-sidecar/internal/protocol"
)

const (
	modelSampleRate      = 16000
	transcriptionEndText = "Transcription session completed"
)

// Transcriber is the speech-to-text capability a streaming session needs.
type Transcriber interface {
	Loaded() bool
	Transcribe(ctx context.Context, req inference.TranscribeRequest) ([]inference.Segment, inference.Info, error)
}

type transcribeEndpoint struct {
	s      *wsSession
	model  Transcriber
	cfg    Config
	config protocol.TranscribeConfig
	window *audioWindow
	log    *slog.Logger
}

func newTranscribeEndpoint(s *wsSession, model Transcriber, cfg Config) *transcribeEndpoint {
	return &transcribeEndpoint{
		s:     s,
		model: model,
		cfg:   cfg,
		log:   s.log,
	}
}

func (e *transcribeEndpoint) loaded() bool {
	return e.model.Loaded()
}

func (e *transcribeEndpoint) configure(data []byte) (protocol.Ready, error) {
	config, err := protocol.DecodeConfig[protocol.TranscribeConfig](data)
	if err != nil {
		return protocol.Ready{}, err
	}
	e.config = config
	e.window = newAudioWindow(config.SampleRate, e.cfg.ChunkSeconds, e.cfg.OverlapSeconds)
	e.log.Info("transcription configured",
		"language", config.LanguageCode(),
		"task", config.Task,
		"sample_rate", config.SampleRate,
	)
	return protocol.Ready{Message: "Ready to receive audio"}, nil
}

func (e *transcribeEndpoint) onBinary(data []byte, submit func(job)) {
	samples, err := audio.DecodePCM16(data)
	if err != nil {
		e.log.Warn("rejecting audio frame", "bytes", len(data), "error", err)
		e.s.Send(protocol.Error{Message: fmt.Sprintf("invalid audio frame: %v", err)})
		return
	}
	for _, w := range e.window.Append(samples) {
		submit(e.transcribe(w, e.cfg.InterimBeamSize))
	}
}

func (e *transcribeEndpoint) onText(string, func(job)) {
	e.log.Debug("ignoring text on transcription session")
}

func (e *transcribeEndpoint) flush(submit func(job)) {
	if w, ok := e.window.Flush(); ok {
		submit(e.transcribe(w, e.cfg.FinalBeamSize))
	}
}

func (e *transcribeEndpoint) terminal() protocol.Message {
	return protocol.SessionEnded{Message: transcriptionEndText}
}

func (e *transcribeEndpoint) transcribe(w window, beamSize int) job {
	return func(ctx context.Context) {
		req := inference.TranscribeRequest{
			Samples:    audio.Resample(w.samples, e.config.SampleRate, modelSampleRate),
			SampleRate: modelSampleRate,
			Language:   e.config.LanguageCode(),
			Task:       e.config.Task,
			BeamSize:   beamSize,
			VADFilter:  e.config.VAD(),
		}
		if e.config.BeamSize > 0 {
			req.BeamSize = e.config.BeamSize
		}

		segments, _, err := e.model.Transcribe(ctx, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			e.log.Error("window transcription failed", "offset", w.offset, "error", err)
			e.s.Send(protocol.Error{Message: fmt.Sprintf("transcription failed: %v", err)})
			return
		}

		for _, seg := range segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			e.s.Send(protocol.Final{
				Text:       text,
				Start:      w.offset + seg.Start,
				End:        w.offset + seg.End,
				Confidence: seg.AvgLogProb,
			})
		}
	}
}
