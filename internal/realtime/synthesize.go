package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/eleven-am/speech-sidecar/internal/protocol"
)

const synthesisEndText = "Synthesis completed"

// Synthesizer is the text-to-speech capability a streaming session needs.
type Synthesizer interface {
	Loaded() bool
	Synthesize(ctx context.Context, req inference.SynthesizeRequest) ([]float32, error)
	SampleRate() int
}

type synthesizeEndpoint struct {
	s         *wsSession
	model     Synthesizer
	config    protocol.SynthesizeConfig
	sentences *SentenceBuffer
	log       *slog.Logger
}

func newSynthesizeEndpoint(s *wsSession, model Synthesizer) *synthesizeEndpoint {
	return &synthesizeEndpoint{
		s:         s,
		model:     model,
		sentences: NewSentenceBuffer(s.log),
		log:       s.log,
	}
}

func (e *synthesizeEndpoint) loaded() bool {
	return e.model.Loaded()
}

func (e *synthesizeEndpoint) configure(data []byte) (protocol.Ready, error) {
	config, err := protocol.DecodeConfig[protocol.SynthesizeConfig](data)
	if err != nil {
		return protocol.Ready{}, err
	}
	e.config = config
	e.log.Info("synthesis configured", "sample_rate", config.SampleRate)
	return protocol.Ready{Message: "Ready to receive text", SampleRate: config.SampleRate}, nil
}

func (e *synthesizeEndpoint) onBinary(data []byte, _ func(job)) {
	e.log.Warn("ignoring binary frame on synthesis session", "bytes", len(data))
}

func (e *synthesizeEndpoint) onText(text string, submit func(job)) {
	for _, sentence := range e.sentences.Add(text) {
		submit(e.synthesize(sentence))
	}
}

func (e *synthesizeEndpoint) flush(submit func(job)) {
	if rest := e.sentences.Flush(); rest != "" {
		submit(e.synthesize(rest))
	}
}

func (e *synthesizeEndpoint) terminal() protocol.Message {
	return protocol.Complete{Message: synthesisEndText}
}

func (e *synthesizeEndpoint) synthesize(text string) job {
	return func(ctx context.Context) {
		samples, err := e.model.Synthesize(ctx, inference.SynthesizeRequest{
			Text:             text,
			VoiceDescription: e.config.VoiceDescription,
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			e.log.Error("sentence synthesis failed", "chars", len(text), "error", err)
			e.s.Send(protocol.Error{Message: fmt.Sprintf("synthesis failed: %v", err)})
			return
		}

		samples = audio.Resample(samples, e.model.SampleRate(), e.config.SampleRate)
		e.s.Send(protocol.Audio{
			Data:       audio.EncodePCM16(samples),
			SampleRate: e.config.SampleRate,
		})
	}
}
