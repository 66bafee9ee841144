package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eleven-am/speech-sidecar/internal/shared"
)

var (
	ErrUnsupportedTask = errors.New("unsupported task")
	ErrUnsupportedRate = errors.New("unsupported sample_rate")
)

const (
	DefaultTranscribeRate = 16000
	DefaultSynthesizeRate = 24000

	MinSampleRate = 8000
	MaxSampleRate = 48000
)

func validateRate(rate int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("%w %d: must be between %d and %d", ErrUnsupportedRate, rate, MinSampleRate, MaxSampleRate)
	}
	return nil
}

// TranscribeConfig is the first message on the transcription endpoint.
// A nil Language asks the model to detect it.
type TranscribeConfig struct {
	Language   *string     `json:"language"`
	SampleRate int         `json:"sample_rate"`
	Task       shared.Task `json:"task"`
	BeamSize   int         `json:"beam_size,omitempty"`
	VADFilter  *bool       `json:"vad_filter,omitempty"`
}

func (c *TranscribeConfig) Validate() error {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultTranscribeRate
	}
	if c.Task == "" {
		c.Task = shared.TaskTranscribe
	}
	if err := validateRate(c.SampleRate); err != nil {
		return err
	}
	if !c.Task.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedTask, c.Task)
	}
	return nil
}

func (c TranscribeConfig) LanguageCode() string {
	if c.Language == nil {
		return ""
	}
	return *c.Language
}

func (c TranscribeConfig) VAD() bool {
	return c.VADFilter == nil || *c.VADFilter
}

// SynthesizeConfig is the first message on the synthesis endpoint.
type SynthesizeConfig struct {
	VoiceDescription string `json:"voice_description"`
	SampleRate       int    `json:"sample_rate"`
}

func (c *SynthesizeConfig) Validate() error {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSynthesizeRate
	}
	return validateRate(c.SampleRate)
}

// DecodeConfig parses a config payload and applies its defaults.
func DecodeConfig[T any, PT interface {
	*T
	Validate() error
}](data []byte) (T, error) {
	var cfg T
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := PT(&cfg).Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
