package inference

import (
	"context"

	"github.com/eleven-am/speech-sidecar/internal/shared"
)

type Segment struct {
	Start      float64
	End        float64
	Text       string
	AvgLogProb float64
}

type Info struct {
	Language            string
	LanguageProbability float64
	Duration            float64
}

type TranscribeRequest struct {
	Samples    []float32
	SampleRate int
	Language   string
	Task       shared.Task
	BeamSize   int
	VADFilter  bool
}

type SynthesizeRequest struct {
	Text             string
	VoiceDescription string
}

type ModelInfo struct {
	Name        string `json:"model"`
	Device      string `json:"device"`
	ComputeType string `json:"compute_type,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
}

type Loader interface {
	Load(ctx context.Context) error
	Unload() error
	Info() ModelInfo
}

type Transcriber interface {
	Loader
	Transcribe(ctx context.Context, req TranscribeRequest) ([]Segment, Info, error)
}

type Synthesizer interface {
	Loader
	Synthesize(ctx context.Context, req SynthesizeRequest) ([]float32, error)
	SampleRate() int
}

type Observer interface {
	ObserveInference(kind string, seconds float64, err error)
}
