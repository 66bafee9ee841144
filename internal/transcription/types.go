package transcription

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/shared"
)

type TranscriptEvent struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
	Language   string
}

type Recognition struct {
	Text                string
	Language            string
	LanguageProbability float64
	Duration            float64
	Confidence          float64
	Segments            []TranscriptEvent
}

type Config struct {
	BaseURL           string
	Header            http.Header
	Backoff           shared.BackoffConfig
	KeepaliveInterval time.Duration
	QueueSize         int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// SessionOptions configure one transcription session. An empty Language
// lets the model detect it.
type SessionOptions struct {
	Language   string
	Task       shared.Task
	SampleRate int
	BeamSize   int
	VADFilter  *bool
}

type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}
