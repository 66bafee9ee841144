package synthesis

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/shared"
)

type SynthesizedAudio struct {
	RequestID         string
	SegmentID         string
	PCM               []byte
	SampleRate        int
	Channels          int
	SamplesPerChannel int
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

type Options struct {
	VoiceDescription string
	SampleRate       int
}

type Format string

const (
	FormatWAV Format = "wav"
	FormatRaw Format = "raw"
)

type BatchAudio struct {
	Data        []byte
	ContentType string
	SampleRate  int
}
