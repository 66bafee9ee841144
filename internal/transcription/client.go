package transcription

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/protocol"
	"github.com/eleven-am/speech-sidecar/internal/shared"
	"github.com/eleven-am/speech-sidecar/internal/stream"
)

const (
	streamPath     = "/ws/transcribe"
	defaultTimeout = 5 * time.Minute
)

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		cfg:    cfg,
		http:   hc,
		logger: cfg.Logger.With("component", "stt_client"),
	}, nil
}

// SpeechStream sends PCM16 audio frames and yields final transcript segments.
type SpeechStream struct {
	*stream.Stream[[]byte, TranscriptEvent]
}

func (s *SpeechStream) PushFrame(pcm []byte) bool {
	return s.Push(pcm)
}

func (s *SpeechStream) PushSamples(samples []float32) bool {
	return s.Push(audio.EncodePCM16(samples))
}

func (c *Client) Stream(opts SessionOptions) *SpeechStream {
	d := &dialect{opts: normalizeOptions(opts)}
	return &SpeechStream{
		Stream: stream.New[[]byte, TranscriptEvent](stream.Config{
			URL:               stream.WebSocketURL(c.cfg.BaseURL),
			Header:            c.cfg.Header,
			Backoff:           c.cfg.Backoff,
			KeepaliveInterval: c.cfg.KeepaliveInterval,
			QueueSize:         c.cfg.QueueSize,
			Logger:            c.logger,
		}, d),
	}
}

func normalizeOptions(opts SessionOptions) SessionOptions {
	if opts.SampleRate <= 0 {
		opts.SampleRate = protocol.DefaultTranscribeRate
	}
	if opts.Task == "" {
		opts.Task = shared.TaskTranscribe
	}
	return opts
}

type dialect struct {
	opts SessionOptions
}

func (d *dialect) Path() string { return streamPath }

func (d *dialect) Config() any {
	cfg := protocol.TranscribeConfig{
		SampleRate: d.opts.SampleRate,
		Task:       d.opts.Task,
		BeamSize:   d.opts.BeamSize,
		VADFilter:  d.opts.VADFilter,
	}
	if d.opts.Language != "" {
		lang := d.opts.Language
		cfg.Language = &lang
	}
	return cfg
}

func (d *dialect) Encode(pcm []byte) (protocol.Frame, error) {
	if len(pcm)%audio.SampleWidth != 0 {
		return protocol.Frame{}, audio.ErrOddLength
	}
	return protocol.Frame{Binary: pcm}, nil
}

func (d *dialect) Decode(m protocol.Message) (TranscriptEvent, bool, error) {
	f, ok := m.(protocol.Final)
	if !ok {
		return TranscriptEvent{}, false, fmt.Errorf("unexpected %s message on transcription stream", m.Type())
	}
	if strings.TrimSpace(f.Text) == "" {
		return TranscriptEvent{}, false, nil
	}
	return TranscriptEvent{
		Text:       f.Text,
		Start:      f.Start,
		End:        f.End,
		Confidence: f.Confidence,
		Language:   d.opts.Language,
	}, true, nil
}
