package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/protocol"
	"github.com/eleven-am/speech-sidecar/internal/shared"
	"github.com/eleven-am/speech-sidecar/internal/stream"
)

const (
	streamPath     = "/ws/synthesize"
	defaultTimeout = 5 * time.Minute
	maxBatchAudio  = 256 * 1024 * 1024
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
		logger: cfg.Logger.With("component", "tts_client"),
	}, nil
}

// SynthesizeStream sends text fragments and yields audio for each
// synthesised sentence.
type SynthesizeStream struct {
	*stream.Stream[string, SynthesizedAudio]
}

func (s *SynthesizeStream) PushText(text string) bool {
	return s.Push(text)
}

func (c *Client) Stream(opts Options) *SynthesizeStream {
	if opts.SampleRate <= 0 {
		opts.SampleRate = protocol.DefaultSynthesizeRate
	}
	d := &dialect{opts: opts}
	st := stream.New[string, SynthesizedAudio](stream.Config{
		URL:               stream.WebSocketURL(c.cfg.BaseURL),
		Header:            c.cfg.Header,
		Backoff:           c.cfg.Backoff,
		KeepaliveInterval: c.cfg.KeepaliveInterval,
		QueueSize:         c.cfg.QueueSize,
		Logger:            c.logger,
	}, d)
	d.requestID = st.ID()
	return &SynthesizeStream{Stream: st}
}

// Synthesize streams a single complete text: the text is queued and input
// is ended immediately.
func (c *Client) Synthesize(text string, opts Options) *SynthesizeStream {
	s := c.Stream(opts)
	s.PushText(text)
	s.EndInput()
	return s
}

type dialect struct {
	opts      Options
	requestID string
	segment   int
}

func (d *dialect) Path() string { return streamPath }

func (d *dialect) Config() any {
	return protocol.SynthesizeConfig{
		VoiceDescription: d.opts.VoiceDescription,
		SampleRate:       d.opts.SampleRate,
	}
}

func (d *dialect) Encode(text string) (protocol.Frame, error) {
	return protocol.Frame{Message: protocol.TextFragment{Text: text}}, nil
}

func (d *dialect) Decode(m protocol.Message) (SynthesizedAudio, bool, error) {
	a, ok := m.(protocol.Audio)
	if !ok {
		return SynthesizedAudio{}, false, fmt.Errorf("unexpected %s message on synthesis stream", m.Type())
	}
	if len(a.Data)%audio.SampleWidth != 0 {
		return SynthesizedAudio{}, false, audio.ErrOddLength
	}
	if len(a.Data) == 0 {
		return SynthesizedAudio{}, false, nil
	}
	rate := a.SampleRate
	if rate <= 0 {
		rate = d.opts.SampleRate
	}
	out := SynthesizedAudio{
		RequestID:         d.requestID,
		SegmentID:         strconv.Itoa(d.segment),
		PCM:               a.Data,
		SampleRate:        rate,
		Channels:          1,
		SamplesPerChannel: len(a.Data) / audio.SampleWidth,
	}
	d.segment++
	return out, true, nil
}

type synthesizeRequest struct {
	Text             string `json:"text"`
	VoiceDescription string `json:"voice_description,omitempty"`
	Format           Format `json:"format"`
}

// SynthesizeBatch synthesises text in a single request and returns the
// encoded audio.
func (c *Client) SynthesizeBatch(ctx context.Context, text string, opts Options, format Format) (*BatchAudio, error) {
	if format == "" {
		format = FormatWAV
	}
	payload, err := json.Marshal(synthesizeRequest{Text: text, VoiceDescription: opts.VoiceDescription, Format: format})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesize: %w", shared.ResponseError(resp))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBatchAudio))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	out := &BatchAudio{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if sr := resp.Header.Get("X-Sample-Rate"); sr != "" {
		out.SampleRate, _ = strconv.Atoi(sr)
	}
	return out, nil
}
