package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/eleven-am/speech-sidecar/internal/shared"
)

type segmentResponse struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type recognizeResponse struct {
	Text                string            `json:"text"`
	Segments            []segmentResponse `json:"segments"`
	Language            string            `json:"language"`
	LanguageProbability float64           `json:"language_probability"`
	Duration            float64           `json:"duration"`
}

// Recognize transcribes a complete WAV file in one request.
func (c *Client) Recognize(ctx context.Context, wav []byte, opts SessionOptions) (*Recognition, error) {
	opts = normalizeOptions(opts)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	q := url.Values{}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("task", opts.Task.String())
	if opts.BeamSize > 0 {
		q.Set("beam_size", strconv.Itoa(opts.BeamSize))
	}
	if opts.VADFilter != nil {
		q.Set("vad_filter", strconv.FormatBool(*opts.VADFilter))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/transcribe?"+q.Encode(), &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range c.cfg.Header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcribe: %w", shared.ResponseError(resp))
	}

	var out recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}

	result := &Recognition{
		Text:                out.Text,
		Language:            out.Language,
		LanguageProbability: out.LanguageProbability,
		Duration:            out.Duration,
		Segments:            make([]TranscriptEvent, 0, len(out.Segments)),
	}
	var total float64
	for _, s := range out.Segments {
		result.Segments = append(result.Segments, TranscriptEvent{
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			Confidence: s.Confidence,
			Language:   out.Language,
		})
		total += s.Confidence
	}
	if len(out.Segments) > 0 {
		result.Confidence = total / float64(len(out.Segments))
	}
	return result, nil
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health: %w", shared.ResponseError(resp))
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &status, nil
}
