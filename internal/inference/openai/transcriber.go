package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/eleven-am/speech-sidecar/internal/shared"
)

// Transcriber forwards audio windows to an OpenAI-compatible whisper runtime.
type Transcriber struct {
	client
}

func NewTranscriber(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	if cfg.ComputeType == "" {
		cfg.ComputeType = "float16"
	}
	return &Transcriber{client: newClient(cfg, 120*time.Second)}
}

func (t *Transcriber) Load(ctx context.Context) error {
	return t.checkModel(ctx)
}

func (t *Transcriber) Unload() error { return nil }

func (t *Transcriber) Info() inference.ModelInfo {
	return inference.ModelInfo{
		Name:        t.cfg.Model,
		Device:      t.cfg.Device,
		ComputeType: t.cfg.ComputeType,
	}
}

type verboseTranscription struct {
	Text                string  `json:"text"`
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
	Segments            []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (t *Transcriber) Transcribe(ctx context.Context, req inference.TranscribeRequest) ([]inference.Segment, inference.Info, error) {
	wav := audio.EncodeWAV(audio.EncodePCM16(req.Samples), req.SampleRate, 1)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, inference.Info{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, inference.Info{}, fmt.Errorf("write audio: %w", err)
	}
	_ = w.WriteField("model", t.cfg.Model)
	_ = w.WriteField("response_format", "verbose_json")
	if req.Language != "" {
		_ = w.WriteField("language", req.Language)
	}
	if req.BeamSize > 0 {
		_ = w.WriteField("beam_size", strconv.Itoa(req.BeamSize))
	}
	_ = w.WriteField("vad_filter", strconv.FormatBool(req.VADFilter))
	if err := w.Close(); err != nil {
		return nil, inference.Info{}, fmt.Errorf("close form: %w", err)
	}

	path := "/v1/audio/transcriptions"
	if req.Task == shared.TaskTranslate {
		path = "/v1/audio/translations"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, inference.Info{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.do(httpReq)
	if err != nil {
		return nil, inference.Info{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	var out verboseTranscription
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, inference.Info{}, fmt.Errorf("decode transcription: %w", err)
	}

	segments := make([]inference.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segments = append(segments, inference.Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			AvgLogProb: s.AvgLogprob,
		})
	}
	if len(segments) == 0 && out.Text != "" {
		segments = append(segments, inference.Segment{End: out.Duration, Text: out.Text})
	}

	info := inference.Info{
		Language:            out.Language,
		LanguageProbability: out.LanguageProbability,
		Duration:            out.Duration,
	}
	if info.Duration == 0 && req.SampleRate > 0 {
		info.Duration = float64(len(req.Samples)) / float64(req.SampleRate)
	}
	return segments, info, nil
}
