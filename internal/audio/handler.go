package audio

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/eleven-am/speech-sidecar/internal/cache"
	"github.com/eleven-am/speech-sidecar/internal/shared"
	"github.com/labstack/echo/v4"
)

const (
	maxFileSize    = 100 * 1024 * 1024
	maxInputLength = 4096
	initialBufSize = 64 * 1024
	defaultBeam    = 5
)

var audioBufferPool = sync.Pool{
	New: func() any {
		b := &bytes.Buffer{}
		b.Grow(initialBufSize)
		return b
	},
}

type Handler struct {
	stt    Transcriber
	tts    Synthesizer
	cache  *cache.SynthesisCache
	logger *slog.Logger
}

// NewHandler serves the batch endpoints. A nil model leaves its route
// unregistered and a nil cache disables caching.
func NewHandler(stt Transcriber, tts Synthesizer, synthCache *cache.SynthesisCache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		stt:    stt,
		tts:    tts,
		cache:  synthCache,
		logger: logger.With("handler", "audio"),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	if h.stt != nil {
		e.POST("/transcribe", h.HandleTranscribe)
	}
	if h.tts != nil {
		e.POST("/synthesize", h.HandleSynthesize)
	}
}

type SegmentResponse struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type TranscriptionResponse struct {
	Text                string            `json:"text"`
	Segments            []SegmentResponse `json:"segments"`
	Language            string            `json:"language"`
	LanguageProbability float64           `json:"language_probability"`
	Duration            float64           `json:"duration"`
}

type SynthesizeRequest struct {
	Text             string `json:"text"`
	VoiceDescription string `json:"voice_description"`
	Format           string `json:"format"`
}

// HandleTranscribe transcribes an uploaded WAV file
// @Summary      Transcribe audio
// @Description  Transcribes a 16-bit PCM WAV file. Stereo input is downmixed and resampled to 16 kHz.
// @Tags         audio
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "WAV file to transcribe"
// @Param        language query string false "Language code (auto-detect when empty)"
// @Param        task query string false "transcribe or translate" default(transcribe)
// @Param        beam_size query int false "Beam size for decoding" default(5)
// @Param        vad_filter query bool false "Enable VAD filtering" default(true)
// @Success      200 {object} TranscriptionResponse
// @Failure      400 {object} shared.APIError "Invalid request"
// @Failure      413 {object} shared.APIError "File too large"
// @Failure      415 {object} shared.APIError "Unsupported audio format"
// @Failure      503 {object} shared.APIError "Model not loaded"
// @Router       /transcribe [post]
func (h *Handler) HandleTranscribe(c echo.Context) error {
	if !h.stt.Loaded() {
		return shared.ServiceUnavailable("model_not_loaded", "Model not loaded")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return shared.BadRequest("missing_file", "File is required")
	}
	if file.Size > maxFileSize {
		return shared.PayloadTooLarge("file_too_large", fmt.Sprintf("File too large (max %d MB)", maxFileSize/1024/1024))
	}

	task := shared.Task(c.QueryParam("task"))
	if task == "" {
		task = shared.TaskTranscribe
	}
	if !task.Valid() {
		return shared.BadRequest("invalid_task", fmt.Sprintf("Unsupported task %q", task))
	}

	beamSize := defaultBeam
	if v := c.QueryParam("beam_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return shared.BadRequest("invalid_beam_size", "beam_size must be a positive integer")
		}
		beamSize = n
	}

	vadFilter := true
	if v := c.QueryParam("vad_filter"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return shared.BadRequest("invalid_vad_filter", "vad_filter must be a boolean")
		}
		vadFilter = b
	}

	src, err := file.Open()
	if err != nil {
		return shared.InternalError("file_error", "Failed to open file")
	}
	defer src.Close()

	result, err := BatchTranscribe(c.Request().Context(), h.stt, BatchTranscribeRequest{
		Audio:     src,
		Language:  c.QueryParam("language"),
		Task:      task,
		BeamSize:  beamSize,
		VADFilter: vadFilter,
	})
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			return shared.NewAPIError("unsupported_format", err.Error()).ToHTTP(http.StatusUnsupportedMediaType)
		}
		if errors.Is(err, shared.ErrNotLoaded) {
			return shared.ServiceUnavailable("model_not_loaded", "Model not loaded")
		}
		h.logger.Error("transcription failed", "filename", file.Filename, "error", err)
		return shared.InternalError("transcription_failed", "Transcription failed")
	}

	segments := make([]SegmentResponse, 0, len(result.Segments))
	for _, seg := range result.Segments {
		segments = append(segments, SegmentResponse{
			Start:      seg.Start,
			End:        seg.End,
			Text:       strings.TrimSpace(seg.Text),
			Confidence: seg.AvgLogProb,
		})
	}

	h.logger.Info("transcribed upload", "duration", result.Duration, "segments", len(segments))
	return c.JSON(http.StatusOK, TranscriptionResponse{
		Text:                result.Text,
		Segments:            segments,
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		Duration:            result.Duration,
	})
}

// HandleSynthesize renders text to speech
// @Summary      Synthesize speech
// @Description  Synthesizes the text with the described voice. raw returns PCM16LE with an X-Sample-Rate header.
// @Tags         audio
// @Accept       json
// @Produce      audio/wav,application/octet-stream
// @Param        request body SynthesizeRequest true "Synthesis request"
// @Success      200 {file} binary "Audio data"
// @Failure      400 {object} shared.APIError "Invalid request"
// @Failure      503 {object} shared.APIError "Model not loaded"
// @Router       /synthesize [post]
func (h *Handler) HandleSynthesize(c echo.Context) error {
	if !h.tts.Loaded() {
		return shared.ServiceUnavailable("model_not_loaded", "Model not loaded")
	}

	var req SynthesizeRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "Invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return shared.BadRequest("missing_text", "Text is required")
	}
	if len(req.Text) > maxInputLength {
		return shared.BadRequest("text_too_long", fmt.Sprintf("Text exceeds maximum length of %d characters", maxInputLength))
	}

	switch req.Format {
	case "":
		req.Format = "wav"
	case "wav", "raw":
	case "mp3":
		return shared.BadRequest("unsupported_format", "mp3 output is not supported, use wav or raw")
	default:
		return shared.BadRequest("unsupported_format", fmt.Sprintf("Unknown format %q", req.Format))
	}

	ctx := c.Request().Context()
	key := cache.Key{
		Text:             req.Text,
		VoiceDescription: req.VoiceDescription,
		Format:           req.Format,
		SampleRate:       h.tts.SampleRate(),
	}
	if entry, ok, err := h.cache.Get(ctx, key); err != nil {
		h.logger.Warn("synthesis cache unavailable", "error", err)
	} else if ok {
		return h.writeAudio(c, entry.ContentType, entry.SampleRate, entry.Data)
	}

	result, err := BatchSynthesize(ctx, h.tts, BatchSynthesizeRequest{
		Text:             req.Text,
		VoiceDescription: req.VoiceDescription,
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotLoaded) {
			return shared.ServiceUnavailable("model_not_loaded", "Model not loaded")
		}
		h.logger.Error("synthesis failed", "chars", len(req.Text), "error", err)
		return shared.InternalError("synthesis_failed", "Speech synthesis failed")
	}

	buf := audioBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer audioBufferPool.Put(buf)

	contentType := "application/octet-stream"
	if req.Format == "wav" {
		contentType = "audio/wav"
		buf.Write(EncodeWAV(result.PCM, result.SampleRate, 1))
	} else {
		buf.Write(result.PCM)
	}

	if err := h.cache.Put(ctx, key, cache.Entry{
		Data:        buf.Bytes(),
		ContentType: contentType,
		SampleRate:  result.SampleRate,
	}); err != nil {
		h.logger.Warn("failed to cache synthesis", "error", err)
	}

	return h.writeAudio(c, contentType, result.SampleRate, buf.Bytes())
}

func (h *Handler) writeAudio(c echo.Context, contentType string, sampleRate int, data []byte) error {
	c.Response().Header().Set("X-Sample-Rate", strconv.Itoa(sampleRate))
	return c.Blob(http.StatusOK, contentType, data)
}
