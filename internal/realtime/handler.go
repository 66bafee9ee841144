package realtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	KindTranscribe = "stt"
	KindSynthesize = "tts"
)

type Handler struct {
	manager  *Manager
	stt      Transcriber
	tts      Synthesizer
	limiter  *rateLimiterStore
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler serves the streaming routes. Either model may be nil, in which
// case its route is not registered.
func NewHandler(manager *Manager, stt Transcriber, tts Synthesizer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		manager: manager,
		stt:     stt,
		tts:     tts,
		limiter: newRateLimiterStore(manager.cfg.RateLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With("handler", "realtime"),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	if h.stt != nil {
		e.GET("/ws/transcribe", h.HandleTranscribe)
	}
	if h.tts != nil {
		e.GET("/ws/synthesize", h.HandleSynthesize)
	}
}

// HandleTranscribe godoc
// @Summary Stream audio for transcription
// @Tags realtime
// @Router /ws/transcribe [get]
func (h *Handler) HandleTranscribe(c echo.Context) error {
	return h.accept(c, KindTranscribe, func(s *wsSession) endpoint {
		return newTranscribeEndpoint(s, h.stt, h.manager.cfg)
	})
}

// HandleSynthesize godoc
// @Summary Stream text for synthesis
// @Tags realtime
// @Router /ws/synthesize [get]
func (h *Handler) HandleSynthesize(c echo.Context) error {
	return h.accept(c, KindSynthesize, func(s *wsSession) endpoint {
		return newSynthesizeEndpoint(s, h.tts)
	})
}

func (h *Handler) accept(c echo.Context, kind string, build func(*wsSession) endpoint) error {
	if !h.limiter.admit(c) {
		h.manager.recorder.SessionRejected(kind, "rate_limited")
		h.log.Warn("session rate limited", "kind", kind, "ip", c.RealIP())
		return rejectSession()
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "kind", kind, "error", err)
		return nil
	}

	s := h.manager.newSession(ws, kind)
	h.manager.serve(context.WithoutCancel(c.Request().Context()), s, build(s))
	return nil
}

func (h *Handler) Close() {
	h.limiter.Close()
	h.manager.CloseAll()
}
