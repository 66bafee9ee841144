package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/protocol"
	"github.com/eleven-am/speech-sidecar/internal/session"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const modelNotLoaded = "Model not loaded"

type job func(ctx context.Context)

// endpoint is the per-session behavior of one streaming route.
type endpoint interface {
	loaded() bool
	configure(data []byte) (protocol.Ready, error)
	onBinary(data []byte, submit func(job))
	onText(text string, submit func(job))
	flush(submit func(job))
	terminal() protocol.Message
}

type Manager struct {
	cfg      Config
	recorder Recorder
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*wsSession
}

func NewManager(cfg Config, recorder Recorder, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		recorder: recorder,
		log:      log.With("component", "realtime"),
		sessions: make(map[string]*wsSession),
	}
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll tears down every live session without a terminal message.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*wsSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) newSession(ws *websocket.Conn, kind string) *wsSession {
	s := newWSSession(ws, kind, m.cfg, m.log)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) remove(s *wsSession) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

func (m *Manager) serve(ctx context.Context, s *wsSession, ep endpoint) {
	defer m.remove(s)
	defer s.Close()

	m.recorder.SessionOpened(s.kind)
	var graceful atomic.Bool
	defer func() {
		m.recorder.SessionClosed(s.kind, graceful.Load(), time.Since(s.createdAt))
		s.log.Info("session ended", "graceful", graceful.Load(), "duration", time.Since(s.createdAt))
	}()

	_ = s.machine.Transition(session.StateAwaitingReady)
	ready, ok := m.handshake(s, ep)
	if !ok {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, s.conn.Interrupt)
	defer stop()

	jobs := make(chan job, m.cfg.BufferSizes.Jobs)
	submit := func(j job) {
		select {
		case jobs <- j:
		case <-gctx.Done():
		}
	}

	g.Go(func() error {
		err := s.writePump(gctx)
		if err != nil {
			s.Close()
		}
		return err
	})
	g.Go(func() error {
		for j := range jobs {
			if gctx.Err() != nil {
				continue
			}
			j(gctx)
		}
		if graceful.Load() && gctx.Err() == nil {
			s.Send(ep.terminal())
			s.finish(protocol.CloseNormal, "")
			_ = s.machine.Transition(session.StateClosed)
			return nil
		}
		s.Close()
		return nil
	})

	s.Send(ready)
	_ = s.machine.Transition(session.StateStreaming)
	s.log.Info("session started")

	if m.readLoop(gctx, s, ep, submit) {
		graceful.Store(true)
		_ = s.machine.Transition(session.StateDraining)
		ep.flush(submit)
	}
	close(jobs)

	if err := g.Wait(); err != nil {
		s.log.Warn("session transport failed", "error", err)
		graceful.Store(false)
	}
}

func (m *Manager) handshake(s *wsSession, ep endpoint) (protocol.Ready, bool) {
	if !ep.loaded() {
		m.recorder.SessionRejected(s.kind, "not_loaded")
		s.reject(protocol.CloseNormal, modelNotLoaded)
		return protocol.Ready{}, false
	}

	s.armReadDeadline()
	kind, data, err := s.conn.Next()
	if err != nil {
		s.log.Debug("connection closed before config", "error", err)
		return protocol.Ready{}, false
	}
	if kind != websocket.TextMessage {
		m.recorder.ProtocolError(s.kind, "binary_config")
		s.reject(protocol.ClosePolicyViolation, "expected a JSON config message")
		return protocol.Ready{}, false
	}

	ready, err := ep.configure(data)
	if err != nil {
		m.recorder.ProtocolError(s.kind, "invalid_config")
		s.log.Warn("invalid session config", "error", err)
		s.reject(protocol.ClosePolicyViolation, err.Error())
		return protocol.Ready{}, false
	}
	return ready, true
}

// readLoop reports true when the client ended its input with end_of_stream.
func (m *Manager) readLoop(ctx context.Context, s *wsSession, ep endpoint, submit func(job)) bool {
	ws := s.conn.Underlying()
	s.armReadDeadline()
	ws.SetPongHandler(func(string) error {
		s.armReadDeadline()
		return nil
	})

	for ctx.Err() == nil {
		frame, err := s.conn.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				m.recorder.ProtocolError(s.kind, "malformed")
				s.log.Warn("skipping malformed message", "error", err)
				continue
			}
			if ctx.Err() == nil && !protocol.IsClosed(err) {
				s.log.Warn("read failed", "error", err)
			}
			return false
		}
		s.armReadDeadline()

		if frame.IsBinary() {
			ep.onBinary(frame.Binary, submit)
			continue
		}

		switch msg := frame.Message.(type) {
		case protocol.EndOfStream:
			return true
		case protocol.Keepalive:
		case protocol.TextFragment:
			ep.onText(msg.Text, submit)
		case protocol.Unknown:
			m.recorder.ProtocolError(s.kind, "unknown_type")
			s.log.Warn("ignoring unknown message", "type", msg.Kind)
		default:
			s.log.Warn("ignoring unexpected message", "type", msg.Type())
		}
	}
	return false
}
