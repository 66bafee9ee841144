package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/protocol"
	"github.com/eleven-am/speech-sidecar/internal/session"
	"github.com/eleven-am/speech-sidecar/internal/shared"
	"github.com/gorilla/websocket"
)

const maxCloseReason = 120

type outbound struct {
	msg    protocol.Message
	close  bool
	code   int
	reason string
}

type wsSession struct {
	ID        string
	kind      string
	conn      *protocol.Conn
	machine   *session.Machine
	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
	createdAt time.Time
	cfg       Config
	log       *slog.Logger
}

func newWSSession(ws *websocket.Conn, kind string, cfg Config, log *slog.Logger) *wsSession {
	id := shared.NewID(kind + "_")
	conn := protocol.NewConn(ws)
	ws.SetReadLimit(cfg.MaxMessageSize)

	s := &wsSession{
		ID:        id,
		kind:      kind,
		conn:      conn,
		machine:   session.NewMachine(),
		send:      make(chan outbound, cfg.BufferSizes.Outbound),
		done:      make(chan struct{}),
		createdAt: time.Now(),
		cfg:       cfg,
		log:       log.With("session_id", id, "kind", kind),
	}
	s.machine.OnTransition(func(from, to session.State) {
		s.log.Debug("state transition", "from", from, "to", to)
	})
	return s
}

func (s *wsSession) Send(m protocol.Message) bool {
	select {
	case s.send <- outbound{msg: m}:
		return true
	case <-s.done:
		return false
	}
}

func (s *wsSession) finish(code int, reason string) {
	select {
	case s.send <- outbound{close: true, code: code, reason: reason}:
	case <-s.done:
	}
}

// reject writes an error and closes the socket directly. It is only used
// before the write pump starts.
func (s *wsSession) reject(code int, message string) {
	_ = s.conn.WriteMessage(protocol.Error{Message: message})
	reason := message
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	_ = s.conn.CloseWith(code, reason)
}

func (s *wsSession) writePump(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case item := <-s.send:
			if item.close {
				if err := s.conn.CloseWith(item.code, item.reason); err != nil {
					s.log.Debug("close after finish", "error", err)
				}
				return nil
			}
			if err := s.conn.WriteMessage(item.msg); err != nil {
				return fmt.Errorf("write %s: %w", item.msg.Type(), err)
			}
		case <-ticker.C:
			if err := s.conn.WritePing(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (s *wsSession) armReadDeadline() {
	ws := s.conn.Underlying()
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
}

func (s *wsSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		s.machine.Close()
	})
}

func (s *wsSession) Done() <-chan struct{} {
	return s.done
}

func (s *wsSession) CreatedAt() time.Time {
	return s.createdAt
}
