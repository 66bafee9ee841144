package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/protocol"
	"github.com/eleven-am/speech-sidecar/internal/session"
	"github.com/eleven-am/speech-sidecar/internal/shared"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrHandshake = errors.New("session handshake failed")

const (
	DefaultKeepaliveInterval = 5 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultQueueSize         = 64
)

// Dialect adapts a Stream to one endpoint: what the session config looks
// like, how input chunks go on the wire, and how result messages come back.
type Dialect[In, Out any] interface {
	Path() string
	Config() any
	Encode(in In) (protocol.Frame, error)
	// Decode turns a Final or Audio message into a result. ok is false when
	// the message carries nothing worth delivering.
	Decode(m protocol.Message) (out Out, ok bool, err error)
}

type Config struct {
	URL               string
	Header            http.Header
	Dialer            *websocket.Dialer
	Backoff           shared.BackoffConfig
	KeepaliveInterval time.Duration
	HandshakeTimeout  time.Duration
	QueueSize         int
	Logger            *slog.Logger
}

func (c Config) normalize() Config {
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	c.Backoff = c.Backoff.Normalize()
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type inItem[Out any] struct {
	out Out
	err error
	end bool
}

// Stream is one client session against a streaming endpoint. Input is pushed
// from any goroutine; results are pulled with Recv or Results. The connection
// is opened by the first Recv.
type Stream[In, Out any] struct {
	cfg     Config
	dialect Dialect[In, Out]
	id      string
	machine *session.Machine
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	inputEnded bool
	closed     bool
	conn       *protocol.Conn

	outbound  chan In
	endCh     chan struct{}
	inbound   chan inItem[Out]
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	startOnce sync.Once
	startErr  error

	recvMu   sync.Mutex
	finished bool
}

func New[In, Out any](cfg Config, dialect Dialect[In, Out]) *Stream[In, Out] {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	s := &Stream[In, Out]{
		cfg:      cfg,
		dialect:  dialect,
		id:       id,
		machine:  session.NewMachine(),
		logger:   cfg.Logger.With("component", "stream", "request_id", id, "path", dialect.Path()),
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan In, cfg.QueueSize),
		endCh:    make(chan struct{}),
		inbound:  make(chan inItem[Out], cfg.QueueSize),
		done:     make(chan struct{}),
	}
	s.machine.OnTransition(func(from, to session.State) {
		s.logger.Debug("state transition", "from", from, "to", to)
	})
	return s
}

func (s *Stream[In, Out]) ID() string {
	return s.id
}

func (s *Stream[In, Out]) State() session.State {
	return s.machine.Current()
}

// Push queues a chunk for transmission. It returns false once the stream is
// closed, input has ended or the session is over. Push blocks while the
// outbound queue is full.
func (s *Stream[In, Out]) Push(in In) bool {
	s.mu.Lock()
	rejected := s.closed || s.inputEnded
	s.mu.Unlock()
	if rejected || s.machine.Is(session.StateClosed) {
		return false
	}
	select {
	case s.outbound <- in:
		return true
	case <-s.done:
		return false
	case <-s.ctx.Done():
		return false
	}
}

// EndInput marks the end of input. Only the first call has any effect.
// Chunks already queued are sent before end_of_stream.
func (s *Stream[In, Out]) EndInput() {
	s.mu.Lock()
	if s.closed || s.inputEnded {
		s.mu.Unlock()
		return
	}
	s.endInputLocked()
	s.mu.Unlock()

	if s.machine.Is(session.StateStreaming) {
		_ = s.machine.Transition(session.StateDraining)
	}
}

func (s *Stream[In, Out]) endInputLocked() {
	s.inputEnded = true
	close(s.endCh)
}

func (s *Stream[In, Out]) inputDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputEnded || s.closed
}

// Close ends input if needed, stops the session goroutines, waits for them
// and closes the socket with a normal closure. It is safe to call repeatedly.
func (s *Stream[In, Out]) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.closed = true
		if !s.inputEnded {
			s.endInputLocked()
		}
		s.mu.Unlock()

		s.cancel()
		s.startOnce.Do(func() { s.startErr = shared.ErrClosed })

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			conn.Interrupt()
		}

		s.wg.Wait()

		if conn != nil {
			s.closeErr = conn.Close()
		}
		s.machine.Close()
		s.logger.Debug("stream closed")
	})
	return s.closeErr
}

// Recv returns the next result. It returns io.EOF after the server finishes
// the session or the stream is closed. A server error or transport failure
// is returned once, then io.EOF.
func (s *Stream[In, Out]) Recv(ctx context.Context) (Out, error) {
	var zero Out

	s.startOnce.Do(func() { s.startErr = s.start(ctx) })

	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	if s.finished {
		return zero, io.EOF
	}
	if s.startErr != nil {
		s.finished = true
		if errors.Is(s.startErr, shared.ErrClosed) {
			return zero, io.EOF
		}
		return zero, s.startErr
	}

	select {
	case item := <-s.inbound:
		return s.unpack(item)
	default:
	}

	select {
	case item := <-s.inbound:
		return s.unpack(item)
	case <-s.done:
		s.finished = true
		return zero, io.EOF
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Stream[In, Out]) unpack(item inItem[Out]) (Out, error) {
	if !item.end {
		return item.out, nil
	}
	s.finished = true
	var zero Out
	if item.err != nil {
		return zero, item.err
	}
	return zero, io.EOF
}

// Results yields results until the session ends. A terminal error is
// yielded once as the final element.
func (s *Stream[In, Out]) Results(ctx context.Context) iter.Seq2[Out, error] {
	return func(yield func(Out, error) bool) {
		for {
			out, err := s.Recv(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(out, err) || err != nil {
				return
			}
		}
	}
}

func (s *Stream[In, Out]) start(ctx context.Context) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	conn, err := s.dial(dctx)
	if err != nil {
		s.machine.Close()
		s.cancel()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	stopInterrupt := context.AfterFunc(s.ctx, conn.Interrupt)
	err = s.handshake(conn)
	stopInterrupt()
	if err != nil {
		s.machine.Close()
		s.cancel()
		return err
	}

	s.mu.Lock()
	ended := s.inputEnded
	s.mu.Unlock()
	if ended {
		_ = s.machine.Transition(session.StateDraining)
	}

	s.wg.Add(2)
	go s.sendLoop(conn)
	go s.recvLoop(conn)
	if s.cfg.KeepaliveInterval > 0 {
		s.wg.Add(1)
		go s.keepaliveLoop(conn)
	}
	return nil
}

func (s *Stream[In, Out]) dial(ctx context.Context) (*protocol.Conn, error) {
	url := strings.TrimRight(s.cfg.URL, "/") + s.dialect.Path()
	delay := s.cfg.Backoff.Initial

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Backoff.MaxAttempts; attempt++ {
		ws, resp, err := s.cfg.Dialer.DialContext(ctx, url, s.cfg.Header)
		if err == nil {
			s.logger.Debug("connected", "attempt", attempt)
			return protocol.NewConn(ws), nil
		}
		lastErr = err
		if resp != nil && !retryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}

		s.logger.Warn("dial attempt failed",
			"attempt", attempt,
			"max_attempts", s.cfg.Backoff.MaxAttempts,
			"error", err)

		if attempt == s.cfg.Backoff.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", url, ctx.Err())
		case <-time.After(delay):
		}
		delay = s.cfg.Backoff.Next(delay)
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", url, s.cfg.Backoff.MaxAttempts, lastErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (s *Stream[In, Out]) handshake(conn *protocol.Conn) error {
	_ = s.machine.Transition(session.StateAwaitingReady)

	if err := conn.WriteJSON(s.dialect.Config()); err != nil {
		_ = conn.CloseWith(protocol.CloseProtocolError, "config failed")
		return fmt.Errorf("%w: send config: %v", ErrHandshake, err)
	}

	ws := conn.Underlying()
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	frame, err := conn.Read()
	_ = ws.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.CloseWith(protocol.CloseProtocolError, "no ready")
		return fmt.Errorf("%w: await ready: %v", ErrHandshake, err)
	}

	switch m := frame.Message.(type) {
	case protocol.Ready:
		s.logger.Debug("session ready", "message", m.Message, "sample_rate", m.SampleRate)
		return s.machine.Transition(session.StateStreaming)
	case protocol.Error:
		_ = conn.Close()
		return fmt.Errorf("%w: %w", ErrHandshake, &protocol.RemoteError{Message: m.Message})
	default:
		kind := "binary"
		if m != nil {
			kind = m.Type()
		}
		_ = conn.CloseWith(protocol.CloseProtocolError, "expected ready")
		return fmt.Errorf("%w: expected ready, got %q", ErrHandshake, kind)
	}
}

func (s *Stream[In, Out]) sendLoop(conn *protocol.Conn) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case in := <-s.outbound:
			if !s.send(conn, in) {
				return
			}
		case <-s.endCh:
			for len(s.outbound) > 0 {
				if !s.send(conn, <-s.outbound) {
					return
				}
			}
			if err := conn.WriteMessage(protocol.EndOfStream{}); err != nil {
				s.logger.Warn("send end_of_stream failed", "error", err)
			}
			return
		}
	}
}

func (s *Stream[In, Out]) send(conn *protocol.Conn, in In) bool {
	frame, err := s.dialect.Encode(in)
	if err != nil {
		s.logger.Warn("dropping chunk", "error", err)
		return true
	}
	if frame.IsBinary() {
		err = conn.WriteBinary(frame.Binary)
	} else {
		err = conn.WriteMessage(frame.Message)
	}
	if err != nil {
		s.logger.Warn("send failed", "error", err)
		return false
	}
	return true
}

func (s *Stream[In, Out]) recvLoop(conn *protocol.Conn) {
	defer s.wg.Done()
	defer s.cancel()

	for {
		frame, err := conn.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				s.logger.Warn("skipping malformed message", "error", err)
				continue
			}
			s.handleReadError(err)
			return
		}

		if frame.IsBinary() {
			s.logger.Debug("ignoring binary frame from server", "bytes", len(frame.Binary))
			continue
		}

		switch m := frame.Message.(type) {
		case protocol.Final, protocol.Audio:
			out, ok, err := s.dialect.Decode(m)
			if err != nil {
				s.logger.Warn("skipping undecodable result", "type", m.Type(), "error", err)
				continue
			}
			if ok {
				s.deliver(inItem[Out]{out: out})
			}
		case protocol.SessionEnded, protocol.Complete:
			s.logger.Debug("session finished by server", "type", m.Type())
			s.machine.Close()
			s.deliver(inItem[Out]{end: true})
			return
		case protocol.Error:
			s.logger.Warn("server error", "message", m.Message)
			s.machine.Close()
			s.deliver(inItem[Out]{end: true, err: &protocol.RemoteError{Message: m.Message}})
			return
		case protocol.Keepalive:
		case protocol.Ready:
			s.logger.Debug("ignoring repeated ready")
		case protocol.Unknown:
			s.logger.Warn("ignoring unknown message type", "type", m.Kind)
		default:
			s.logger.Debug("ignoring unexpected message", "type", m.Type())
		}
	}
}

func (s *Stream[In, Out]) handleReadError(err error) {
	if s.ctx.Err() != nil {
		return
	}
	if protocol.IsNormalClose(err) && s.machine.Is(session.StateDraining) {
		s.logger.Warn("server closed without a terminal message")
		s.machine.Close()
		s.deliver(inItem[Out]{end: true})
		return
	}
	s.machine.Close()
	s.deliver(inItem[Out]{end: true, err: fmt.Errorf("receive: %w", err)})
}

func (s *Stream[In, Out]) deliver(item inItem[Out]) {
	select {
	case s.inbound <- item:
	case <-s.ctx.Done():
	}
}

func (s *Stream[In, Out]) keepaliveLoop(conn *protocol.Conn) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.inputDone() {
				return
			}
			if err := conn.WriteMessage(protocol.Keepalive{}); err != nil {
				s.logger.Debug("keepalive failed", "error", err)
				return
			}
		}
	}
}

// WebSocketURL maps an http(s) base URL onto the matching ws(s) scheme.
func WebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
