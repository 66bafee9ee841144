package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/protocol"
	"github.com/eleven-am/speech-sidecar/internal/session"
	"github.com/eleven-am/speech-sidecar/internal/shared"
	"github.com/gorilla/websocket"
	"pgregory.net/rapid"
)

type textDialect struct{}

func (textDialect) Path() string { return "/ws/test" }
func (textDialect) Config() any  { return map[string]any{"sample_rate": 16000} }

func (textDialect) Encode(in string) (protocol.Frame, error) {
	return protocol.Frame{Message: protocol.TextFragment{Text: in}}, nil
}

func (textDialect) Decode(m protocol.Message) (string, bool, error) {
	f, ok := m.(protocol.Final)
	if !ok {
		return "", false, nil
	}
	return f.Text, f.Text != "", nil
}

func newServer(t *testing.T, serve func(c *protocol.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := protocol.NewConn(ws)
		defer c.Close()
		serve(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readConfig(t *testing.T, c *protocol.Conn) {
	t.Helper()
	kind, data, err := c.Next()
	if err != nil {
		t.Errorf("read config: %v", err)
		return
	}
	if kind != websocket.TextMessage || !strings.Contains(string(data), "sample_rate") {
		t.Errorf("unexpected config frame %d %s", kind, data)
	}
}

func readUntilEnd(c *protocol.Conn) ([]string, int, error) {
	var texts []string
	keepalives := 0
	for {
		f, err := c.Read()
		if err != nil {
			return texts, keepalives, err
		}
		switch m := f.Message.(type) {
		case protocol.TextFragment:
			texts = append(texts, m.Text)
		case protocol.Keepalive:
			keepalives++
		case protocol.EndOfStream:
			return texts, keepalives, nil
		}
	}
}

func unstarted(t *testing.T) *Stream[string, string] {
	t.Helper()
	s := New[string, string](Config{URL: "ws://127.0.0.1:1"}, textDialect{})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drainQueue(s *Stream[string, string]) (chunks []string, ended bool) {
	for len(s.outbound) > 0 {
		chunks = append(chunks, <-s.outbound)
	}
	select {
	case <-s.endCh:
		ended = true
	default:
	}
	return chunks, ended
}

func TestStream_SingleEndSentinel(t *testing.T) {
	s := unstarted(t)

	for _, in := range []string{"a", "b", "c"} {
		if !s.Push(in) {
			t.Fatalf("push %q rejected", in)
		}
	}
	s.EndInput()
	s.EndInput()
	s.EndInput()
	_ = s.Close()

	chunks, ended := drainQueue(s)
	if strings.Join(chunks, "") != "abc" || !ended {
		t.Errorf("expected abc then end of input, got %v ended=%v", chunks, ended)
	}
}

func TestStream_CloseImpliesEndInput(t *testing.T) {
	s := unstarted(t)
	s.Push("a")
	s.Push("b")
	_ = s.Close()
	_ = s.Close()

	chunks, ended := drainQueue(s)
	if len(chunks) != 2 || !ended {
		t.Errorf("expected 2 chunks then end of input, got %v ended=%v", chunks, ended)
	}
}

func TestStream_PushRejectedAfterEndOrClose(t *testing.T) {
	s := unstarted(t)
	s.EndInput()
	if s.Push("late") {
		t.Error("push after EndInput should be rejected")
	}

	s2 := unstarted(t)
	_ = s2.Close()
	if s2.Push("late") {
		t.Error("push after Close should be rejected")
	}
	if err := s2.Close(); err != nil {
		t.Errorf("second close returned %v", err)
	}
	if _, err := s2.Recv(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF from closed stream, got %v", err)
	}
	if s2.State() != session.StateClosed {
		t.Errorf("expected CLOSED, got %s", s2.State())
	}
}

func TestStream_PushUnblocksOnClose(t *testing.T) {
	s := New[string, string](Config{URL: "ws://127.0.0.1:1", QueueSize: 1}, textDialect{})
	s.Push("fill")

	result := make(chan bool, 1)
	go func() { result <- s.Push("blocked") }()

	time.Sleep(20 * time.Millisecond)
	_ = s.Close()

	select {
	case ok := <-result:
		if ok {
			t.Error("blocked push should report rejection after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push stayed blocked after close")
	}
}

func TestStream_FullSession(t *testing.T) {
	received := make(chan []string, 1)
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Ready{Message: "Ready"})
		texts, _, err := readUntilEnd(c)
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		received <- texts
		for i, txt := range texts {
			_ = c.WriteMessage(protocol.Final{Text: strings.ToUpper(txt), Start: float64(i), End: float64(i + 1)})
		}
		_ = c.WriteMessage(protocol.Final{Text: ""})
		_ = c.WriteMessage(protocol.SessionEnded{Message: "Transcription session completed"})
	})

	s := New[string, string](Config{URL: url}, textDialect{})
	defer s.Close()

	for _, in := range []string{"one", "two", "three"} {
		s.Push(in)
	}
	s.EndInput()

	var got []string
	for out, err := range s.Results(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, out)
	}

	want := []string{"ONE", "TWO", "THREE"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("results = %v, want %v", got, want)
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after session end, got %v", err)
	}
	if texts := <-received; strings.Join(texts, ",") != "one,two,three" {
		t.Errorf("server received %v", texts)
	}
	if s.State() != session.StateClosed {
		t.Errorf("expected CLOSED after session_ended, got %s", s.State())
	}
}

func TestStream_ServerErrorIsTerminal(t *testing.T) {
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Ready{})
		_ = c.WriteMessage(protocol.Final{Text: "partial work"})
		_ = c.WriteMessage(protocol.Error{Message: "inference failed"})
		_, _, _ = readUntilEnd(c)
	})

	s := New[string, string](Config{URL: url}, textDialect{})
	defer s.Close()

	out, err := s.Recv(context.Background())
	if err != nil || out != "partial work" {
		t.Fatalf("expected first result, got %q %v", out, err)
	}

	_, err = s.Recv(context.Background())
	var re *protocol.RemoteError
	if !errors.As(err, &re) || re.Message != "inference failed" {
		t.Fatalf("expected remote error, got %v", err)
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after terminal error, got %v", err)
	}
}

func TestStream_HandshakeRejected(t *testing.T) {
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Error{Message: "Model not loaded"})
	})

	s := New[string, string](Config{URL: url}, textDialect{})
	defer s.Close()

	_, err := s.Recv(context.Background())
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	var re *protocol.RemoteError
	if !errors.As(err, &re) || re.Message != "Model not loaded" {
		t.Errorf("expected wrapped remote error, got %v", err)
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after failed start, got %v", err)
	}
}

func TestStream_HandshakeUnexpectedMessage(t *testing.T) {
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Final{Text: "too early"})
		_, _, _ = c.Next()
	})

	s := New[string, string](Config{URL: url}, textDialect{})
	defer s.Close()

	if _, err := s.Recv(context.Background()); !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
}

func TestStream_AbnormalCloseIsError(t *testing.T) {
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Ready{})
		_ = c.CloseWith(protocol.CloseInternalError, "boom")
	})

	s := New[string, string](Config{URL: url}, textDialect{})
	defer s.Close()

	_, err := s.Recv(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestStream_NormalCloseWhileDrainingEndsCleanly(t *testing.T) {
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Ready{})
		_, _, _ = readUntilEnd(c)
		_ = c.WriteMessage(protocol.Final{Text: "last"})
		_ = c.Close()
	})

	s := New[string, string](Config{URL: url}, textDialect{})
	defer s.Close()
	s.Push("x")
	s.EndInput()

	out, err := s.Recv(context.Background())
	if err != nil || out != "last" {
		t.Fatalf("expected last result, got %q %v", out, err)
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected clean EOF, got %v", err)
	}
}

func TestStream_KeepaliveStopsAfterEndInput(t *testing.T) {
	var beforeEnd, afterEnd atomic.Int32
	ended := make(chan struct{})
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Ready{})
		_, n, err := readUntilEnd(c)
		if err != nil {
			return
		}
		beforeEnd.Store(int32(n))
		close(ended)

		deadline := time.After(150 * time.Millisecond)
		go func() {
			<-deadline
			_ = c.WriteMessage(protocol.SessionEnded{})
		}()
		for {
			f, err := c.Read()
			if err != nil {
				return
			}
			if _, ok := f.Message.(protocol.Keepalive); ok {
				afterEnd.Add(1)
			}
		}
	})

	s := New[string, string](Config{URL: url, KeepaliveInterval: 10 * time.Millisecond}, textDialect{})
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.Recv(context.Background())
		done <- err
	}()

	time.Sleep(80 * time.Millisecond)
	s.EndInput()

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw end_of_stream")
	}
	if err := <-done; !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}

	if beforeEnd.Load() == 0 {
		t.Error("expected keepalives while streaming")
	}
	if n := afterEnd.Load(); n > 1 {
		t.Errorf("expected keepalives to stop after end of input, got %d more", n)
	}
}

func TestStream_CloseUnblocksRecv(t *testing.T) {
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Ready{})
		_, _, _ = readUntilEnd(c)
		_, _, _ = c.Next()
	})

	s := New[string, string](Config{URL: url, KeepaliveInterval: -1}, textDialect{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Recv(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("expected EOF after close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recv stayed blocked after close")
	}
}

func TestStream_DialRetries(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantAttempts int32
	}{
		{"forbidden is not retried", http.StatusForbidden, 1},
		{"unavailable is retried", http.StatusServiceUnavailable, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := New[string, string](Config{
				URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
				Backoff: shared.BackoffConfig{Initial: time.Millisecond, MaxAttempts: 3, MaxDelay: 5 * time.Millisecond},
			}, textDialect{})
			defer s.Close()

			if _, err := s.Recv(context.Background()); err == nil || errors.Is(err, io.EOF) {
				t.Fatalf("expected dial error, got %v", err)
			}
			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("expected %d attempts, got %d", tt.wantAttempts, got)
			}
		})
	}
}

func TestStream_SentinelProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New[string, string](Config{URL: "ws://127.0.0.1:1", QueueSize: 512}, textDialect{})
		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 0, 100).Draw(rt, "ops")

		accepted := 0
		stopped := false
		for _, op := range ops {
			switch op {
			case 0:
				ok := s.Push("x")
				if ok && stopped {
					rt.Fatalf("push accepted after end of input")
				}
				if ok {
					accepted++
				}
			case 1:
				s.EndInput()
				stopped = true
			case 2:
				_ = s.Close()
				stopped = true
			}
		}
		_ = s.Close()

		chunks, ended := drainQueue(s)
		if !ended {
			rt.Fatalf("input never ended")
		}
		if len(chunks) != accepted {
			rt.Fatalf("expected %d chunks, got %d", accepted, len(chunks))
		}
	})
}

func TestStream_ConcurrentEndInput(t *testing.T) {
	s := unstarted(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.EndInput()
			_ = s.Close()
		}()
	}
	wg.Wait()

	if _, ended := drainQueue(s); !ended {
		t.Error("expected input to be ended")
	}
}

func TestStream_PushBeyondQueueWhileReceiving(t *testing.T) {
	const total = 10
	received := make(chan []string, 1)
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Ready{})
		texts, _, err := readUntilEnd(c)
		if err != nil {
			t.Errorf("read: %v", err)
		}
		received <- texts
		_ = c.WriteMessage(protocol.Final{Text: "done"})
		_ = c.WriteMessage(protocol.Complete{})
	})

	s := New[string, string](Config{URL: url, QueueSize: 4}, textDialect{})
	defer s.Close()

	go func() {
		for i := 0; i < total; i++ {
			if !s.Push(string(rune('a' + i))) {
				t.Errorf("push %d rejected", i)
				return
			}
		}
		s.EndInput()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := s.Recv(ctx)
	if err != nil || out != "done" {
		t.Fatalf("expected result, got %q %v", out, err)
	}
	if _, err := s.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}

	select {
	case texts := <-received:
		if got := strings.Join(texts, ""); got != "abcdefghij" {
			t.Errorf("expected chunks in order, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw end_of_stream")
	}
}

func TestStream_PushRejectedAfterServerEnds(t *testing.T) {
	url := newServer(t, func(c *protocol.Conn) {
		readConfig(t, c)
		_ = c.WriteMessage(protocol.Ready{})
		_ = c.WriteMessage(protocol.Error{Message: "window failed"})
		_, _, _ = readUntilEnd(c)
	})

	s := New[string, string](Config{URL: url, QueueSize: 4}, textDialect{})
	defer s.Close()

	var re *protocol.RemoteError
	if _, err := s.Recv(context.Background()); !errors.As(err, &re) {
		t.Fatalf("expected remote error, got %v", err)
	}

	result := make(chan int, 1)
	go func() {
		accepted := 0
		for i := 0; i < 10; i++ {
			if s.Push("late") {
				accepted++
			}
		}
		result <- accepted
	}()

	select {
	case accepted := <-result:
		if accepted != 0 {
			t.Errorf("expected pushes to be rejected after the session ended, %d accepted", accepted)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("push blocked after the session ended (state=%s)", s.State())
	}
	if s.State() != session.StateClosed {
		t.Errorf("expected CLOSED, got %s", s.State())
	}
}

func TestStream_PushRejectedAfterDialFailure(t *testing.T) {
	s := New[string, string](Config{
		URL:       "ws://127.0.0.1:1",
		QueueSize: 1,
		Backoff:   shared.BackoffConfig{Initial: time.Millisecond, MaxAttempts: 1, MaxDelay: time.Millisecond},
	}, textDialect{})
	defer s.Close()

	if _, err := s.Recv(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}

	done := make(chan struct{})
	go func() {
		s.Push("a")
		s.Push("b")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked after a failed start")
	}
}
