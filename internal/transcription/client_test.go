package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/protocol"
	"github.com/eleven-am/speech-sidecar/internal/shared"
	"github.com/gorilla/websocket"
)

type fakeSTT struct {
	configs chan map[string]any
	frames  chan int
}

func newFakeSTT(t *testing.T) (*fakeSTT, *httptest.Server) {
	t.Helper()
	f := &fakeSTT{configs: make(chan map[string]any, 1), frames: make(chan int, 64)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/transcribe", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := protocol.NewConn(ws)
		defer c.Close()

		_, data, err := c.Next()
		if err != nil {
			return
		}
		var cfg map[string]any
		_ = json.Unmarshal(data, &cfg)
		f.configs <- cfg
		_ = c.WriteMessage(protocol.Ready{Message: "Ready"})

		total := 0
		for {
			fr, err := c.Read()
			if err != nil {
				return
			}
			if fr.IsBinary() {
				total += len(fr.Binary)
				f.frames <- len(fr.Binary)
				continue
			}
			if _, ok := fr.Message.(protocol.EndOfStream); ok {
				break
			}
		}
		close(f.frames)

		_ = c.WriteMessage(protocol.Final{Text: " hello", Start: 0, End: 1, Confidence: -0.2})
		_ = c.WriteMessage(protocol.Final{Text: "   ", Start: 1, End: 1.5})
		_ = c.WriteMessage(protocol.Final{Text: " world", Start: 1.5, End: float64(total) / 32000, Confidence: -0.4})
		_ = c.WriteMessage(protocol.SessionEnded{Message: "Transcription session completed"})
	})
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("task") != "translate" || r.URL.Query().Get("beam_size") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"bad_query","message":"unexpected query"}`))
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":                 "bonjour le monde",
			"language":             "fr",
			"language_probability": 0.98,
			"duration":             2.5,
			"segments": []map[string]any{
				{"start": 0, "end": 1, "text": "bonjour", "confidence": -0.2},
				{"start": 1, "end": 2.5, "text": " le monde", "confidence": -0.4},
			},
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","model_loaded":true}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "not a url"}); err == nil {
		t.Error("expected error for invalid base url")
	}
}

func TestSpeechStream_Transcribes(t *testing.T) {
	fake, srv := newFakeSTT(t)
	client, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	s := client.Stream(SessionOptions{Language: "en"})
	defer s.Close()

	s.PushSamples(make([]float32, 16000))
	s.PushFrame(make([]byte, 3))
	s.PushFrame(make([]byte, 32000))
	s.EndInput()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []TranscriptEvent
	for ev, err := range s.Results(ctx) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 non-empty events, got %d: %+v", len(events), events)
	}
	if events[0].Text != " hello" || events[1].Text != " world" {
		t.Errorf("unexpected texts %q %q", events[0].Text, events[1].Text)
	}
	if events[1].End != 2.0 {
		t.Errorf("expected server to receive 2s of audio, got end %v", events[1].End)
	}
	if events[0].Language != "en" || events[0].Confidence != -0.2 {
		t.Errorf("unexpected event %+v", events[0])
	}

	cfg := <-fake.configs
	if cfg["language"] != "en" || cfg["task"] != "transcribe" || cfg["sample_rate"] != float64(16000) {
		t.Errorf("unexpected config %v", cfg)
	}

	var sizes []int
	for n := range fake.frames {
		sizes = append(sizes, n)
	}
	if len(sizes) != 2 {
		t.Errorf("expected odd-length frame to be dropped, server got %v", sizes)
	}
}

func TestDialect_ConfigNullLanguage(t *testing.T) {
	d := &dialect{opts: normalizeOptions(SessionOptions{})}
	data, err := json.Marshal(d.Config())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"language":null,"sample_rate":16000,"task":"transcribe"}`
	if string(data) != want {
		t.Errorf("config = %s, want %s", data, want)
	}
}

func TestDialect_EncodeRejectsOddFrames(t *testing.T) {
	d := &dialect{}
	if _, err := d.Encode([]byte{1, 2, 3}); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("expected ErrOddLength, got %v", err)
	}
	f, err := d.Encode([]byte{1, 2})
	if err != nil || !f.IsBinary() {
		t.Errorf("expected binary frame, got %+v %v", f, err)
	}
}

func TestClient_Recognize(t *testing.T) {
	_, srv := newFakeSTT(t)
	client, _ := New(Config{BaseURL: srv.URL})

	wav := audio.EncodeWAV(make([]byte, 3200), 16000, 1)
	got, err := client.Recognize(context.Background(), wav, SessionOptions{Task: shared.TaskTranslate, BeamSize: 5})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if got.Text != "bonjour le monde" || got.Language != "fr" {
		t.Errorf("unexpected recognition %+v", got)
	}
	if len(got.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got.Segments))
	}
	if diff := got.Confidence - (-0.3); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected average confidence -0.3, got %v", got.Confidence)
	}
}

func TestClient_RecognizeError(t *testing.T) {
	_, srv := newFakeSTT(t)
	client, _ := New(Config{BaseURL: srv.URL})

	_, err := client.Recognize(context.Background(), nil, SessionOptions{})
	var se *shared.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusBadRequest || se.Code != "bad_query" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestClient_Health(t *testing.T) {
	_, srv := newFakeSTT(t)
	client, _ := New(Config{BaseURL: srv.URL})

	status, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if status.Status != "ok" || !status.ModelLoaded {
		t.Errorf("unexpected health %+v", status)
	}
}
