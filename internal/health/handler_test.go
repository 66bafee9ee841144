package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eleven-am/speech-sidecar/internal/inference"
	"github.com/labstack/echo/v4"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeModel struct {
	loaded bool
	info   inference.ModelInfo
}

func (m *fakeModel) Loaded() bool              { return m.loaded }
func (m *fakeModel) Info() inference.ModelInfo { return m.info }

type fakeCounter int

func (c fakeCounter) Count() int { return int(c) }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Liveness(t *testing.T) {
	tests := []struct {
		name   string
		models map[string]Model
		want   bool
	}{
		{"all loaded", map[string]Model{"stt": &fakeModel{loaded: true}, "tts": &fakeModel{loaded: true}}, true},
		{"one not loaded", map[string]Model{"stt": &fakeModel{loaded: true}, "tts": &fakeModel{}}, false},
		{"no models", map[string]Model{}, false},
		{"nil model skipped", map[string]Model{"stt": &fakeModel{loaded: true}, "tts": nil}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.models, fakeCounter(3), nil, "test", nil)
			rec := serve(t, h, "/health")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var resp LivenessResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != "ok" || resp.ModelLoaded != tt.want || resp.ActiveSessions != 3 {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestHandler_Service(t *testing.T) {
	stt := &fakeModel{loaded: true, info: inference.ModelInfo{Name: "base", Device: "cuda", ComputeType: "float16"}}
	tts := &fakeModel{info: inference.ModelInfo{Name: "parler", Device: "cpu", SampleRate: 24000}}
	h := NewHandler(map[string]Model{"stt": stt, "tts": tts}, nil, nil, "v1", nil)

	rec := serve(t, h, "/")
	var resp ServiceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "running" || resp.Version != "v1" {
		t.Errorf("unexpected response %+v", resp)
	}
	if got := resp.Models["stt"]; got.Name != "base" || got.ComputeType != "float16" || !got.Loaded {
		t.Errorf("unexpected stt status %+v", got)
	}
	if got := resp.Models["tts"]; got.SampleRate != 24000 || got.Loaded {
		t.Errorf("unexpected tts status %+v", got)
	}
}

func TestHandler_Readiness(t *testing.T) {
	tests := []struct {
		name   string
		models map[string]Model
		cache  Pinger
		status Status
		code   int
	}{
		{"healthy", map[string]Model{"stt": &fakeModel{loaded: true}}, fakePinger{}, StatusHealthy, http.StatusOK},
		{"cache down degrades", map[string]Model{"stt": &fakeModel{loaded: true}}, fakePinger{err: errors.New("down")}, StatusDegraded, http.StatusOK},
		{"model not loaded", map[string]Model{"stt": &fakeModel{}}, nil, StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.models, nil, tt.cache, "test", nil)
			rec := serve(t, h, "/health/ready")
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
			var resp ReadinessResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.status {
				t.Errorf("expected %s, got %s", tt.status, resp.Status)
			}
		})
	}
}

func TestHandler_SyncGRPC(t *testing.T) {
	stt := &fakeModel{loaded: true}
	tts := &fakeModel{}
	h := NewHandler(map[string]Model{"stt": stt, "tts": tts}, nil, nil, "test", nil)
	srv := health.NewServer()

	h.SyncGRPC(srv)

	check := func(service string, want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("check %q: %v", service, err)
		}
		if resp.Status != want {
			t.Errorf("service %q: expected %v, got %v", service, want, resp.Status)
		}
	}

	check("stt", healthpb.HealthCheckResponse_SERVING)
	check("tts", healthpb.HealthCheckResponse_NOT_SERVING)
	check("", healthpb.HealthCheckResponse_NOT_SERVING)

	tts.loaded = true
	h.SyncGRPC(srv)
	check("", healthpb.HealthCheckResponse_SERVING)
}
