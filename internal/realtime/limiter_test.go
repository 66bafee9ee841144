package realtime

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(e *echo.Echo, ip string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/ws/transcribe", nil)
	req.RemoteAddr = ip + ":1234"
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRateLimiterStore_Admit(t *testing.T) {
	store := newRateLimiterStore(RateLimiterConfig{SessionsPerSecond: 0.001, Burst: 2})
	defer store.Close()
	e := echo.New()

	for i := 0; i < 2; i++ {
		if !store.admit(newContext(e, "10.0.0.1")) {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if store.admit(newContext(e, "10.0.0.1")) {
		t.Error("third request should be limited")
	}
	if !store.admit(newContext(e, "10.0.0.2")) {
		t.Error("other clients should have their own budget")
	}
}

func TestRateLimiterStore_Disabled(t *testing.T) {
	store := newRateLimiterStore(RateLimiterConfig{})
	defer store.Close()
	e := echo.New()

	for i := 0; i < 100; i++ {
		if !store.admit(newContext(e, "10.0.0.1")) {
			t.Fatal("disabled limiter should admit everything")
		}
	}
}

func TestRateLimiterStore_CloseIdempotent(t *testing.T) {
	store := newRateLimiterStore(DefaultRateLimiterConfig())
	store.Close()
	store.Close()
}

func TestRejectSession(t *testing.T) {
	err := rejectSession()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", he.Code)
	}
}
