package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/api"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/observability/metrics"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/registry"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/storage"
)

type stubDispatcher struct{}

func (stubDispatcher) TriggerNow(context.Context, string) (models.ScheduleExecution, error) {
	return models.ScheduleExecution{}, scheduler.ErrScheduleNotFound
}
func (stubDispatcher) CancelSchedule(string) {}
func (stubDispatcher) CancelStream(string)   {}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	handler := api.NewHandler(store, registry.New(), stubDispatcher{})
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return srv
}

func TestServerRoutesScheduleLifecycle(t *testing.T) {
	recorder := metrics.New()
	srv := newTestServer(t, Config{Metrics: recorder})
	chain := srv.Handler()

	payload := map[string]interface{}{
		"stream":   "news",
		"type":     "BREAK",
		"duration": 30,
		"recurrence": map[string]interface{}{
			"type":     "hourly",
			"interval": 1,
		},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/schedules", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	var schedule models.AdSchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &schedule); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/schedules/"+schedule.ID, nil)
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 from metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "streamcontrol_http_requests_total") {
		t.Fatalf("expected request counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestServerGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1}})
	chain := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/schedules", nil)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
}

func TestServerHookRateLimitPerIP(t *testing.T) {
	srv := newTestServer(t, Config{RateLimit: RateLimitConfig{HookLimit: 1}})
	chain := srv.Handler()

	post := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/hooks/publish", bytes.NewReader([]byte(`{}`)))
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		return rec
	}

	// No hook token is configured, so an admitted request fails auth with
	// 401 while a throttled one is cut off earlier with 429.
	if rec := post("10.0.0.1:4000"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected first hook to reach the handler, got %d", rec.Code)
	}
	rec := post("10.0.0.1:4001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	if rec := post("10.0.0.2:4000"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected other IP to pass, got %d", rec.Code)
	}
}

func TestServerSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, Config{})
	chain := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected DENY, got %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'none'") {
		t.Fatalf("unexpected content security policy %q", got)
	}
}

func TestServerCORSPolicy(t *testing.T) {
	srv := newTestServer(t, Config{CORS: CORSConfig{AllowedOrigins: []string{"https://console.example.com"}}})
	chain := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/schedules", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Fatalf("expected origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/schedules", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/schedules", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Fatalf("expected POST allowed, got %q", got)
	}
}
