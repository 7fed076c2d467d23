package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/injector"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/registry"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/storage"
)

type fakeDispatcher struct {
	execution          models.ScheduleExecution
	err                error
	triggered          []string
	cancelledSchedules []string
	cancelledStreams   []string
}

func (d *fakeDispatcher) TriggerNow(_ context.Context, scheduleID string) (models.ScheduleExecution, error) {
	d.triggered = append(d.triggered, scheduleID)
	return d.execution, d.err
}

func (d *fakeDispatcher) CancelSchedule(scheduleID string) {
	d.cancelledSchedules = append(d.cancelledSchedules, scheduleID)
}

func (d *fakeDispatcher) CancelStream(stream string) {
	d.cancelledStreams = append(d.cancelledStreams, stream)
}

type fakeBoundary struct {
	err  error
	mode injector.DeliveryMode
}

func (b *fakeBoundary) Check(context.Context) error { return b.err }
func (b *fakeBoundary) Mode() injector.DeliveryMode { return b.mode }

func newTestHandler(t *testing.T) (*Handler, *storage.Storage, *fakeDispatcher) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStorage(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	dispatcher := &fakeDispatcher{}
	handler := NewHandler(store, registry.New(), dispatcher)
	return handler, store, dispatcher
}

func createTestSchedule(t *testing.T, handler *Handler) models.AdSchedule {
	t.Helper()
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
	handler.Schedules(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var schedule models.AdSchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &schedule); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return schedule
}

func TestSchedulesEndpointCreatesAndLists(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	schedule := createTestSchedule(t, handler)
	if schedule.NextTrigger == nil {
		t.Fatalf("expected computed next trigger")
	}
	if schedule.Status != models.ScheduleActive {
		t.Fatalf("expected active status, got %s", schedule.Status)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/schedules?stream=news", nil)
	rec := httptest.NewRecorder()
	handler.Schedules(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var listed []models.AdSchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != schedule.ID {
		t.Fatalf("expected the created schedule back, got %+v", listed)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/schedules?stream=other", nil)
	rec = httptest.NewRecorder()
	handler.Schedules(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no schedules for other stream, got %d", len(listed))
	}
}

func TestSchedulesEndpointLimit(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	createTestSchedule(t, handler)
	createTestSchedule(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/api/schedules?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.Schedules(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var listed []models.AdSchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one schedule with limit=1, got %d", len(listed))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/schedules?limit=banana", nil)
	rec = httptest.NewRecorder()
	handler.Schedules(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid limit, got %d", rec.Code)
	}
}

func TestSchedulesEndpointRejectsInvalidPayload(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	payload := map[string]interface{}{
		"stream":   "news",
		"type":     "COMMERCIAL",
		"duration": 30,
		"recurrence": map[string]interface{}{
			"type": "hourly",
		},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/schedules", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Schedules(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/schedules", bytes.NewReader([]byte(`{"stream":"news","unknown":1}`)))
	rec = httptest.NewRecorder()
	handler.Schedules(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown field rejection, got %d", rec.Code)
	}
}

func TestScheduleDisableCancelsFollowups(t *testing.T) {
	handler, _, dispatcher := newTestHandler(t)
	schedule := createTestSchedule(t, handler)

	body := []byte(`{"enabled": false}`)
	req := httptest.NewRequest(http.MethodPut, "/api/schedules/"+schedule.ID, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ScheduleByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.AdSchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if updated.Enabled {
		t.Fatalf("expected schedule disabled")
	}
	if len(dispatcher.cancelledSchedules) != 1 || dispatcher.cancelledSchedules[0] != schedule.ID {
		t.Fatalf("expected follow-up cancellation for %s, got %v", schedule.ID, dispatcher.cancelledSchedules)
	}
}

func TestScheduleDeleteCancelsAndRemoves(t *testing.T) {
	handler, store, dispatcher := newTestHandler(t)
	schedule := createTestSchedule(t, handler)

	req := httptest.NewRequest(http.MethodDelete, "/api/schedules/"+schedule.ID, nil)
	rec := httptest.NewRecorder()
	handler.ScheduleByID(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if len(dispatcher.cancelledSchedules) != 1 {
		t.Fatalf("expected follow-up cancellation, got %v", dispatcher.cancelledSchedules)
	}
	if _, ok := store.GetSchedule(schedule.ID); ok {
		t.Fatalf("expected schedule removed")
	}

	rec = httptest.NewRecorder()
	handler.ScheduleByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for missing schedule, got %d", rec.Code)
	}
}

func TestScheduleTriggerEndpoint(t *testing.T) {
	handler, _, dispatcher := newTestHandler(t)
	schedule := createTestSchedule(t, handler)
	dispatcher.execution = models.ScheduleExecution{
		ID:         "exec-1",
		ScheduleID: schedule.ID,
		Status:     models.ExecutionCompleted,
	}

	req := httptest.NewRequest(http.MethodPost, "/api/schedules/"+schedule.ID+"/trigger", nil)
	rec := httptest.NewRecorder()
	handler.ScheduleByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(dispatcher.triggered) != 1 || dispatcher.triggered[0] != schedule.ID {
		t.Fatalf("expected trigger for %s, got %v", schedule.ID, dispatcher.triggered)
	}

	dispatcher.err = scheduler.ErrExecutionPending
	rec = httptest.NewRecorder()
	handler.ScheduleByID(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for pending execution, got %d", rec.Code)
	}

	dispatcher.err = scheduler.ErrScheduleNotFound
	rec = httptest.NewRecorder()
	handler.ScheduleByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown schedule, got %d", rec.Code)
	}
}

func TestExecutionsEndpointFiltersAndFetches(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	schedule := createTestSchedule(t, handler)

	execution, err := store.BeginExecution(schedule.ID, *schedule.NextTrigger, 3)
	if err != nil {
		t.Fatalf("BeginExecution: %v", err)
	}
	if _, err := store.ResolveExecution(execution.ID, models.ExecutionResult{Success: true, EventID: "evt-1"}, 0); err != nil {
		t.Fatalf("ResolveExecution: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/executions?scheduleId="+schedule.ID+"&status=completed", nil)
	rec := httptest.NewRecorder()
	handler.Executions(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var listed []models.ScheduleExecution
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != execution.ID {
		t.Fatalf("expected the completed execution back, got %+v", listed)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/executions?limit=bogus", nil)
	rec = httptest.NewRecorder()
	handler.Executions(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/executions/"+execution.ID, nil)
	rec = httptest.NewRecorder()
	handler.ExecutionByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/executions/missing", nil)
	rec = httptest.NewRecorder()
	handler.ExecutionByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestStreamsEndpointRegisterMetricsDelete(t *testing.T) {
	handler, _, dispatcher := newTestHandler(t)

	payload := map[string]interface{}{
		"name":       "news",
		"outputUrls": map[string]string{"hls": "https://cdn.example.com/news.m3u8"},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/streams", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Streams(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	sample := models.StreamMetrics{BitrateKbps: 4500, LatencyMs: 6000}
	body, _ = json.Marshal(sample)
	req = httptest.NewRequest(http.MethodPost, "/api/streams/news/metrics", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	handler.StreamByName(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stream models.StreamRuntime
	if err := json.Unmarshal(rec.Body.Bytes(), &stream); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stream.Health != models.HealthCritical {
		t.Fatalf("expected critical health, got %s", stream.Health)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/streams/news", nil)
	rec = httptest.NewRecorder()
	handler.StreamByName(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if len(dispatcher.cancelledStreams) != 1 || dispatcher.cancelledStreams[0] != "news" {
		t.Fatalf("expected stream cancellation, got %v", dispatcher.cancelledStreams)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/streams/news", nil)
	rec = httptest.NewRecorder()
	handler.StreamByName(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rec.Code)
	}
}

func TestPublishHookRequiresToken(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	handler.HookToken = "secret"

	req := httptest.NewRequest(http.MethodPost, "/api/hooks/publish", bytes.NewReader([]byte(`{"action":"publish","stream":"news"}`)))
	rec := httptest.NewRecorder()
	handler.PublishHook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/hooks/publish", bytes.NewReader([]byte(`{"action":"publish","stream":"news"}`)))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.PublishHook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with wrong token, got %d", rec.Code)
	}
}

func TestPublishHookLifecycle(t *testing.T) {
	handler, _, dispatcher := newTestHandler(t)
	handler.HookToken = "secret"

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/hooks/publish", bytes.NewReader([]byte(body)))
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		handler.PublishHook(rec, req)
		return rec
	}

	rec := post(`{"action":"on_publish","stream":"news"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for publish, got %d: %s", rec.Code, rec.Body.String())
	}
	var stream models.StreamRuntime
	if err := json.Unmarshal(rec.Body.Bytes(), &stream); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stream.Status != models.StreamLive {
		t.Fatalf("expected live stream, got %s", stream.Status)
	}

	rec = post(`{"action":"play","stream":"news"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for play, got %d", rec.Code)
	}
	var viewers map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &viewers); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if viewers["currentViewers"] != 1 {
		t.Fatalf("expected 1 viewer, got %d", viewers["currentViewers"])
	}

	rec = post(`{"action":"play_done","stream":"news"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for play_done, got %d", rec.Code)
	}

	rec = post(`{"action":"on_unpublish","stream":"news"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unpublish, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stream); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stream.Status != models.StreamStopped {
		t.Fatalf("expected stopped stream, got %s", stream.Status)
	}
	if len(dispatcher.cancelledStreams) != 1 || dispatcher.cancelledStreams[0] != "news" {
		t.Fatalf("expected stream cancellation on unpublish, got %v", dispatcher.cancelledStreams)
	}

	rec = post(`{"action":"restart","stream":"news"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown action, got %d", rec.Code)
	}
}

func TestHealthEndpointReportsDegradedBoundary(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	handler.Boundary = &fakeBoundary{mode: injector.ModeSimulated}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	handler.Boundary = &fakeBoundary{err: errors.New("connection refused"), mode: injector.ModeLive}
	rec = httptest.NewRecorder()
	handler.Health(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	var health healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "degraded" {
		t.Fatalf("expected degraded status, got %s", health.Status)
	}
	if health.DeliveryMode != string(injector.ModeLive) {
		t.Fatalf("expected live delivery mode, got %s", health.DeliveryMode)
	}
}
