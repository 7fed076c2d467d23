package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/testsupport/redisstub"
)

func TestRedisFeedPublishesToStream(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("failed to start redis stub: %v", err)
	}
	defer stub.Close()

	sink, err := NewRedis(RedisConfig{Addr: stub.Addr(), DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewRedis returned error: %v", err)
	}
	defer sink.Close()

	event := Event{
		Kind: "execution.completed",
		Execution: models.ScheduleExecution{
			ID:         "exec-1",
			ScheduleID: "sched-1",
			Stream:     "news-hd",
			Status:     models.ExecutionCompleted,
		},
		EmittedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Publish(ctx, event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	entries := stub.StreamEntries("streamcontrol:executions")
	if len(entries) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(entries))
	}
	if entries[0].Values["kind"] != "execution.completed" {
		t.Fatalf("unexpected kind field %q", entries[0].Values["kind"])
	}
	var decoded Event
	if err := json.Unmarshal([]byte(entries[0].Values["payload"]), &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Execution.ID != "exec-1" || decoded.Execution.Stream != "news-hd" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestRedisFeedCustomStreamAndAuth(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{Password: "hunter2"})
	if err != nil {
		t.Fatalf("failed to start redis stub: %v", err)
	}
	defer stub.Close()

	sink, err := NewRedis(RedisConfig{
		Addr:        stub.Addr(),
		Password:    "hunter2",
		Stream:      "audit:cues",
		DialTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRedis returned error: %v", err)
	}
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Publish(ctx, Event{Kind: "execution.skipped"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if entries := stub.StreamEntries("audit:cues"); len(entries) != 1 {
		t.Fatalf("expected entry on custom stream, got %d", len(entries))
	}
}
