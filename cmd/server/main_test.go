package main

import (
	"testing"
	"time"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/feed"
)

func feedRedisConfigForTest() feed.RedisConfig {
	return feed.RedisConfig{}
}

func TestResolveStorageDriverDefaultsToPostgresWhenDSNSet(t *testing.T) {
	driver, err := resolveStorageDriver("", "", "postgres://example")
	if err != nil {
		t.Fatalf("resolveStorageDriver returned error: %v", err)
	}
	if driver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", driver)
	}
}

func TestResolveStorageDriverDefaultsToJSON(t *testing.T) {
	driver, err := resolveStorageDriver("", "", "")
	if err != nil {
		t.Fatalf("resolveStorageDriver returned error: %v", err)
	}
	if driver != "json" {
		t.Fatalf("expected json driver, got %q", driver)
	}
}

func TestResolveStorageDriverRejectsUnknown(t *testing.T) {
	if _, err := resolveStorageDriver("cassandra", "", ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestConfigureFeed(t *testing.T) {
	if _, err := configureFeed("", feedRedisConfigForTest()); err != nil {
		t.Fatalf("expected noop feed, got error: %v", err)
	}
	if _, err := configureFeed("redis", feedRedisConfigForTest()); err == nil {
		t.Fatal("expected error for redis feed without address")
	}
	if _, err := configureFeed("kafka", feedRedisConfigForTest()); err == nil {
		t.Fatal("expected error for unknown feed driver")
	}
}

func TestResolveRetriesKeepsExplicitZero(t *testing.T) {
	if got := resolveRetries(0, "SCTE_STREAMCONTROL_TEST_UNSET"); got != 0 {
		t.Fatalf("expected explicit zero retries, got %d", got)
	}
	if got := resolveRetries(-1, "SCTE_STREAMCONTROL_TEST_UNSET"); got != -1 {
		t.Fatalf("expected unset sentinel, got %d", got)
	}
	t.Setenv("SCTE_STREAMCONTROL_TEST_RETRIES", "2")
	if got := resolveRetries(-1, "SCTE_STREAMCONTROL_TEST_RETRIES"); got != 2 {
		t.Fatalf("expected env retries 2, got %d", got)
	}
}

func TestResolveDurationEnvFallback(t *testing.T) {
	t.Setenv("SCTE_STREAMCONTROL_TEST_INTERVAL", "30s")
	if got := resolveDuration(0, "SCTE_STREAMCONTROL_TEST_INTERVAL", time.Minute); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
	if got := resolveDuration(5*time.Second, "SCTE_STREAMCONTROL_TEST_INTERVAL", time.Minute); got != 5*time.Second {
		t.Fatalf("expected flag to win, got %s", got)
	}
	if got := resolveDuration(0, "SCTE_STREAMCONTROL_TEST_MISSING", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	values := splitAndTrim(" a, b ,, c ")
	if len(values) != 3 || values[0] != "a" || values[1] != "b" || values[2] != "c" {
		t.Fatalf("unexpected values %v", values)
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}
