package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/activity-scheduler/internal/config"
	"github.com/example/activity-scheduler/internal/logging"
	"github.com/example/activity-scheduler/internal/persistence"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Storage:            config.StorageSQLite,
		SQLiteDSN:          filepath.Join(t.TempDir(), "activities.db"),
		LockBackend:        config.LockMemory,
		LookAhead:          48 * time.Hour,
		LockTTL:            time.Minute,
		RefreshSchedule:    "@every 1h",
		RefreshConcurrency: 2,
		MaxPageSize:        50,
		LogLevel:           slog.LevelInfo,
	}
}

func TestNewApp_SweepsSeededParticipants(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := logging.New(&buf, slog.LevelInfo)

	a, err := newApp(ctx, testConfig(t), logger)
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}
	defer a.Close()

	if err := a.storage.UpsertParticipant(ctx, persistence.Participant{
		StudyID: "study", UserID: "user", HealthCode: "hc-main", TimeZone: "UTC",
	}); err != nil {
		t.Fatalf("UpsertParticipant returned error: %v", err)
	}
	if err := a.storage.SaveRule(ctx, persistence.RecurrenceRule{
		GUID: "rule-main", StudyID: "study", UserID: "user", Label: "Hourly check-in",
		ActivityKind: "SURVEY", ActivityRef: "checkin", Kind: "CRON", Payload: "0 * * * *",
	}); err != nil {
		t.Fatalf("SaveRule returned error: %v", err)
	}

	stats, err := a.refresher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	// An hourly rule over 48 hours yields 47 or 48 occurrences depending on
	// where inside the hour the sweep starts.
	if stats.Refreshed != 1 || stats.Inserted < 47 || stats.Inserted > 48 {
		t.Fatalf("unexpected sweep stats: %+v", stats)
	}
	if !strings.Contains(buf.String(), "sweep finished") {
		t.Fatalf("expected sweep log, got %s", buf.String())
	}
}

func TestRun_OnceWithMemoryStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageMemory

	if err := run(context.Background(), cfg, logging.Discard(), true); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

// syncBuffer lets the test read logs written by the running daemon.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	logs := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, logging.New(logs, slog.LevelInfo), false)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(logs.String(), "activityd running") {
		if time.Now().After(deadline) {
			t.Fatalf("daemon did not start: %s", logs.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
	if !strings.Contains(logs.String(), "refresher stopped") {
		t.Fatalf("expected refresher to stop cleanly: %s", logs.String())
	}
}

func TestNewApp_RejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageMemory
	cfg.LockBackend = config.LockRedis
	cfg.RedisAddr = "127.0.0.1:1"

	if _, err := newApp(context.Background(), cfg, logging.Discard()); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}
