package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/activity-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness provides a migrated, temporary SQLite storage for
// integration-style tests.
type SQLiteHarness struct {
	Storage *sqlite.Storage

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// Seed stores the participants and their rules, failing the test on error.
func (h *SQLiteHarness) Seed(tb testing.TB, participants []ParticipantFixture, rules ...RuleFixture) {
	tb.Helper()

	ctx := context.Background()
	for _, participant := range participants {
		if err := h.Storage.UpsertParticipant(ctx, participant.Persistence()); err != nil {
			tb.Fatalf("failed to seed participant %s: %v", participant.HealthCode, err)
		}
	}
	for _, rule := range rules {
		if err := h.Storage.SaveRule(ctx, rule.Persistence()); err != nil {
			tb.Fatalf("failed to seed rule %s: %v", rule.GUID, err)
		}
	}
}

// NewSQLiteHarness opens a migrated database in a temporary directory. The
// harness is closed automatically when the test finishes.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "activities.db")

	storage, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage: storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
