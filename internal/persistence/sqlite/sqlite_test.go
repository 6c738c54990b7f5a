package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

var (
	_ persistence.ActivityRepository    = (*Storage)(nil)
	_ persistence.RecurrenceRepository  = (*Storage)(nil)
	_ persistence.ParticipantRepository = (*Storage)(nil)
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dir := t.TempDir()
	dsn := filepath.Join(dir, "activities.db")
	storage, err := Open(dsn)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	t.Cleanup(func() {
		_ = storage.Close()
	})

	if err := storage.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return storage
}

var base = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func activityAt(healthCode, ruleGUID string, day int) persistence.Activity {
	scheduled := base.AddDate(0, 0, day)
	return persistence.Activity{
		GUID:         fmt.Sprintf("%s-%02d", ruleGUID, day),
		HealthCode:   healthCode,
		RuleGUID:     ruleGUID,
		Label:        "Daily check-in",
		ActivityKind: "SURVEY",
		ActivityRef:  "survey-1",
		TimeZone:     "UTC",
		ScheduledOn:  scheduled,
	}
}

func TestActivityRepository_SaveIfAbsent(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	first := []persistence.Activity{activityAt("hc-1", "rule-1", 0), activityAt("hc-1", "rule-1", 1)}
	inserted, err := storage.SaveActivitiesIfAbsent(ctx, first)
	if err != nil {
		t.Fatalf("SaveActivitiesIfAbsent failed: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}

	started := base.Add(time.Minute)
	if _, err := storage.UpdateActivityStatus(ctx, "hc-1", []persistence.ActivityStatus{{GUID: first[0].GUID, StartedOn: &started}}); err != nil {
		t.Fatalf("UpdateActivityStatus failed: %v", err)
	}

	// The replayed row must not overwrite the stored status.
	second := []persistence.Activity{activityAt("hc-1", "rule-1", 0), activityAt("hc-1", "rule-1", 2)}
	second[0].Label = "changed"
	inserted, err = storage.SaveActivitiesIfAbsent(ctx, second)
	if err != nil {
		t.Fatalf("SaveActivitiesIfAbsent failed: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected 1 inserted, got %d", inserted)
	}

	stored, err := storage.GetActivity(ctx, "hc-1", first[0].GUID)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if stored.Label != "Daily check-in" || stored.StartedOn == nil || !stored.StartedOn.Equal(started) {
		t.Fatalf("existing activity was modified: %#v", stored)
	}
	if !stored.ScheduledOn.Equal(base) {
		t.Fatalf("unexpected scheduled_on %s", stored.ScheduledOn)
	}

	if _, err := storage.GetActivity(ctx, "hc-2", first[0].GUID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other health code, got %v", err)
	}
}

func TestActivityRepository_SaveIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	batch := make([]persistence.Activity, 0, 10)
	for day := 0; day < 10; day++ {
		batch = append(batch, activityAt("hc-1", "rule-1", day))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := storage.SaveActivitiesIfAbsent(ctx, batch)
			if err != nil {
				t.Errorf("SaveActivitiesIfAbsent failed: %v", err)
				return
			}
			mu.Lock()
			total += inserted
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != len(batch) {
		t.Fatalf("expected %d inserts across writers, got %d", len(batch), total)
	}
}

func TestActivityRepository_ListActivities(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	activities := []persistence.Activity{
		activityAt("hc-1", "rule-b", 2),
		activityAt("hc-1", "rule-a", 0),
		activityAt("hc-1", "rule-a", 5),
		activityAt("hc-2", "rule-a", 1),
	}
	if _, err := storage.SaveActivitiesIfAbsent(ctx, activities); err != nil {
		t.Fatalf("SaveActivitiesIfAbsent failed: %v", err)
	}

	listed, err := storage.ListActivities(ctx, "hc-1", base, base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 activities in window, got %d", len(listed))
	}
	if listed[0].GUID != "rule-a-00" || listed[1].GUID != "rule-b-02" {
		t.Fatalf("unexpected order: %s, %s", listed[0].GUID, listed[1].GUID)
	}
}

func TestActivityRepository_ListActivityHistory(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	var all []persistence.Activity
	for day := 0; day < 7; day++ {
		all = append(all, activityAt("hc-1", "rule-1", day))
	}
	all = append(all, activityAt("hc-1", "rule-2", 3))
	if _, err := storage.SaveActivitiesIfAbsent(ctx, all); err != nil {
		t.Fatalf("SaveActivitiesIfAbsent failed: %v", err)
	}

	query := persistence.HistoryQuery{
		HealthCode: "hc-1",
		RuleGUID:   "rule-1",
		Start:      base,
		End:        base.AddDate(0, 0, 6),
		PageSize:   4,
	}

	first, err := storage.ListActivityHistory(ctx, query)
	if err != nil {
		t.Fatalf("ListActivityHistory failed: %v", err)
	}
	if len(first.Activities) != 4 || first.NextCursor == "" {
		t.Fatalf("expected full first page with cursor, got %d items cursor=%q", len(first.Activities), first.NextCursor)
	}

	query.Cursor = first.NextCursor
	second, err := storage.ListActivityHistory(ctx, query)
	if err != nil {
		t.Fatalf("ListActivityHistory failed: %v", err)
	}
	if len(second.Activities) != 2 || second.NextCursor != "" {
		t.Fatalf("expected 2 trailing items without cursor, got %d cursor=%q", len(second.Activities), second.NextCursor)
	}

	seen := map[string]bool{}
	for i, activity := range append(first.Activities, second.Activities...) {
		if activity.GUID != fmt.Sprintf("rule-1-%02d", i) {
			t.Fatalf("position %d: unexpected activity %s", i, activity.GUID)
		}
		if seen[activity.GUID] {
			t.Fatalf("duplicate activity %s", activity.GUID)
		}
		seen[activity.GUID] = true
	}

	query.Cursor = "not a cursor"
	if _, err := storage.ListActivityHistory(ctx, query); !errors.Is(err, persistence.ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestActivityRepository_UpdateActivityStatus(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	activity := activityAt("hc-1", "rule-1", 0)
	if _, err := storage.SaveActivitiesIfAbsent(ctx, []persistence.Activity{activity}); err != nil {
		t.Fatalf("SaveActivitiesIfAbsent failed: %v", err)
	}

	finished := base.Add(30 * time.Minute)
	results, err := storage.UpdateActivityStatus(ctx, "hc-1", []persistence.ActivityStatus{
		{GUID: "missing", FinishedOn: &finished},
		{GUID: activity.GUID, FinishedOn: &finished},
	})
	if err != nil {
		t.Fatalf("UpdateActivityStatus failed: %v", err)
	}
	if !errors.Is(results[0], persistence.ErrNotFound) || results[1] != nil {
		t.Fatalf("unexpected per-item results: %v", results)
	}

	stored, err := storage.GetActivity(ctx, "hc-1", activity.GUID)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if stored.FinishedOn == nil || !stored.FinishedOn.Equal(finished) {
		t.Fatalf("expected finished_on to be set, got %v", stored.FinishedOn)
	}
	if stored.StartedOn == nil || !stored.StartedOn.Equal(finished) {
		t.Fatalf("expected finish to imply start, got %v", stored.StartedOn)
	}
	if !stored.ScheduledOn.Equal(activity.ScheduledOn) || stored.ActivityKind != activity.ActivityKind || stored.ActivityRef != activity.ActivityRef {
		t.Fatalf("status update touched other fields: %#v", stored)
	}

	later := finished.Add(time.Hour)
	if _, err := storage.UpdateActivityStatus(ctx, "hc-1", []persistence.ActivityStatus{{GUID: activity.GUID, StartedOn: &later, FinishedOn: &later}}); err != nil {
		t.Fatalf("UpdateActivityStatus failed: %v", err)
	}
	stored, _ = storage.GetActivity(ctx, "hc-1", activity.GUID)
	if !stored.FinishedOn.Equal(finished) || !stored.StartedOn.Equal(finished) {
		t.Fatalf("stored status must not be replaced, got started=%v finished=%v", stored.StartedOn, stored.FinishedOn)
	}
}

func TestActivityRepository_DeleteActivitiesForUser(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	if _, err := storage.SaveActivitiesIfAbsent(ctx, []persistence.Activity{
		activityAt("hc-1", "rule-1", 0),
		activityAt("hc-2", "rule-1", 0),
	}); err != nil {
		t.Fatalf("SaveActivitiesIfAbsent failed: %v", err)
	}

	if err := storage.DeleteActivitiesForUser(ctx, "hc-1"); err != nil {
		t.Fatalf("DeleteActivitiesForUser failed: %v", err)
	}

	remaining, err := storage.ListActivities(ctx, "hc-1", base.AddDate(-1, 0, 0), base.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no activities for hc-1, got %d", len(remaining))
	}
	if _, err := storage.GetActivity(ctx, "hc-2", "rule-1-00"); err != nil {
		t.Fatalf("other user's activity should remain: %v", err)
	}
}

func TestRuleRepository(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	expires := base.AddDate(0, 1, 0)
	rule := persistence.RecurrenceRule{
		GUID:         "rule-1",
		StudyID:      "study-1",
		UserID:       "user-1",
		Label:        "Morning survey",
		ActivityKind: string(recurrence.ActivitySurvey),
		ActivityRef:  "survey-1",
		Kind:         string(recurrence.KindCron),
		Payload:      "0 9 * * *",
		Expires:      &expires,
	}
	if err := storage.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	rule.Payload = "30 9 * * 1-5"
	if err := storage.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule update failed: %v", err)
	}

	rules, err := storage.ListRulesForUser(ctx, "study-1", "user-1")
	if err != nil {
		t.Fatalf("ListRulesForUser failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Payload != "30 9 * * 1-5" {
		t.Fatalf("unexpected rules: %#v", rules)
	}
	if rules[0].Expires == nil || !rules[0].Expires.Equal(expires) {
		t.Fatalf("unexpected expiration %v", rules[0].Expires)
	}
	if !rules[0].Rule().Equal(rule.Rule()) {
		t.Fatalf("stored rule differs from saved rule")
	}

	invalid := rule
	invalid.GUID = "rule-2"
	invalid.Payload = "not cron"
	var cfgErr *recurrence.RuleConfigurationError
	if err := storage.SaveRule(ctx, invalid); !errors.As(err, &cfgErr) {
		t.Fatalf("expected RuleConfigurationError, got %v", err)
	}

	if err := storage.DeleteRule(ctx, "rule-2"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting unknown rule, got %v", err)
	}
	if err := storage.DeleteRulesForUser(ctx, "study-1", "user-1"); err != nil {
		t.Fatalf("DeleteRulesForUser failed: %v", err)
	}
	if _, err := storage.GetRule(ctx, "rule-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStorage_FarFutureInstants(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	neverExpires := time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
	rule := persistence.RecurrenceRule{
		GUID:         "rule-forever",
		StudyID:      "study-1",
		UserID:       "user-1",
		ActivityKind: string(recurrence.ActivityTask),
		ActivityRef:  "task-1",
		Kind:         string(recurrence.KindCron),
		Payload:      "0 9 * * *",
		Expires:      &neverExpires,
	}
	if err := storage.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	reloaded, err := storage.GetRule(ctx, rule.GUID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if reloaded.Expires == nil || !reloaded.Expires.Equal(neverExpires) {
		t.Fatalf("expected expiration %s, got %v", neverExpires, reloaded.Expires)
	}
	if reloaded.Rule().ExpiredAt(base) {
		t.Fatalf("reloaded rule must not be expired at %s", base)
	}

	far := activityAt("hc-1", "rule-forever", 0)
	far.GUID = "far"
	far.ScheduledOn = time.Date(9000, time.June, 1, 9, 0, 0, 0, time.UTC)
	far.ExpiresOn = &neverExpires
	near := activityAt("hc-1", "rule-forever", 1)
	if _, err := storage.SaveActivitiesIfAbsent(ctx, []persistence.Activity{far, near}); err != nil {
		t.Fatalf("SaveActivitiesIfAbsent failed: %v", err)
	}

	got, err := storage.GetActivity(ctx, "hc-1", "far")
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if !got.ScheduledOn.Equal(far.ScheduledOn) || got.ExpiresOn == nil || !got.ExpiresOn.Equal(neverExpires) {
		t.Fatalf("far future activity did not round-trip: %+v", got)
	}

	listed, err := storage.ListActivities(ctx, "hc-1", base, time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(listed) != 2 || listed[0].GUID != near.GUID || listed[1].GUID != "far" {
		t.Fatalf("expected chronological order across centuries, got %#v", listed)
	}

	tooFar := activityAt("hc-1", "rule-forever", 2)
	beyond := time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC)
	tooFar.ExpiresOn = &beyond
	if _, err := storage.SaveActivitiesIfAbsent(ctx, []persistence.Activity{tooFar}); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for year 10000, got %v", err)
	}

	results, err := storage.UpdateActivityStatus(ctx, "hc-1", []persistence.ActivityStatus{
		{GUID: near.GUID, StartedOn: &beyond},
		{GUID: "far", StartedOn: &neverExpires},
	})
	if err != nil {
		t.Fatalf("UpdateActivityStatus failed: %v", err)
	}
	if !errors.Is(results[0], persistence.ErrConstraintViolation) || results[1] != nil {
		t.Fatalf("unexpected per-item results: %v", results)
	}

	rule.GUID = "rule-beyond"
	rule.Expires = &beyond
	var cfgErr *recurrence.RuleConfigurationError
	if err := storage.SaveRule(ctx, rule); !errors.As(err, &cfgErr) || cfgErr.Field != "expires" {
		t.Fatalf("expected expires RuleConfigurationError, got %v", err)
	}
}

func TestParticipantRepository(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	participant := persistence.Participant{StudyID: "study-1", UserID: "user-1", HealthCode: "hc-1", TimeZone: "Asia/Tokyo"}
	if err := storage.UpsertParticipant(ctx, participant); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}
	if err := storage.UpsertParticipant(ctx, persistence.Participant{StudyID: "study-1", UserID: "user-2", HealthCode: "hc-0"}); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	participant.TimeZone = "Europe/Berlin"
	if err := storage.UpsertParticipant(ctx, participant); err != nil {
		t.Fatalf("UpsertParticipant update failed: %v", err)
	}

	fetched, err := storage.GetParticipant(ctx, "hc-1")
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if fetched.TimeZone != "Europe/Berlin" {
		t.Fatalf("expected updated zone, got %q", fetched.TimeZone)
	}

	participants, err := storage.ListParticipants(ctx)
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(participants) != 2 || participants[0].HealthCode != "hc-0" || participants[0].TimeZone != "UTC" {
		t.Fatalf("unexpected participants: %#v", participants)
	}

	if err := storage.UpsertParticipant(ctx, persistence.Participant{StudyID: "s", UserID: "u", HealthCode: "hc-9", TimeZone: "Mars/Olympus"}); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for unknown zone, got %v", err)
	}

	if err := storage.DeleteParticipant(ctx, "hc-1"); err != nil {
		t.Fatalf("DeleteParticipant failed: %v", err)
	}
	if err := storage.DeleteParticipant(ctx, "hc-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestErrorMapper(t *testing.T) {
	t.Parallel()

	mapper := NewErrorMapper()
	if err := mapper.MapError("op", "key", errors.New("database is locked (5) (SQLITE_BUSY)")); !errors.Is(err, persistence.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := mapper.MapError("op", "key", errors.New("UNIQUE constraint failed: participants.study_id")); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if mapper.MapError("op", "key", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
