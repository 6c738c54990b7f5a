package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

const (
	// DefaultLookAhead is how far past now activities are materialized.
	DefaultLookAhead = 96 * time.Hour
	// DefaultMaxPageSize bounds history page sizes.
	DefaultMaxPageSize = 100
	defaultConcurrency = 4
)

// activityNamespace seeds the name-based activity GUIDs.
var activityNamespace = uuid.MustParse("7f1d3c2a-5e4b-4a8f-9c6d-2b1e0a9f8c7d")

// ActivityGUID derives the stable identifier of the occurrence of ruleGUID at scheduledOn.
func ActivityGUID(ruleGUID string, scheduledOn time.Time) string {
	name := ruleGUID + "|" + scheduledOn.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(activityNamespace, []byte(name)).String()
}

// ActivityServiceConfig tunes materialization and paging.
type ActivityServiceConfig struct {
	LookAhead      time.Duration
	MinimumPerRule int
	MaxPageSize    int
	Concurrency    int
}

func (c ActivityServiceConfig) withDefaults() ActivityServiceConfig {
	if c.LookAhead <= 0 {
		c.LookAhead = DefaultLookAhead
	}
	if c.MinimumPerRule < 0 {
		c.MinimumPerRule = 0
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	return c
}

// ActivityService materializes rule occurrences and exposes the activity store.
type ActivityService struct {
	store  persistence.ActivityRepository
	engine *recurrence.Engine
	config ActivityServiceConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewActivityService wires dependencies for activity operations.
func NewActivityService(store persistence.ActivityRepository, config ActivityServiceConfig, now func() time.Time) *ActivityService {
	return NewActivityServiceWithLogger(store, config, now, nil)
}

// NewActivityServiceWithLogger constructs an ActivityService with a specified logger.
func NewActivityServiceWithLogger(store persistence.ActivityRepository, config ActivityServiceConfig, now func() time.Time, logger *slog.Logger) *ActivityService {
	if now == nil {
		now = time.Now
	}
	return &ActivityService{
		store:  store,
		engine: recurrence.NewEngine(),
		config: config.withDefaults(),
		now:    now,
		logger: defaultLogger(logger),
	}
}

func (s *ActivityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ActivityService", operation, attrs...)
}

// ComputeActivities expands every rule over the schedule window and merges the
// occurrences with existing. An occurrence already present in existing, matched
// by rule and instant, is not produced again. The result is ordered by
// ScheduledOn then GUID. Nothing is persisted.
func (s *ActivityService) ComputeActivities(ctx context.Context, sc ScheduleContext, rules []recurrence.Rule, existing []ScheduledActivity) ([]ScheduledActivity, error) {
	if s == nil {
		return nil, fmt.Errorf("ActivityService is nil")
	}

	vErr := &InvalidRequestError{}
	if strings.TrimSpace(sc.HealthCode) == "" {
		vErr.add("healthCode", "is required")
	}
	loc, err := time.LoadLocation(sc.TimeZone)
	if err != nil {
		vErr.add("timeZone", fmt.Sprintf("unknown time zone %q", sc.TimeZone))
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	plans := make([]recurrence.Plan, len(rules))
	for i, rule := range rules {
		plan, err := s.engine.Compile(rule)
		if err != nil {
			return nil, err
		}
		plans[i] = plan
	}

	start, end, minimum := s.window(sc)

	occurrences := make([][]time.Time, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			occurrences[i] = s.engine.ExpandMinimum(plan, loc, start, end, minimum)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type occurrenceKey struct {
		rule string
		at   time.Time
	}
	seen := make(map[occurrenceKey]struct{}, len(existing))
	merged := make([]ScheduledActivity, 0, len(existing))
	for _, activity := range existing {
		seen[occurrenceKey{activity.RuleGUID, activity.ScheduledOn.UTC()}] = struct{}{}
		merged = append(merged, activity)
	}

	for i, plan := range plans {
		rule := plan.Rule()
		for _, at := range occurrences[i] {
			key := occurrenceKey{rule.GUID, at.UTC()}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, newActivity(sc.HealthCode, loc, rule, at))
		}
	}

	sortActivities(merged)
	return merged, nil
}

// SaveActivities persists activities that are not stored yet and reports how
// many were inserted. Stored activities are never overwritten.
func (s *ActivityService) SaveActivities(ctx context.Context, activities []ScheduledActivity) (inserted int, err error) {
	if s == nil {
		return 0, fmt.Errorf("ActivityService is nil")
	}
	if s.store == nil {
		return 0, fmt.Errorf("activity store not configured")
	}

	logger := s.loggerWith(ctx, "SaveActivities", "count", len(activities))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to save activities", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("inserted", inserted).DebugContext(ctx, "activities saved")
	}()

	records := make([]persistence.Activity, 0, len(activities))
	for i, activity := range activities {
		if activity.GUID == "" || activity.HealthCode == "" {
			return 0, invalidRequest(fmt.Sprintf("activities[%d]", i), "guid and healthCode are required")
		}
		records = append(records, activity.record())
	}
	if len(records) == 0 {
		return 0, nil
	}

	inserted, err = s.store.SaveActivitiesIfAbsent(ctx, records)
	if err != nil {
		return 0, mapStoreError(err)
	}
	return inserted, nil
}

// RefreshActivities loads the stored activities for the participant's window,
// computes the merged schedule and saves only the occurrences that are new.
// When a per-rule minimum applies the load reaches as far as the expansion may.
func (s *ActivityService) RefreshActivities(ctx context.Context, participant Participant, rules []recurrence.Rule) (result RefreshResult, err error) {
	if s == nil {
		return RefreshResult{}, fmt.Errorf("ActivityService is nil")
	}
	if s.store == nil {
		return RefreshResult{}, fmt.Errorf("activity store not configured")
	}

	logger := s.loggerWith(ctx, "RefreshActivities",
		"health_code", participant.HealthCode,
		"rules", len(rules),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "activity refresh failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"activities", len(result.Activities),
			"inserted", result.Inserted,
		).InfoContext(ctx, "activities refreshed")
	}()

	sc := participant.ScheduleContext()
	start, end, minimum := s.window(sc)
	if minimum > 0 {
		end = end.Add(recurrence.MinimumCeiling)
	}
	records, err := s.store.ListActivities(ctx, participant.HealthCode, start, end)
	if err != nil {
		return RefreshResult{}, mapStoreError(err)
	}
	existing := make([]ScheduledActivity, 0, len(records))
	stored := make(map[string]struct{}, len(records))
	for _, record := range records {
		existing = append(existing, activityFromRecord(record))
		stored[record.GUID] = struct{}{}
	}

	merged, err := s.ComputeActivities(ctx, sc, rules, existing)
	if err != nil {
		return RefreshResult{}, err
	}

	var fresh []ScheduledActivity
	for _, activity := range merged {
		if _, ok := stored[activity.GUID]; !ok {
			fresh = append(fresh, activity)
		}
	}

	inserted, err := s.SaveActivities(ctx, fresh)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{Activities: merged, Inserted: inserted}, nil
}

// UpdateActivities copies StartedOn and FinishedOn of each supplied activity
// onto the stored record with the same GUID. Other fields are ignored. Results
// are reported per item; only a store failure fails the whole call, in which
// case nothing was applied.
func (s *ActivityService) UpdateActivities(ctx context.Context, healthCode string, activities []ScheduledActivity) (results []UpdateResult, err error) {
	if s == nil {
		return nil, fmt.Errorf("ActivityService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("activity store not configured")
	}
	if strings.TrimSpace(healthCode) == "" {
		return nil, invalidRequest("healthCode", "is required")
	}

	logger := s.loggerWith(ctx, "UpdateActivities", "health_code", healthCode, "count", len(activities))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update activities", "error", err, "error_kind", ErrorKind(err))
			return
		}
		failed := 0
		for _, result := range results {
			if result.Err != nil {
				failed++
			}
		}
		logger.With("failed", failed).InfoContext(ctx, "activities updated")
	}()

	results = make([]UpdateResult, len(activities))
	statuses := make([]persistence.ActivityStatus, 0, len(activities))
	positions := make([]int, 0, len(activities))
	for i, activity := range activities {
		results[i].GUID = activity.GUID
		switch {
		case activity.GUID == "":
			results[i].Err = invalidRequest("guid", "is required")
			continue
		case activity.StartedOn != nil && activity.FinishedOn != nil && activity.FinishedOn.Before(*activity.StartedOn):
			results[i].Err = invalidRequest("finishedOn", "must not be before startedOn")
			continue
		}
		statuses = append(statuses, persistence.ActivityStatus{
			GUID:       activity.GUID,
			StartedOn:  utcPtr(activity.StartedOn),
			FinishedOn: utcPtr(activity.FinishedOn),
		})
		positions = append(positions, i)
	}

	if len(statuses) > 0 {
		outcomes, err := s.store.UpdateActivityStatus(ctx, healthCode, statuses)
		if err != nil {
			return nil, mapStoreError(err)
		}
		for j, outcome := range outcomes {
			results[positions[j]].Err = mapStoreError(outcome)
		}
	}
	return results, nil
}

// DeleteActivitiesForUser physically removes every activity of the participant.
// It is meant for account erasure only.
func (s *ActivityService) DeleteActivitiesForUser(ctx context.Context, healthCode string) (err error) {
	if s == nil {
		return fmt.Errorf("ActivityService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("activity store not configured")
	}
	if strings.TrimSpace(healthCode) == "" {
		return invalidRequest("healthCode", "is required")
	}

	logger := s.loggerWith(ctx, "DeleteActivitiesForUser", "health_code", healthCode)
	if err := s.store.DeleteActivitiesForUser(ctx, healthCode); err != nil {
		err = mapStoreError(err)
		logger.ErrorContext(ctx, "failed to delete activities", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "activities deleted")
	return nil
}

// GetActivity returns one activity or ErrNotFound.
func (s *ActivityService) GetActivity(ctx context.Context, healthCode, guid string) (ScheduledActivity, error) {
	if s == nil {
		return ScheduledActivity{}, fmt.Errorf("ActivityService is nil")
	}
	if s.store == nil {
		return ScheduledActivity{}, fmt.Errorf("activity store not configured")
	}

	record, err := s.store.GetActivity(ctx, healthCode, guid)
	if err != nil {
		return ScheduledActivity{}, mapStoreError(err)
	}
	return activityFromRecord(record), nil
}

// GetHistory returns one page of the occurrences of ruleGUID scheduled in
// [start, end), resuming after offsetBy when it is not empty.
func (s *ActivityService) GetHistory(ctx context.Context, healthCode, ruleGUID string, start, end time.Time, offsetBy string, pageSize int) (ForwardCursorPage[ScheduledActivity], error) {
	if s == nil {
		return ForwardCursorPage[ScheduledActivity]{}, fmt.Errorf("ActivityService is nil")
	}
	if s.store == nil {
		return ForwardCursorPage[ScheduledActivity]{}, fmt.Errorf("activity store not configured")
	}

	vErr := &InvalidRequestError{}
	if strings.TrimSpace(healthCode) == "" {
		vErr.add("healthCode", "is required")
	}
	if strings.TrimSpace(ruleGUID) == "" {
		vErr.add("ruleGuid", "is required")
	}
	if pageSize < 1 || pageSize > s.config.MaxPageSize {
		vErr.add("pageSize", fmt.Sprintf("must be between 1 and %d", s.config.MaxPageSize))
	}
	if start.IsZero() || end.IsZero() || !end.After(start) {
		vErr.add("scheduledOnEnd", "must be after scheduledOnStart")
	}
	if vErr.HasErrors() {
		return ForwardCursorPage[ScheduledActivity]{}, vErr
	}

	page, err := s.store.ListActivityHistory(ctx, persistence.HistoryQuery{
		HealthCode: healthCode,
		RuleGUID:   ruleGUID,
		Start:      start,
		End:        end,
		Cursor:     offsetBy,
		PageSize:   pageSize,
	})
	if err != nil {
		return ForwardCursorPage[ScheduledActivity]{}, mapStoreError(err)
	}

	items := make([]ScheduledActivity, 0, len(page.Activities))
	for _, record := range page.Activities {
		items = append(items, activityFromRecord(record))
	}

	return NewForwardCursorPage(items, page.NextCursor, pageSize).
		WithFilter("scheduledOnStart", start.Format(time.RFC3339Nano)).
		WithFilter("scheduledOnEnd", end.Format(time.RFC3339Nano)).
		WithFilter("ruleGuid", ruleGUID), nil
}

// window returns the expansion bounds and per-rule minimum for sc.
func (s *ActivityService) window(sc ScheduleContext) (start, end time.Time, minimum int) {
	start = s.now()
	end = start.Add(s.config.LookAhead)
	if !sc.EndsOn.IsZero() {
		end = sc.EndsOn
	}
	minimum = s.config.MinimumPerRule
	if sc.MinimumPerRule > 0 {
		minimum = sc.MinimumPerRule
	}
	return start, end, minimum
}

func newActivity(healthCode string, loc *time.Location, rule recurrence.Rule, at time.Time) ScheduledActivity {
	return ScheduledActivity{
		GUID:         ActivityGUID(rule.GUID, at),
		HealthCode:   healthCode,
		RuleGUID:     rule.GUID,
		Label:        rule.Label,
		ActivityKind: rule.ActivityKind,
		ActivityRef:  rule.ActivityRef,
		ScheduledOn:  at.In(loc),
		ExpiresOn:    utcPtr(rule.Expires),
		TimeZone:     loc.String(),
	}
}

func sortActivities(activities []ScheduledActivity) {
	sort.SliceStable(activities, func(i, j int) bool {
		if activities[i].ScheduledOn.Equal(activities[j].ScheduledOn) {
			return activities[i].GUID < activities[j].GUID
		}
		return activities[i].ScheduledOn.Before(activities[j].ScheduledOn)
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrInvalidCursor):
		return invalidRequest("offsetBy", "is not a valid cursor")
	case errors.Is(err, persistence.ErrConstraintViolation):
		return &InvalidRequestError{FieldErrors: map[string]string{"activities": err.Error()}}
	default:
		return err
	}
}
