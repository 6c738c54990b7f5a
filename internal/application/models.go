package application

import (
	"maps"
	"time"

	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

// ScheduledActivity is one concrete occurrence of a rule for a participant.
// ScheduledOn is expressed in the participant's zone at materialization time.
type ScheduledActivity struct {
	GUID         string
	HealthCode   string
	RuleGUID     string
	Label        string
	ActivityKind recurrence.ActivityKind
	ActivityRef  string
	ScheduledOn  time.Time
	ExpiresOn    *time.Time
	StartedOn    *time.Time
	FinishedOn   *time.Time
	TimeZone     string
}

// Finished reports whether the participant completed or dismissed the activity.
func (a ScheduledActivity) Finished() bool {
	return a.FinishedOn != nil
}

func (a ScheduledActivity) record() persistence.Activity {
	return persistence.Activity{
		GUID:         a.GUID,
		HealthCode:   a.HealthCode,
		RuleGUID:     a.RuleGUID,
		Label:        a.Label,
		ActivityKind: string(a.ActivityKind),
		ActivityRef:  a.ActivityRef,
		TimeZone:     a.TimeZone,
		ScheduledOn:  a.ScheduledOn.UTC(),
		ExpiresOn:    a.ExpiresOn,
		StartedOn:    a.StartedOn,
		FinishedOn:   a.FinishedOn,
	}
}

func activityFromRecord(record persistence.Activity) ScheduledActivity {
	loc := time.UTC
	if record.TimeZone != "" {
		if loaded, err := time.LoadLocation(record.TimeZone); err == nil {
			loc = loaded
		}
	}
	return ScheduledActivity{
		GUID:         record.GUID,
		HealthCode:   record.HealthCode,
		RuleGUID:     record.RuleGUID,
		Label:        record.Label,
		ActivityKind: recurrence.ActivityKind(record.ActivityKind),
		ActivityRef:  record.ActivityRef,
		ScheduledOn:  record.ScheduledOn.In(loc),
		ExpiresOn:    record.ExpiresOn,
		StartedOn:    record.StartedOn,
		FinishedOn:   record.FinishedOn,
		TimeZone:     record.TimeZone,
	}
}

// ForwardCursorPage is one page of a forward-only listing. OffsetBy is empty
// when no further page exists.
type ForwardCursorPage[T any] struct {
	Items    []T
	OffsetBy string
	PageSize int
	HasNext  bool
	Filters  map[string]string
}

// NewForwardCursorPage builds a page whose HasNext flag follows offsetBy.
func NewForwardCursorPage[T any](items []T, offsetBy string, pageSize int) ForwardCursorPage[T] {
	if items == nil {
		items = []T{}
	}
	return ForwardCursorPage[T]{
		Items:    items,
		OffsetBy: offsetBy,
		PageSize: pageSize,
		HasNext:  offsetBy != "",
		Filters:  map[string]string{},
	}
}

// WithFilter returns a copy of the page echoing the named filter.
func (p ForwardCursorPage[T]) WithFilter(key, value string) ForwardCursorPage[T] {
	filters := maps.Clone(p.Filters)
	if filters == nil {
		filters = map[string]string{}
	}
	filters[key] = value
	p.Filters = filters
	return p
}

// ScheduleContext describes whose activities are materialized and how far ahead.
type ScheduleContext struct {
	HealthCode string
	TimeZone   string
	// EndsOn overrides the service look-ahead when set.
	EndsOn time.Time
	// MinimumPerRule overrides the service minimum when positive.
	MinimumPerRule int
}

// Participant is a study user whose activities the refresher keeps materialized.
type Participant struct {
	StudyID    string
	UserID     string
	HealthCode string
	TimeZone   string
}

// ScheduleContext returns the materialization context for the participant.
func (p Participant) ScheduleContext() ScheduleContext {
	return ScheduleContext{HealthCode: p.HealthCode, TimeZone: p.TimeZone}
}

// UpdateResult is the per-item outcome of UpdateActivities. Err is nil on success.
type UpdateResult struct {
	GUID string
	Err  error
}

// RefreshResult summarises one RefreshActivities call.
type RefreshResult struct {
	Activities []ScheduledActivity
	Inserted   int
}
