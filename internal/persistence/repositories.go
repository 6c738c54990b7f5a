package persistence

import (
	"context"
	"time"
)

// ActivityRepository stores materialized activities.
type ActivityRepository interface {
	GetActivity(ctx context.Context, healthCode, guid string) (Activity, error)
	ListActivities(ctx context.Context, healthCode string, from, to time.Time) ([]Activity, error)
	ListActivityHistory(ctx context.Context, query HistoryQuery) (HistoryPage, error)
	// SaveActivitiesIfAbsent inserts activities whose GUID is not stored yet and
	// reports how many rows were inserted. Existing rows are left untouched.
	SaveActivitiesIfAbsent(ctx context.Context, activities []Activity) (int, error)
	// UpdateActivityStatus applies the patches and returns one result per patch,
	// ErrNotFound for unknown GUIDs. A non-nil error means nothing was applied.
	UpdateActivityStatus(ctx context.Context, healthCode string, statuses []ActivityStatus) ([]error, error)
	DeleteActivitiesForUser(ctx context.Context, healthCode string) error
}

// RecurrenceRepository stores the rules assigned to study participants.
type RecurrenceRepository interface {
	SaveRule(ctx context.Context, rule RecurrenceRule) error
	GetRule(ctx context.Context, guid string) (RecurrenceRule, error)
	ListRulesForUser(ctx context.Context, studyID, userID string) ([]RecurrenceRule, error)
	DeleteRule(ctx context.Context, guid string) error
	DeleteRulesForUser(ctx context.Context, studyID, userID string) error
}

// ParticipantRepository stores the participants refreshed by the scheduler.
type ParticipantRepository interface {
	UpsertParticipant(ctx context.Context, participant Participant) error
	GetParticipant(ctx context.Context, healthCode string) (Participant, error)
	ListParticipants(ctx context.Context) ([]Participant, error)
	DeleteParticipant(ctx context.Context, healthCode string) error
}
