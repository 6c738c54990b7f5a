package persistence

import "time"

// Activity is a materialized occurrence stored for a participant.
type Activity struct {
	GUID         string
	HealthCode   string
	RuleGUID     string
	Label        string
	ActivityKind string
	ActivityRef  string
	TimeZone     string
	ScheduledOn  time.Time
	ExpiresOn    *time.Time
	StartedOn    *time.Time
	FinishedOn   *time.Time
}

// ActivityStatus is a narrow patch of the client reported timestamps.
type ActivityStatus struct {
	GUID       string
	StartedOn  *time.Time
	FinishedOn *time.Time
}

// HistoryQuery selects one page of a rule's occurrences.
type HistoryQuery struct {
	HealthCode string
	RuleGUID   string
	Start      time.Time
	End        time.Time
	Cursor     string
	PageSize   int
}

// HistoryPage is the result of a HistoryQuery. NextCursor is empty at the tail.
type HistoryPage struct {
	Activities []Activity
	NextCursor string
}

// RecurrenceRule represents a stored DATE or CRON rule for a study participant.
type RecurrenceRule struct {
	GUID         string
	StudyID      string
	UserID       string
	Label        string
	ActivityKind string
	ActivityRef  string
	Kind         string
	Payload      string
	Expires      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Participant links a study user to the health code and zone used for materialization.
type Participant struct {
	StudyID    string
	UserID     string
	HealthCode string
	TimeZone   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
