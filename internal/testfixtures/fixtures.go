package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/activity-scheduler/internal/application"
	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

var (
	ruleCounter        uint64
	participantCounter uint64
	activityCounter    uint64
)

var referenceTime = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Rule fixtures -----------------------------

// RuleFixture is a deterministic recurrence rule. It defaults to a daily
// 09:00 CRON survey.
type RuleFixture struct {
	GUID         string
	StudyID      string
	UserID       string
	Label        string
	ActivityKind recurrence.ActivityKind
	ActivityRef  string
	Kind         recurrence.RuleKind
	Payload      string
	Expires      *time.Time
}

// RuleOption configures the generated rule fixture.
type RuleOption func(*RuleFixture)

// NewRuleFixture returns a deterministic rule fixture with optional overrides.
func NewRuleFixture(opts ...RuleOption) RuleFixture {
	idx := atomic.AddUint64(&ruleCounter, 1)
	fixture := RuleFixture{
		GUID:         fmt.Sprintf("rule-%03d", idx),
		StudyID:      "study-001",
		UserID:       "user-001",
		Label:        fmt.Sprintf("Rule %03d", idx),
		ActivityKind: recurrence.ActivitySurvey,
		ActivityRef:  fmt.Sprintf("survey-%03d", idx),
		Kind:         recurrence.KindCron,
		Payload:      "0 9 * * *",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRuleGUID overrides the generated rule GUID.
func WithRuleGUID(guid string) RuleOption {
	return func(f *RuleFixture) {
		f.GUID = guid
	}
}

// WithRuleOwner assigns the rule to a study user.
func WithRuleOwner(studyID, userID string) RuleOption {
	return func(f *RuleFixture) {
		f.StudyID = studyID
		f.UserID = userID
	}
}

// WithCron makes the rule fire on a cron expression.
func WithCron(expr string) RuleOption {
	return func(f *RuleFixture) {
		f.Kind = recurrence.KindCron
		f.Payload = expr
	}
}

// WithDate makes the rule fire once at t.
func WithDate(t time.Time) RuleOption {
	return func(f *RuleFixture) {
		f.Kind = recurrence.KindDate
		f.Payload = t.Format(time.RFC3339)
	}
}

// WithTask switches the produced activity to a task.
func WithTask(ref string) RuleOption {
	return func(f *RuleFixture) {
		f.ActivityKind = recurrence.ActivityTask
		f.ActivityRef = ref
	}
}

// WithRuleExpires sets the rule expiration.
func WithRuleExpires(t time.Time) RuleOption {
	return func(f *RuleFixture) {
		f.Expires = &t
	}
}

// Rule returns the engine representation.
func (f RuleFixture) Rule() recurrence.Rule {
	return recurrence.Rule{
		GUID:         f.GUID,
		StudyID:      f.StudyID,
		UserID:       f.UserID,
		Label:        f.Label,
		ActivityKind: f.ActivityKind,
		ActivityRef:  f.ActivityRef,
		Kind:         f.Kind,
		Payload:      f.Payload,
		Expires:      copyTimePtr(f.Expires),
	}
}

// Persistence returns the stored representation.
func (f RuleFixture) Persistence() persistence.RecurrenceRule {
	return persistence.RuleRecord(f.Rule())
}

// -------------------------- Participant fixtures -------------------------

// ParticipantFixture is a deterministic study participant.
type ParticipantFixture struct {
	StudyID    string
	UserID     string
	HealthCode string
	TimeZone   string
}

// ParticipantOption configures the generated participant fixture.
type ParticipantOption func(*ParticipantFixture)

// NewParticipantFixture returns a deterministic participant in UTC.
func NewParticipantFixture(opts ...ParticipantOption) ParticipantFixture {
	idx := atomic.AddUint64(&participantCounter, 1)
	fixture := ParticipantFixture{
		StudyID:    "study-001",
		UserID:     fmt.Sprintf("user-%03d", idx),
		HealthCode: fmt.Sprintf("hc-%03d", idx),
		TimeZone:   "UTC",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithParticipantUser overrides the study user.
func WithParticipantUser(studyID, userID string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.StudyID = studyID
		f.UserID = userID
	}
}

// WithHealthCode overrides the generated health code.
func WithHealthCode(healthCode string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.HealthCode = healthCode
	}
}

// WithTimeZone overrides the participant zone.
func WithTimeZone(zone string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.TimeZone = zone
	}
}

// Application returns the service representation.
func (f ParticipantFixture) Application() application.Participant {
	return application.Participant{
		StudyID:    f.StudyID,
		UserID:     f.UserID,
		HealthCode: f.HealthCode,
		TimeZone:   f.TimeZone,
	}
}

// Persistence returns the stored representation.
func (f ParticipantFixture) Persistence() persistence.Participant {
	return persistence.Participant{
		StudyID:    f.StudyID,
		UserID:     f.UserID,
		HealthCode: f.HealthCode,
		TimeZone:   f.TimeZone,
	}
}

// OwnRule returns a rule fixture assigned to the participant.
func (f ParticipantFixture) OwnRule(opts ...RuleOption) RuleFixture {
	return NewRuleFixture(append([]RuleOption{WithRuleOwner(f.StudyID, f.UserID)}, opts...)...)
}

// ---------------------------- Activity fixtures ---------------------------

// ActivityFixture is a deterministic materialized activity. Its GUID is
// derived from the rule and instant the same way the service derives it.
type ActivityFixture struct {
	HealthCode   string
	RuleGUID     string
	Label        string
	ActivityKind recurrence.ActivityKind
	ActivityRef  string
	ScheduledOn  time.Time
	TimeZone     string
	ExpiresOn    *time.Time
	StartedOn    *time.Time
	FinishedOn   *time.Time
}

// ActivityOption configures the generated activity fixture.
type ActivityOption func(*ActivityFixture)

// NewActivityFixture returns an activity scheduled on a distinct hour after ReferenceTime.
func NewActivityFixture(opts ...ActivityOption) ActivityFixture {
	idx := atomic.AddUint64(&activityCounter, 1)
	fixture := ActivityFixture{
		HealthCode:   "hc-001",
		RuleGUID:     "rule-001",
		Label:        fmt.Sprintf("Activity %03d", idx),
		ActivityKind: recurrence.ActivitySurvey,
		ActivityRef:  "survey-001",
		ScheduledOn:  referenceTime.Add(time.Duration(idx) * time.Hour),
		TimeZone:     "UTC",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithActivityHealthCode overrides the owner.
func WithActivityHealthCode(healthCode string) ActivityOption {
	return func(f *ActivityFixture) {
		f.HealthCode = healthCode
	}
}

// WithActivityRule overrides the producing rule.
func WithActivityRule(ruleGUID string) ActivityOption {
	return func(f *ActivityFixture) {
		f.RuleGUID = ruleGUID
	}
}

// WithScheduledOn overrides the scheduled instant.
func WithScheduledOn(t time.Time) ActivityOption {
	return func(f *ActivityFixture) {
		f.ScheduledOn = t
	}
}

// WithStarted marks the activity as started at t.
func WithStarted(t time.Time) ActivityOption {
	return func(f *ActivityFixture) {
		f.StartedOn = &t
	}
}

// WithFinished marks the activity as finished at t.
func WithFinished(t time.Time) ActivityOption {
	return func(f *ActivityFixture) {
		f.FinishedOn = &t
	}
}

// GUID returns the derived activity identifier.
func (f ActivityFixture) GUID() string {
	return application.ActivityGUID(f.RuleGUID, f.ScheduledOn)
}

// Application returns the service representation.
func (f ActivityFixture) Application() application.ScheduledActivity {
	return application.ScheduledActivity{
		GUID:         f.GUID(),
		HealthCode:   f.HealthCode,
		RuleGUID:     f.RuleGUID,
		Label:        f.Label,
		ActivityKind: f.ActivityKind,
		ActivityRef:  f.ActivityRef,
		ScheduledOn:  f.ScheduledOn,
		ExpiresOn:    copyTimePtr(f.ExpiresOn),
		StartedOn:    copyTimePtr(f.StartedOn),
		FinishedOn:   copyTimePtr(f.FinishedOn),
		TimeZone:     f.TimeZone,
	}
}

// Persistence returns the stored representation.
func (f ActivityFixture) Persistence() persistence.Activity {
	return persistence.Activity{
		GUID:         f.GUID(),
		HealthCode:   f.HealthCode,
		RuleGUID:     f.RuleGUID,
		Label:        f.Label,
		ActivityKind: string(f.ActivityKind),
		ActivityRef:  f.ActivityRef,
		TimeZone:     f.TimeZone,
		ScheduledOn:  f.ScheduledOn.UTC(),
		ExpiresOn:    copyTimePtr(f.ExpiresOn),
		StartedOn:    copyTimePtr(f.StartedOn),
		FinishedOn:   copyTimePtr(f.FinishedOn),
	}
}

func copyTimePtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	value := *src
	return &value
}
