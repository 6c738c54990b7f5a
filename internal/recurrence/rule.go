package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// RuleKind identifies how a rule payload is interpreted.
type RuleKind string

const (
	// KindDate rules fire once at a fixed RFC 3339 instant.
	KindDate RuleKind = "DATE"
	// KindCron rules fire on every match of a five-field cron expression.
	KindCron RuleKind = "CRON"
)

// Instants a rule may name are limited to four-digit years.
const (
	MinYear = 1
	MaxYear = 9999
)

// ActivityKind is the closed set of activities a rule can produce.
type ActivityKind string

const (
	ActivitySurvey ActivityKind = "SURVEY"
	ActivityTask   ActivityKind = "TASK"
)

// Valid reports whether the kind belongs to the supported set.
func (k ActivityKind) Valid() bool {
	switch k {
	case ActivitySurvey, ActivityTask:
		return true
	default:
		return false
	}
}

// Rule describes when a study participant should receive an activity.
//
// Rules are value records. Administrative replacement stores a new value under
// the same GUID; nothing mutates a rule in place once the engine has compiled it.
type Rule struct {
	GUID         string
	StudyID      string
	UserID       string
	Label        string
	ActivityKind ActivityKind
	ActivityRef  string
	Kind         RuleKind
	Payload      string
	Expires      *time.Time
}

// Equal reports value equality across every field.
func (r Rule) Equal(other Rule) bool {
	if r.GUID != other.GUID ||
		r.StudyID != other.StudyID ||
		r.UserID != other.UserID ||
		r.Label != other.Label ||
		r.ActivityKind != other.ActivityKind ||
		r.ActivityRef != other.ActivityRef ||
		r.Kind != other.Kind ||
		r.Payload != other.Payload {
		return false
	}
	switch {
	case r.Expires == nil && other.Expires == nil:
		return true
	case r.Expires == nil || other.Expires == nil:
		return false
	default:
		return r.Expires.Equal(*other.Expires)
	}
}

// ExpiredAt reports whether an occurrence at t falls on or after the rule expiration.
func (r Rule) ExpiredAt(t time.Time) bool {
	return r.Expires != nil && !t.Before(*r.Expires)
}

// RuleConfigurationError reports a rule whose payload or metadata cannot be used.
// It is produced when rules are loaded or saved, never while expanding.
type RuleConfigurationError struct {
	RuleGUID string
	Field    string
	Reason   string
}

// Error implements the error interface.
func (e *RuleConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	if e.RuleGUID == "" {
		return fmt.Sprintf("recurrence: invalid rule %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("recurrence: rule %s: invalid %s: %s", e.RuleGUID, e.Field, e.Reason)
}

func checkMetadata(rule Rule) error {
	invalid := func(field, reason string) error {
		return &RuleConfigurationError{RuleGUID: rule.GUID, Field: field, Reason: reason}
	}

	if strings.TrimSpace(rule.GUID) == "" {
		return invalid("guid", "required")
	}
	if strings.TrimSpace(rule.StudyID) == "" {
		return invalid("study_id", "required")
	}
	if strings.TrimSpace(rule.UserID) == "" {
		return invalid("user_id", "required")
	}
	if !rule.ActivityKind.Valid() {
		return invalid("activity_kind", fmt.Sprintf("unsupported activity kind %q", rule.ActivityKind))
	}
	if strings.TrimSpace(rule.ActivityRef) == "" {
		return invalid("activity_ref", "required")
	}
	if strings.TrimSpace(rule.Payload) == "" {
		return invalid("payload", "required")
	}
	if rule.Expires != nil {
		if year := rule.Expires.UTC().Year(); year < MinYear || year > MaxYear {
			return invalid("expires", fmt.Sprintf("year %d is outside %d-%d", year, MinYear, MaxYear))
		}
	}
	return nil
}
