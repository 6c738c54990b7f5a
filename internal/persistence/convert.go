package persistence

import "github.com/example/activity-scheduler/internal/recurrence"

// Rule converts the stored record into the engine's value type.
func (r RecurrenceRule) Rule() recurrence.Rule {
	return recurrence.Rule{
		GUID:         r.GUID,
		StudyID:      r.StudyID,
		UserID:       r.UserID,
		Label:        r.Label,
		ActivityKind: recurrence.ActivityKind(r.ActivityKind),
		ActivityRef:  r.ActivityRef,
		Kind:         recurrence.RuleKind(r.Kind),
		Payload:      r.Payload,
		Expires:      r.Expires,
	}
}

// RuleRecord converts an engine rule into its storage record. Timestamps are
// left for the repository to assign.
func RuleRecord(rule recurrence.Rule) RecurrenceRule {
	return RecurrenceRule{
		GUID:         rule.GUID,
		StudyID:      rule.StudyID,
		UserID:       rule.UserID,
		Label:        rule.Label,
		ActivityKind: string(rule.ActivityKind),
		ActivityRef:  rule.ActivityRef,
		Kind:         string(rule.Kind),
		Payload:      rule.Payload,
		Expires:      rule.Expires,
	}
}
