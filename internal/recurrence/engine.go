package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinimumCeiling bounds how far past the window ExpandMinimum may search.
const MinimumCeiling = 366 * 24 * time.Hour

// Plan is a validated rule ready for expansion.
type Plan struct {
	rule     Rule
	at       time.Time
	schedule cron.Schedule
}

// Rule returns the rule the plan was compiled from.
func (p Plan) Rule() Rule {
	return p.rule
}

// Engine expands recurrence rules into occurrences.
type Engine struct {
	parser cron.Parser
}

// NewEngine constructs an Engine accepting standard five-field cron expressions
// and the @yearly/@monthly/@weekly/@daily/@hourly descriptors.
func NewEngine() *Engine {
	return &Engine{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

var defaultEngine = NewEngine()

// Validate checks a rule without keeping the compiled plan.
func Validate(rule Rule) error {
	_, err := defaultEngine.Compile(rule)
	return err
}

// Compile validates the rule and parses its payload.
//
// Cron payloads are wall-clock expressions; the zone is supplied per
// participant at expansion time, so TZ= prefixes are refused. @every
// descriptors are refused as well because their occurrences depend on the
// evaluation start instead of the calendar.
func (e *Engine) Compile(rule Rule) (Plan, error) {
	if err := checkMetadata(rule); err != nil {
		return Plan{}, err
	}

	payload := strings.TrimSpace(rule.Payload)
	invalid := func(reason string) error {
		return &RuleConfigurationError{RuleGUID: rule.GUID, Field: "payload", Reason: reason}
	}

	switch rule.Kind {
	case KindDate:
		at, err := time.Parse(time.RFC3339Nano, payload)
		if err != nil {
			return Plan{}, invalid(fmt.Sprintf("date payload %q is not an RFC 3339 instant", payload))
		}
		return Plan{rule: rule, at: at}, nil
	case KindCron:
		upper := strings.ToUpper(payload)
		if strings.HasPrefix(upper, "TZ=") || strings.HasPrefix(upper, "CRON_TZ=") {
			return Plan{}, invalid("cron payload must not carry a time zone prefix")
		}
		if strings.HasPrefix(strings.ToLower(payload), "@every") {
			return Plan{}, invalid("@every intervals are not calendar based")
		}
		schedule, err := e.parser.Parse(payload)
		if err != nil {
			return Plan{}, invalid(fmt.Sprintf("cron payload %q: %v", payload, err))
		}
		return Plan{rule: rule, schedule: schedule}, nil
	default:
		return Plan{}, &RuleConfigurationError{RuleGUID: rule.GUID, Field: "kind", Reason: fmt.Sprintf("unsupported rule kind %q", rule.Kind)}
	}
}

// Expand returns the occurrences of plan within [start, end), strictly
// increasing and expressed in loc. Occurrences on or after the rule expiration
// are dropped. An empty or inverted window yields no occurrences.
func (e *Engine) Expand(plan Plan, loc *time.Location, start, end time.Time) []time.Time {
	return e.ExpandMinimum(plan, loc, start, end, 0)
}

// ExpandMinimum behaves like Expand, but cron plans keep producing occurrences
// past end until at least minimum exist, the rule expires, or a one year
// ceiling past end is reached. Date plans are unaffected by minimum.
func (e *Engine) ExpandMinimum(plan Plan, loc *time.Location, start, end time.Time, minimum int) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if !end.After(start) {
		return nil
	}

	if plan.schedule == nil {
		at := plan.at
		if at.IsZero() || at.Before(start) || !at.Before(end) || plan.rule.ExpiredAt(at) {
			return nil
		}
		return []time.Time{at.In(loc)}
	}

	occurrences := make([]time.Time, 0)
	ceiling := end
	if minimum > 0 {
		ceiling = end.Add(MinimumCeiling)
	}

	// Next is exclusive and truncates to whole seconds, so step back one second
	// to keep an occurrence that lands exactly on start.
	cursor := start.In(loc).Add(-time.Second)
	for {
		next := plan.schedule.Next(cursor)
		if next.IsZero() || plan.rule.ExpiredAt(next) || !next.Before(ceiling) {
			break
		}
		if !next.Before(end) && len(occurrences) >= minimum {
			break
		}
		cursor = next
		if next.Before(start) {
			continue
		}
		occurrences = append(occurrences, next)
	}

	return occurrences
}
