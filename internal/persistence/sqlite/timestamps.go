package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

// Bounds of what timestampLayout can hold while still sorting as text.
var (
	minStoredTime = time.Date(recurrence.MinYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxStoredTime = time.Date(recurrence.MaxYear, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// checkStorable rejects instants that timestampLayout cannot hold.
func checkStorable(field string, times ...*time.Time) error {
	for _, t := range times {
		if t == nil {
			continue
		}
		if t.Before(minStoredTime) || t.After(maxStoredTime) {
			return fmt.Errorf("%w: %s %s is outside years %d-%d",
				persistence.ErrConstraintViolation, field, t.UTC().Format(time.RFC3339), recurrence.MinYear, recurrence.MaxYear)
		}
	}
	return nil
}

// boundTime clamps a query bound into the storable range.
func boundTime(t time.Time) string {
	switch {
	case t.Before(minStoredTime):
		t = minStoredTime
	case t.After(maxStoredTime):
		t = maxStoredTime
	}
	return formatTime(t)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timeFromNull(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
