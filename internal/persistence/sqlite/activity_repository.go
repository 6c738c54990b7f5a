package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/activity-scheduler/internal/persistence"
)

const activityColumns = `health_code, guid, rule_guid, label, activity_kind, activity_ref, time_zone,
	scheduled_on, expires_on, started_on, finished_on`

// ActivityRepository implements persistence.ActivityRepository using SQLite
type ActivityRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewActivityRepository creates a new SQLite activity repository
func NewActivityRepository(pool *ConnectionPool) *ActivityRepository {
	return &ActivityRepository{pool: pool, mapper: NewErrorMapper()}
}

// GetActivity retrieves one activity by health code and GUID.
func (r *ActivityRepository) GetActivity(ctx context.Context, healthCode, guid string) (persistence.Activity, error) {
	row := r.pool.DB().QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM scheduled_activities WHERE health_code = ? AND guid = ?`,
		healthCode, guid)

	activity, err := scanActivity(row)
	if err != nil {
		return persistence.Activity{}, r.mapper.MapError("get activity", guid, err)
	}
	return activity, nil
}

// ListActivities returns the activities scheduled in [from, to) ordered by time.
func (r *ActivityRepository) ListActivities(ctx context.Context, healthCode string, from, to time.Time) ([]persistence.Activity, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM scheduled_activities
		WHERE health_code = ? AND scheduled_on >= ? AND scheduled_on < ?
		ORDER BY scheduled_on ASC, guid ASC`,
		healthCode, boundTime(from), boundTime(to))
	if err != nil {
		return nil, r.mapper.MapError("list activities", healthCode, err)
	}
	defer rows.Close()

	activities, err := scanActivities(rows)
	if err != nil {
		return nil, r.mapper.MapError("list activities", healthCode, err)
	}
	return activities, nil
}

// ListActivityHistory returns one page of a rule's occurrences using a keyset
// cursor on (scheduled_on, guid).
func (r *ActivityRepository) ListActivityHistory(ctx context.Context, query persistence.HistoryQuery) (persistence.HistoryPage, error) {
	if query.PageSize <= 0 {
		return persistence.HistoryPage{}, fmt.Errorf("sqlite: page size must be positive, got %d", query.PageSize)
	}

	var (
		conditions = []string{"health_code = ?", "rule_guid = ?"}
		args       = []any{query.HealthCode, query.RuleGUID}
	)
	if !query.Start.IsZero() {
		conditions = append(conditions, "scheduled_on >= ?")
		args = append(args, boundTime(query.Start))
	}
	if !query.End.IsZero() {
		conditions = append(conditions, "scheduled_on < ?")
		args = append(args, boundTime(query.End))
	}
	if query.Cursor != "" {
		at, guid, err := persistence.DecodeCursor(query.Cursor)
		if err != nil {
			return persistence.HistoryPage{}, err
		}
		conditions = append(conditions, "(scheduled_on > ? OR (scheduled_on = ? AND guid > ?))")
		args = append(args, boundTime(at), boundTime(at), guid)
	}
	args = append(args, query.PageSize+1)

	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM scheduled_activities
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY scheduled_on ASC, guid ASC
		LIMIT ?`, args...)
	if err != nil {
		return persistence.HistoryPage{}, r.mapper.MapError("list activity history", query.RuleGUID, err)
	}
	defer rows.Close()

	activities, err := scanActivities(rows)
	if err != nil {
		return persistence.HistoryPage{}, r.mapper.MapError("list activity history", query.RuleGUID, err)
	}

	page := persistence.HistoryPage{Activities: activities}
	if len(activities) > query.PageSize {
		page.Activities = activities[:query.PageSize]
		last := page.Activities[query.PageSize-1]
		page.NextCursor = persistence.EncodeCursor(last.ScheduledOn, last.GUID)
	}
	return page, nil
}

// SaveActivitiesIfAbsent inserts the activities in one transaction, skipping
// rows whose (health_code, guid) already exists.
func (r *ActivityRepository) SaveActivitiesIfAbsent(ctx context.Context, activities []persistence.Activity) (int, error) {
	if len(activities) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO scheduled_activities (`+activityColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (health_code, guid) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, activity := range activities {
			if activity.GUID == "" || activity.HealthCode == "" {
				return fmt.Errorf("%w: activity requires guid and health code", persistence.ErrConstraintViolation)
			}
			if err := checkStorable("activity "+activity.GUID, &activity.ScheduledOn, activity.ExpiresOn, activity.StartedOn, activity.FinishedOn); err != nil {
				return err
			}
			result, err := stmt.ExecContext(ctx,
				activity.HealthCode,
				activity.GUID,
				activity.RuleGUID,
				activity.Label,
				activity.ActivityKind,
				activity.ActivityRef,
				activity.TimeZone,
				formatTime(activity.ScheduledOn),
				nullTime(activity.ExpiresOn),
				nullTime(activity.StartedOn),
				nullTime(activity.FinishedOn),
			)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(affected)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, persistence.ErrConstraintViolation) {
			return 0, err
		}
		return 0, r.mapper.MapError("save activities", "", err)
	}
	return inserted, nil
}

// UpdateActivityStatus patches started_on and finished_on without ever
// replacing a stored value. A finish without a stored start also records the
// start. All patches run in one transaction.
func (r *ActivityRepository) UpdateActivityStatus(ctx context.Context, healthCode string, statuses []persistence.ActivityStatus) ([]error, error) {
	results := make([]error, len(statuses))
	if len(statuses) == 0 {
		return results, nil
	}

	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE scheduled_activities
			SET started_on = COALESCE(started_on, ?, ?),
				finished_on = COALESCE(finished_on, ?)
			WHERE health_code = ? AND guid = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, status := range statuses {
			if err := checkStorable("status "+status.GUID, status.StartedOn, status.FinishedOn); err != nil {
				results[i] = err
				continue
			}
			result, err := stmt.ExecContext(ctx,
				nullTime(status.StartedOn),
				nullTime(status.FinishedOn),
				nullTime(status.FinishedOn),
				healthCode,
				status.GUID,
			)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				results[i] = persistence.ErrNotFound
			}
		}
		return nil
	})
	if err != nil {
		return nil, r.mapper.MapError("update activity status", healthCode, err)
	}
	return results, nil
}

// DeleteActivitiesForUser removes every activity stored for healthCode.
func (r *ActivityRepository) DeleteActivitiesForUser(ctx context.Context, healthCode string) error {
	if _, err := r.pool.DB().ExecContext(ctx, `DELETE FROM scheduled_activities WHERE health_code = ?`, healthCode); err != nil {
		return r.mapper.MapError("delete activities", healthCode, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (persistence.Activity, error) {
	var (
		activity    persistence.Activity
		scheduledOn string
		expiresOn   sql.NullString
		startedOn   sql.NullString
		finishedOn  sql.NullString
	)
	if err := row.Scan(
		&activity.HealthCode,
		&activity.GUID,
		&activity.RuleGUID,
		&activity.Label,
		&activity.ActivityKind,
		&activity.ActivityRef,
		&activity.TimeZone,
		&scheduledOn,
		&expiresOn,
		&startedOn,
		&finishedOn,
	); err != nil {
		return persistence.Activity{}, err
	}

	var err error
	if activity.ScheduledOn, err = parseTime(scheduledOn); err != nil {
		return persistence.Activity{}, fmt.Errorf("failed to parse scheduled_on: %w", err)
	}
	if activity.ExpiresOn, err = timeFromNull(expiresOn); err != nil {
		return persistence.Activity{}, fmt.Errorf("failed to parse expires_on: %w", err)
	}
	if activity.StartedOn, err = timeFromNull(startedOn); err != nil {
		return persistence.Activity{}, fmt.Errorf("failed to parse started_on: %w", err)
	}
	if activity.FinishedOn, err = timeFromNull(finishedOn); err != nil {
		return persistence.Activity{}, fmt.Errorf("failed to parse finished_on: %w", err)
	}
	return activity, nil
}

func scanActivities(rows *sql.Rows) ([]persistence.Activity, error) {
	activities := []persistence.Activity{}
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}
