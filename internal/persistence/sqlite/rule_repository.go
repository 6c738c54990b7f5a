package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

// RuleRepository implements persistence.RecurrenceRepository using SQLite
type RuleRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	now    func() time.Time
}

// NewRuleRepository creates a new SQLite rule repository
func NewRuleRepository(pool *ConnectionPool) *RuleRepository {
	return &RuleRepository{pool: pool, mapper: NewErrorMapper(), now: time.Now}
}

// SaveRule validates and upserts a rule, keeping the original created_at.
func (r *RuleRepository) SaveRule(ctx context.Context, rule persistence.RecurrenceRule) error {
	if err := recurrence.Validate(rule.Rule()); err != nil {
		return err
	}

	now := r.now().UTC()
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO recurrence_rules
			(guid, study_id, user_id, label, activity_kind, activity_ref, kind, payload, expires_on, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guid) DO UPDATE SET
			study_id = excluded.study_id,
			user_id = excluded.user_id,
			label = excluded.label,
			activity_kind = excluded.activity_kind,
			activity_ref = excluded.activity_ref,
			kind = excluded.kind,
			payload = excluded.payload,
			expires_on = excluded.expires_on,
			updated_at = excluded.updated_at`,
		rule.GUID,
		rule.StudyID,
		rule.UserID,
		rule.Label,
		rule.ActivityKind,
		rule.ActivityRef,
		rule.Kind,
		rule.Payload,
		nullTime(rule.Expires),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return r.mapper.MapError("save rule", rule.GUID, err)
	}
	return nil
}

// GetRule retrieves a rule by GUID.
func (r *RuleRepository) GetRule(ctx context.Context, guid string) (persistence.RecurrenceRule, error) {
	row := r.pool.DB().QueryRowContext(ctx, `
		SELECT guid, study_id, user_id, label, activity_kind, activity_ref, kind, payload, expires_on, created_at, updated_at
		FROM recurrence_rules WHERE guid = ?`, guid)

	rule, err := scanRule(row)
	if err != nil {
		return persistence.RecurrenceRule{}, r.mapper.MapError("get rule", guid, err)
	}
	return rule, nil
}

// ListRulesForUser lists a participant's rules ordered by creation time.
func (r *RuleRepository) ListRulesForUser(ctx context.Context, studyID, userID string) ([]persistence.RecurrenceRule, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT guid, study_id, user_id, label, activity_kind, activity_ref, kind, payload, expires_on, created_at, updated_at
		FROM recurrence_rules
		WHERE study_id = ? AND user_id = ?
		ORDER BY created_at ASC, guid ASC`, studyID, userID)
	if err != nil {
		return nil, r.mapper.MapError("list rules", studyID+"/"+userID, err)
	}
	defer rows.Close()

	rules := []persistence.RecurrenceRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, r.mapper.MapError("list rules", studyID+"/"+userID, err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError("list rules", studyID+"/"+userID, err)
	}
	return rules, nil
}

// DeleteRule removes a rule by GUID.
func (r *RuleRepository) DeleteRule(ctx context.Context, guid string) error {
	result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM recurrence_rules WHERE guid = ?`, guid)
	if err != nil {
		return r.mapper.MapError("delete rule", guid, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return r.mapper.MapError("delete rule", guid, err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// DeleteRulesForUser removes every rule of a participant.
func (r *RuleRepository) DeleteRulesForUser(ctx context.Context, studyID, userID string) error {
	if _, err := r.pool.DB().ExecContext(ctx,
		`DELETE FROM recurrence_rules WHERE study_id = ? AND user_id = ?`, studyID, userID); err != nil {
		return r.mapper.MapError("delete rules", studyID+"/"+userID, err)
	}
	return nil
}

func scanRule(row rowScanner) (persistence.RecurrenceRule, error) {
	var (
		rule                 persistence.RecurrenceRule
		expiresOn            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&rule.GUID,
		&rule.StudyID,
		&rule.UserID,
		&rule.Label,
		&rule.ActivityKind,
		&rule.ActivityRef,
		&rule.Kind,
		&rule.Payload,
		&expiresOn,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.RecurrenceRule{}, err
	}

	var err error
	if rule.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rule.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if rule.Expires, err = timeFromNull(expiresOn); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse expires_on: %w", err)
	}
	return rule, nil
}
