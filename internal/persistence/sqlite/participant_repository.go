package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/example/activity-scheduler/internal/persistence"
)

// ParticipantRepository implements persistence.ParticipantRepository using SQLite
type ParticipantRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	now    func() time.Time
}

// NewParticipantRepository creates a new SQLite participant repository
func NewParticipantRepository(pool *ConnectionPool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool, mapper: NewErrorMapper(), now: time.Now}
}

// UpsertParticipant creates or updates a participant keyed by health code.
func (r *ParticipantRepository) UpsertParticipant(ctx context.Context, participant persistence.Participant) error {
	if participant.HealthCode == "" || participant.StudyID == "" || participant.UserID == "" {
		return fmt.Errorf("%w: participant requires health code, study and user", persistence.ErrConstraintViolation)
	}
	if participant.TimeZone == "" {
		participant.TimeZone = "UTC"
	}
	if _, err := time.LoadLocation(participant.TimeZone); err != nil {
		return fmt.Errorf("%w: unknown time zone %q", persistence.ErrConstraintViolation, participant.TimeZone)
	}

	now := formatTime(r.now())
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO participants (health_code, study_id, user_id, time_zone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (health_code) DO UPDATE SET
			study_id = excluded.study_id,
			user_id = excluded.user_id,
			time_zone = excluded.time_zone,
			updated_at = excluded.updated_at`,
		participant.HealthCode, participant.StudyID, participant.UserID, participant.TimeZone, now, now)
	if err != nil {
		return r.mapper.MapError("upsert participant", participant.HealthCode, err)
	}
	return nil
}

// GetParticipant retrieves a participant by health code.
func (r *ParticipantRepository) GetParticipant(ctx context.Context, healthCode string) (persistence.Participant, error) {
	row := r.pool.DB().QueryRowContext(ctx, `
		SELECT health_code, study_id, user_id, time_zone, created_at, updated_at
		FROM participants WHERE health_code = ?`, healthCode)

	participant, err := scanParticipant(row)
	if err != nil {
		return persistence.Participant{}, r.mapper.MapError("get participant", healthCode, err)
	}
	return participant, nil
}

// ListParticipants returns every participant ordered by health code.
func (r *ParticipantRepository) ListParticipants(ctx context.Context) ([]persistence.Participant, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT health_code, study_id, user_id, time_zone, created_at, updated_at
		FROM participants ORDER BY health_code ASC`)
	if err != nil {
		return nil, r.mapper.MapError("list participants", "", err)
	}
	defer rows.Close()

	participants := []persistence.Participant{}
	for rows.Next() {
		participant, err := scanParticipant(rows)
		if err != nil {
			return nil, r.mapper.MapError("list participants", "", err)
		}
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError("list participants", "", err)
	}
	return participants, nil
}

// DeleteParticipant removes a participant by health code.
func (r *ParticipantRepository) DeleteParticipant(ctx context.Context, healthCode string) error {
	result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM participants WHERE health_code = ?`, healthCode)
	if err != nil {
		return r.mapper.MapError("delete participant", healthCode, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return r.mapper.MapError("delete participant", healthCode, err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanParticipant(row rowScanner) (persistence.Participant, error) {
	var (
		participant          persistence.Participant
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&participant.HealthCode,
		&participant.StudyID,
		&participant.UserID,
		&participant.TimeZone,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Participant{}, err
	}

	var err error
	if participant.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return persistence.Participant{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if participant.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return persistence.Participant{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return participant, nil
}
