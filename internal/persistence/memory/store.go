// Package memory provides a mutex guarded in-memory implementation of the
// persistence repositories.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

type activityKey struct {
	healthCode string
	guid       string
}

// Store keeps activities, rules and participants in maps.
type Store struct {
	mu           sync.RWMutex
	activities   map[activityKey]persistence.Activity
	rules        map[string]persistence.RecurrenceRule
	participants map[string]persistence.Participant
	now          func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		activities:   make(map[activityKey]persistence.Activity),
		rules:        make(map[string]persistence.RecurrenceRule),
		participants: make(map[string]persistence.Participant),
		now:          time.Now,
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error {
	return nil
}

// --- ActivityRepository implementation ---

// GetActivity retrieves one activity by health code and GUID.
func (s *Store) GetActivity(ctx context.Context, healthCode, guid string) (persistence.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activity, ok := s.activities[activityKey{healthCode, guid}]
	if !ok {
		return persistence.Activity{}, persistence.ErrNotFound
	}
	return cloneActivity(activity), nil
}

// ListActivities returns the activities scheduled in [from, to) ordered by time.
func (s *Store) ListActivities(ctx context.Context, healthCode string, from, to time.Time) ([]persistence.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activities := []persistence.Activity{}
	for key, activity := range s.activities {
		if key.healthCode != healthCode {
			continue
		}
		if activity.ScheduledOn.Before(from) || !activity.ScheduledOn.Before(to) {
			continue
		}
		activities = append(activities, cloneActivity(activity))
	}
	sortActivities(activities)
	return activities, nil
}

// ListActivityHistory returns one page of a rule's occurrences.
func (s *Store) ListActivityHistory(ctx context.Context, query persistence.HistoryQuery) (persistence.HistoryPage, error) {
	if query.PageSize <= 0 {
		return persistence.HistoryPage{}, fmt.Errorf("memory: page size must be positive, got %d", query.PageSize)
	}

	var (
		afterAt   time.Time
		afterGUID string
	)
	if query.Cursor != "" {
		var err error
		if afterAt, afterGUID, err = persistence.DecodeCursor(query.Cursor); err != nil {
			return persistence.HistoryPage{}, err
		}
	}

	s.mu.RLock()
	matches := []persistence.Activity{}
	for key, activity := range s.activities {
		if key.healthCode != query.HealthCode || activity.RuleGUID != query.RuleGUID {
			continue
		}
		if !query.Start.IsZero() && activity.ScheduledOn.Before(query.Start) {
			continue
		}
		if !query.End.IsZero() && !activity.ScheduledOn.Before(query.End) {
			continue
		}
		if afterGUID != "" && !after(activity, afterAt, afterGUID) {
			continue
		}
		matches = append(matches, cloneActivity(activity))
	}
	s.mu.RUnlock()

	sortActivities(matches)

	page := persistence.HistoryPage{Activities: matches}
	if len(matches) > query.PageSize {
		page.Activities = matches[:query.PageSize]
		last := page.Activities[query.PageSize-1]
		page.NextCursor = persistence.EncodeCursor(last.ScheduledOn, last.GUID)
	}
	return page, nil
}

// SaveActivitiesIfAbsent stores the activities whose key is not present yet.
func (s *Store) SaveActivitiesIfAbsent(ctx context.Context, activities []persistence.Activity) (int, error) {
	for _, activity := range activities {
		if activity.GUID == "" || activity.HealthCode == "" {
			return 0, fmt.Errorf("%w: activity requires guid and health code", persistence.ErrConstraintViolation)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, activity := range activities {
		key := activityKey{activity.HealthCode, activity.GUID}
		if _, exists := s.activities[key]; exists {
			continue
		}
		activity.ScheduledOn = activity.ScheduledOn.UTC()
		s.activities[key] = cloneActivity(activity)
		inserted++
	}
	return inserted, nil
}

// UpdateActivityStatus patches started and finished timestamps that are not set yet.
func (s *Store) UpdateActivityStatus(ctx context.Context, healthCode string, statuses []persistence.ActivityStatus) ([]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]error, len(statuses))
	for i, status := range statuses {
		key := activityKey{healthCode, status.GUID}
		activity, ok := s.activities[key]
		if !ok {
			results[i] = persistence.ErrNotFound
			continue
		}
		if activity.StartedOn == nil {
			switch {
			case status.StartedOn != nil:
				activity.StartedOn = cloneTime(status.StartedOn)
			case status.FinishedOn != nil:
				activity.StartedOn = cloneTime(status.FinishedOn)
			}
		}
		if activity.FinishedOn == nil && status.FinishedOn != nil {
			activity.FinishedOn = cloneTime(status.FinishedOn)
		}
		s.activities[key] = activity
	}
	return results, nil
}

// DeleteActivitiesForUser removes every activity stored for healthCode.
func (s *Store) DeleteActivitiesForUser(ctx context.Context, healthCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.activities {
		if key.healthCode == healthCode {
			delete(s.activities, key)
		}
	}
	return nil
}

// --- RecurrenceRepository implementation ---

// SaveRule validates and upserts a rule.
func (s *Store) SaveRule(ctx context.Context, rule persistence.RecurrenceRule) error {
	if err := recurrence.Validate(rule.Rule()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rule.CreatedAt = now
	if existing, ok := s.rules[rule.GUID]; ok {
		rule.CreatedAt = existing.CreatedAt
	}
	rule.UpdatedAt = now
	rule.Expires = cloneTime(rule.Expires)
	s.rules[rule.GUID] = rule
	return nil
}

// GetRule retrieves a rule by GUID.
func (s *Store) GetRule(ctx context.Context, guid string) (persistence.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[guid]
	if !ok {
		return persistence.RecurrenceRule{}, persistence.ErrNotFound
	}
	rule.Expires = cloneTime(rule.Expires)
	return rule, nil
}

// ListRulesForUser lists a participant's rules ordered by creation time.
func (s *Store) ListRulesForUser(ctx context.Context, studyID, userID string) ([]persistence.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := []persistence.RecurrenceRule{}
	for _, rule := range s.rules {
		if rule.StudyID == studyID && rule.UserID == userID {
			rule.Expires = cloneTime(rule.Expires)
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].GUID < rules[j].GUID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// DeleteRule removes a rule by GUID.
func (s *Store) DeleteRule(ctx context.Context, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[guid]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.rules, guid)
	return nil
}

// DeleteRulesForUser removes every rule of a participant.
func (s *Store) DeleteRulesForUser(ctx context.Context, studyID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for guid, rule := range s.rules {
		if rule.StudyID == studyID && rule.UserID == userID {
			delete(s.rules, guid)
		}
	}
	return nil
}

// --- ParticipantRepository implementation ---

// UpsertParticipant creates or updates a participant keyed by health code.
func (s *Store) UpsertParticipant(ctx context.Context, participant persistence.Participant) error {
	if participant.HealthCode == "" || participant.StudyID == "" || participant.UserID == "" {
		return fmt.Errorf("%w: participant requires health code, study and user", persistence.ErrConstraintViolation)
	}
	if participant.TimeZone == "" {
		participant.TimeZone = "UTC"
	}
	if _, err := time.LoadLocation(participant.TimeZone); err != nil {
		return fmt.Errorf("%w: unknown time zone %q", persistence.ErrConstraintViolation, participant.TimeZone)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	participant.CreatedAt = now
	if existing, ok := s.participants[participant.HealthCode]; ok {
		participant.CreatedAt = existing.CreatedAt
	}
	participant.UpdatedAt = now
	s.participants[participant.HealthCode] = participant
	return nil
}

// GetParticipant retrieves a participant by health code.
func (s *Store) GetParticipant(ctx context.Context, healthCode string) (persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participant, ok := s.participants[healthCode]
	if !ok {
		return persistence.Participant{}, persistence.ErrNotFound
	}
	return participant, nil
}

// ListParticipants returns every participant ordered by health code.
func (s *Store) ListParticipants(ctx context.Context) ([]persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make([]persistence.Participant, 0, len(s.participants))
	for _, participant := range s.participants {
		participants = append(participants, participant)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].HealthCode < participants[j].HealthCode
	})
	return participants, nil
}

// DeleteParticipant removes a participant by health code.
func (s *Store) DeleteParticipant(ctx context.Context, healthCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[healthCode]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.participants, healthCode)
	return nil
}

func after(activity persistence.Activity, at time.Time, guid string) bool {
	if activity.ScheduledOn.Equal(at) {
		return activity.GUID > guid
	}
	return activity.ScheduledOn.After(at)
}

func sortActivities(activities []persistence.Activity) {
	sort.Slice(activities, func(i, j int) bool {
		if activities[i].ScheduledOn.Equal(activities[j].ScheduledOn) {
			return activities[i].GUID < activities[j].GUID
		}
		return activities[i].ScheduledOn.Before(activities[j].ScheduledOn)
	})
}

func cloneActivity(activity persistence.Activity) persistence.Activity {
	activity.ExpiresOn = cloneTime(activity.ExpiresOn)
	activity.StartedOn = cloneTime(activity.StartedOn)
	activity.FinishedOn = cloneTime(activity.FinishedOn)
	return activity
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
