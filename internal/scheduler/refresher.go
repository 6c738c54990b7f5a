// Package scheduler keeps participants' activities materialized on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/example/activity-scheduler/internal/application"
	"github.com/example/activity-scheduler/internal/lock"
	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

// LockClass is the resource class under which per-participant refreshes are serialized.
const LockClass = "activity-refresh"

// DefaultSchedule runs a sweep every fifteen minutes.
const DefaultSchedule = "@every 15m"

// ParticipantSource lists the participants to refresh.
type ParticipantSource interface {
	ListParticipants(ctx context.Context) ([]persistence.Participant, error)
}

// RuleSource loads a participant's rules.
type RuleSource interface {
	ListRulesForUser(ctx context.Context, studyID, userID string) ([]persistence.RecurrenceRule, error)
}

// Materializer computes and saves a participant's activities.
type Materializer interface {
	RefreshActivities(ctx context.Context, participant application.Participant, rules []recurrence.Rule) (application.RefreshResult, error)
}

// Locker serializes work per resource across instances.
type Locker interface {
	WithLock(ctx context.Context, resourceClass, identifier string, fn func(context.Context) error) error
}

// Config tunes the refresher.
type Config struct {
	Schedule    string
	Concurrency int
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Participants int
	Refreshed    int
	Skipped      int
	Failed       int
	Inserted     int
}

// Refresher periodically refreshes every participant under a distributed lock.
type Refresher struct {
	participants ParticipantSource
	rules        RuleSource
	materializer Materializer
	locker       Locker
	cfg          Config
	log          *slog.Logger

	mu sync.Mutex
	c  *cron.Cron
}

// NewRefresher wires the refresher dependencies.
func NewRefresher(participants ParticipantSource, rules RuleSource, materializer Materializer, locker Locker, cfg Config, log *slog.Logger) *Refresher {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		participants: participants,
		rules:        rules,
		materializer: materializer,
		locker:       locker,
		cfg:          cfg,
		log:          log.With("component", "refresher"),
	}
}

// RefreshParticipant materializes one participant's activities while holding
// the participant lock. It returns lock.ErrLockHeld when another instance is
// already refreshing the same participant.
func (r *Refresher) RefreshParticipant(ctx context.Context, participant persistence.Participant) (application.RefreshResult, error) {
	var result application.RefreshResult
	err := r.locker.WithLock(ctx, LockClass, participant.HealthCode, func(ctx context.Context) error {
		records, err := r.rules.ListRulesForUser(ctx, participant.StudyID, participant.UserID)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		rules := make([]recurrence.Rule, 0, len(records))
		for _, record := range records {
			rules = append(rules, record.Rule())
		}

		result, err = r.materializer.RefreshActivities(ctx, application.Participant{
			StudyID:    participant.StudyID,
			UserID:     participant.UserID,
			HealthCode: participant.HealthCode,
			TimeZone:   participant.TimeZone,
		}, rules)
		return err
	})
	return result, err
}

// Sweep refreshes every participant with bounded concurrency. A participant
// locked elsewhere is skipped. Individual failures do not stop the sweep and
// are returned joined.
func (r *Refresher) Sweep(ctx context.Context) (SweepStats, error) {
	started := time.Now()

	participants, err := r.participants.ListParticipants(ctx)
	if err != nil {
		return SweepStats{}, fmt.Errorf("list participants: %w", err)
	}

	var (
		mu    sync.Mutex
		stats = SweepStats{Participants: len(participants)}
		errs  []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, participant := range participants {
		participant := participant
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := r.RefreshParticipant(gctx, participant)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				stats.Refreshed++
				stats.Inserted += result.Inserted
			case errors.Is(err, lock.ErrLockHeld):
				stats.Skipped++
				r.log.Debug("participant locked elsewhere", slog.String("health_code", participant.HealthCode))
			default:
				stats.Failed++
				errs = append(errs, fmt.Errorf("participant %s: %w", participant.HealthCode, err))
				r.log.Warn("participant refresh failed",
					slog.String("health_code", participant.HealthCode),
					slog.String("error_kind", application.ErrorKind(err)),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	r.log.Info("sweep finished",
		slog.Int("participants", stats.Participants),
		slog.Int("refreshed", stats.Refreshed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Int("inserted", stats.Inserted),
		slog.Duration("duration", time.Since(started)),
	)
	return stats, errors.Join(errs...)
}

// Start registers the sweep on the configured cron schedule. Overlapping runs
// are skipped.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return errors.New("refresher already started")
	}

	logger := cronLogger{log: r.log}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.log.Error("sweep completed with errors", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.cfg.Schedule, err)
	}

	r.c = c
	c.Start()
	r.log.Info("refresher started", slog.String("schedule", r.cfg.Schedule), slog.Int("concurrency", r.cfg.Concurrency))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return
	}
	<-r.c.Stop().Done()
	r.c = nil
	r.log.Info("refresher stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
