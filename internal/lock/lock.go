// Package lock implements an advisory TTL lock on a shared key-value store.
//
// Acquisition is two steps, set-if-absent followed by expire. A lock that was
// created but could not be bounded by a TTL is reported as ErrLockState
// instead of being handed to the caller.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/activity-scheduler/internal/persistence"
)

const (
	// DefaultTTL bounds how long a lock survives its holder.
	DefaultTTL = 3 * time.Minute
	// recoveryTTL is applied when a normal expire or delete fails.
	recoveryTTL = 2 * time.Second
	// releaseTimeout bounds the release WithLock issues after fn returns.
	releaseTimeout = 5 * time.Second
)

var (
	// ErrLockHeld is returned when another owner holds the lock.
	ErrLockHeld = errors.New("lock: already held")
	// ErrNotOwner is returned when a release token does not match the holder.
	ErrNotOwner = errors.New("lock: not the lock owner")
	// ErrLockState is returned when a lock was created but no TTL could be set.
	ErrLockState = errors.New("lock: expiration not set")
	// ErrReleaseFailed is returned when the lock key could not be deleted.
	ErrReleaseFailed = errors.New("lock: release failed")
)

// Error carries the operation and key of a failed lock call.
type Error struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("lock: %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Key builds the store key for a resource class and identifier.
func Key(resourceClass, identifier string) string {
	return fmt.Sprintf("lock:%s:%s", resourceClass, identifier)
}

// Locker acquires and releases locks on a Store.
type Locker struct {
	store  Store
	ttl    time.Duration
	tokens func() string
	logger *slog.Logger
}

// Option customises a Locker.
type Option func(*Locker)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for recovery attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTokenSource replaces the random owner token generator.
func WithTokenSource(tokens func() string) Option {
	return func(l *Locker) {
		if tokens != nil {
			l.tokens = tokens
		}
	}
}

// New constructs a Locker over store.
func New(store Store, opts ...Option) *Locker {
	l := &Locker{
		store:  store,
		ttl:    DefaultTTL,
		tokens: uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "lock")
	return l
}

// TTL returns the expiration applied to acquired locks.
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// Acquire takes the lock and returns the owner token needed to release it.
func (l *Locker) Acquire(ctx context.Context, resourceClass, identifier string) (string, error) {
	key := Key(resourceClass, identifier)
	token := l.tokens()

	created, err := l.store.SetNX(ctx, key, token)
	if err != nil {
		return "", unavailable("setnx", key, err)
	}
	if !created {
		return "", &Error{Op: "acquire", Key: key, Err: ErrLockHeld}
	}

	bounded, err := l.store.Expire(ctx, key, l.ttl)
	if err == nil && bounded {
		return token, nil
	}

	cause := err
	if cause == nil {
		cause = errors.New("key vanished before expire")
	}
	l.logger.WarnContext(ctx, "lock expiration not set, discarding lock", "key", key, "error", cause)
	l.discard(ctx, key, token)
	return "", &Error{Op: "expire", Key: key, Err: fmt.Errorf("%w: %w", ErrLockState, cause)}
}

// discard removes a lock this caller created but could not bound. The key is
// left alone unless it still holds token.
func (l *Locker) discard(ctx context.Context, key, token string) {
	holder, found, err := l.store.Get(ctx, key)
	switch {
	case err != nil:
		l.logger.ErrorContext(ctx, "cannot confirm lock owner, leaving key", "key", key, "error", err)
		return
	case !found:
		return
	case holder != token:
		l.logger.WarnContext(ctx, "lock taken by another owner before expire", "key", key)
		return
	}

	if _, err := l.store.Expire(ctx, key, recoveryTTL); err != nil {
		l.logger.WarnContext(ctx, "recovery expire failed", "key", key, "error", err)
	}
	if _, err := l.store.Del(ctx, key); err != nil {
		l.logger.WarnContext(ctx, "recovery delete failed", "key", key, "error", err)
	}
}

// Release frees a lock held with token. An empty token is a no-op and so is
// releasing a lock that already expired.
func (l *Locker) Release(ctx context.Context, resourceClass, identifier, token string) error {
	if token == "" {
		return nil
	}
	key := Key(resourceClass, identifier)

	holder, found, err := l.store.Get(ctx, key)
	if err != nil {
		return unavailable("get", key, err)
	}
	if !found {
		return nil
	}
	if holder != token {
		return &Error{Op: "release", Key: key, Err: ErrNotOwner}
	}

	if _, err := l.store.Del(ctx, key); err != nil {
		if _, expErr := l.store.Expire(ctx, key, recoveryTTL); expErr != nil {
			l.logger.WarnContext(ctx, "recovery expire failed", "key", key, "error", expErr)
		}
		return &Error{Op: "release", Key: key, Err: fmt.Errorf("%w: %w", ErrReleaseFailed, err)}
	}
	return nil
}

// IsLocked reports whether any owner currently holds the lock. The answer is
// advisory and may be stale by the time the caller acts on it.
func (l *Locker) IsLocked(ctx context.Context, resourceClass, identifier string) (bool, error) {
	key := Key(resourceClass, identifier)
	_, found, err := l.store.Get(ctx, key)
	if err != nil {
		return false, unavailable("get", key, err)
	}
	return found, nil
}

// WithLock runs fn while holding the lock. Release errors are joined with the
// error returned by fn.
func (l *Locker) WithLock(ctx context.Context, resourceClass, identifier string, fn func(context.Context) error) (err error) {
	token, err := l.Acquire(ctx, resourceClass, identifier)
	if err != nil {
		return err
	}
	defer func() {
		// Release with a fresh context so a cancelled caller still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := l.Release(releaseCtx, resourceClass, identifier, token); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()
	return fn(ctx)
}

func unavailable(op, key string, err error) error {
	return &Error{Op: op, Key: key, Err: fmt.Errorf("%w: %w", persistence.ErrUnavailable, err)}
}
