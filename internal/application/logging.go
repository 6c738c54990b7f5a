package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/activity-scheduler/internal/lock"
	"github.com/example/activity-scheduler/internal/logging"
	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/recurrence"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return "not_found"
	case errors.Is(err, lock.ErrLockHeld):
		return "lock_held"
	case errors.Is(err, lock.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, lock.ErrLockState):
		return "lock_state"
	case errors.Is(err, lock.ErrReleaseFailed):
		return "release_failed"
	case errors.Is(err, persistence.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}

	var vErr *InvalidRequestError
	if errors.As(err, &vErr) {
		return "invalid_request"
	}
	var cfgErr *recurrence.RuleConfigurationError
	if errors.As(err, &cfgErr) {
		return "rule_configuration"
	}

	return "unexpected"
}
