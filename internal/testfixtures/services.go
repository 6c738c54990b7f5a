package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/activity-scheduler/internal/application"
	"github.com/example/activity-scheduler/internal/lock"
	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/scheduler"
)

// ServiceFactory assists tests with constructing services that share a
// deterministic clock and token sequence.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("token"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("token")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the token generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLogger overrides the logger handed to every service.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// NewActivityService builds an activity service reading time from the factory clock.
func (f *ServiceFactory) NewActivityService(store persistence.ActivityRepository, config application.ActivityServiceConfig) *application.ActivityService {
	return application.NewActivityServiceWithLogger(store, config, f.Clock.NowFunc(), f.Logger)
}

// NewLockStore returns an in-process lock store whose expirations follow the factory clock.
func (f *ServiceFactory) NewLockStore() *lock.MemoryStore {
	return lock.NewMemoryStore(f.Clock.NowFunc())
}

// NewLocker builds a locker over store using sequential owner tokens.
func (f *ServiceFactory) NewLocker(store lock.Store, opts ...lock.Option) *lock.Locker {
	base := []lock.Option{lock.WithTokenSource(f.IDGenerator.NextFunc())}
	if f.Logger != nil {
		base = append(base, lock.WithLogger(f.Logger))
	}
	return lock.New(store, append(base, opts...)...)
}

// RefresherStore is the storage surface a refresher reads and writes.
type RefresherStore interface {
	persistence.ActivityRepository
	scheduler.ParticipantSource
	scheduler.RuleSource
}

// RefresherDeps captures the optional dependencies of a refresher.
type RefresherDeps struct {
	Store   RefresherStore
	Service *application.ActivityService
	Locker  scheduler.Locker
	Config  scheduler.Config
}

// NewRefresher builds a refresher, filling the service and locker from the
// factory when they are not supplied.
func (f *ServiceFactory) NewRefresher(deps RefresherDeps) *scheduler.Refresher {
	service := deps.Service
	if service == nil {
		service = f.NewActivityService(deps.Store, application.ActivityServiceConfig{})
	}
	locker := deps.Locker
	if locker == nil {
		locker = f.NewLocker(f.NewLockStore())
	}
	return scheduler.NewRefresher(deps.Store, deps.Store, service, locker, deps.Config, f.Logger)
}
