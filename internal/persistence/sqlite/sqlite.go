package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/activity-scheduler/internal/persistence/sqlite/migration"
)

// timestampLayout keeps a fixed fraction width so stored text sorts chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage bundles the SQLite repositories over a single connection pool.
type Storage struct {
	*ActivityRepository
	*RuleRepository
	*ParticipantRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

// Open connects to the database at dsn using the default pragmas.
func Open(dsn string) (*Storage, error) {
	return OpenWithLogger(dsn, nil)
}

// OpenWithLogger connects to the database at dsn and logs migrations through logger.
func OpenWithLogger(dsn string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := NewConnectionPool(migration.DefaultSQLiteConfig(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}

	return &Storage{
		ActivityRepository:    NewActivityRepository(pool),
		RuleRepository:        NewRuleRepository(pool),
		ParticipantRepository: NewParticipantRepository(pool),
		pool:                  pool,
		logger:                logger,
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := migration.NewManager(s.pool.DB(), migrationFiles, "migrations", s.logger)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
