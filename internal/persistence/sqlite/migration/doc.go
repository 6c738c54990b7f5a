// Package migration applies versioned SQL migrations to SQLite databases.
//
// Migrations are read from an fs.FS (typically an embed.FS compiled into the
// binary) and must follow the naming convention {version}_{description}.sql,
// for example "001_activities.sql". Each migration runs inside a transaction
// together with its row in the schema_migrations table, so a failed migration
// leaves neither schema changes nor a version record behind.
//
// Example usage:
//
//	manager := migration.NewManager(db, migrationsFS, "migrations", logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
