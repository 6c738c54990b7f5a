package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestScanMigrations(t *testing.T) {
	t.Parallel()

	t.Run("sorts by numeric version and skips other files", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{
			"migrations/010_add_index.sql":    {Data: []byte("CREATE INDEX idx ON t (a);")},
			"migrations/002_create_table.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
			"migrations/README.md":            {Data: []byte("notes")},
		}

		migrations, err := ScanMigrations(fsys, "migrations")
		if err != nil {
			t.Fatalf("ScanMigrations returned error: %v", err)
		}
		if len(migrations) != 2 {
			t.Fatalf("expected 2 migrations, got %d", len(migrations))
		}
		if migrations[0].Version != "002" || migrations[1].Version != "010" {
			t.Fatalf("unexpected order: %s, %s", migrations[0].Version, migrations[1].Version)
		}
		if migrations[0].Description != "create table" {
			t.Fatalf("unexpected description %q", migrations[0].Description)
		}
		if migrations[0].Checksum == "" || migrations[0].Checksum == migrations[1].Checksum {
			t.Fatalf("expected distinct checksums")
		}
	})

	t.Run("rejects malformed names", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{"migrations/first.sql": {Data: []byte("SELECT 1;")}}
		if _, err := ScanMigrations(fsys, "migrations"); !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{
			"migrations/001_a.sql":  {Data: []byte("SELECT 1;")},
			"migrations/0001_b.sql": {Data: []byte("SELECT 2;")},
		}
		if _, err := ScanMigrations(fsys, "migrations"); !errors.Is(err, ErrDuplicateVersion) {
			t.Fatalf("expected ErrDuplicateVersion, got %v", err)
		}
	})

	t.Run("rejects empty files", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{"migrations/001_empty.sql": {Data: []byte("  \n")}}
		if _, err := ScanMigrations(fsys, "migrations"); !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	sql := `
-- activities
CREATE TABLE a (id TEXT);

-- comment only;
CREATE INDEX idx_a ON a (id);
`
	statements := splitStatements(sql)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(statements), statements)
	}
	if statements[0] != "CREATE TABLE a (id TEXT)" {
		t.Fatalf("unexpected first statement %q", statements[0])
	}
}
