package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"ACTIVITY_STORAGE",
	"ACTIVITY_SQLITE_DSN",
	"ACTIVITY_LOCK_BACKEND",
	"ACTIVITY_REDIS_ADDR",
	"ACTIVITY_REDIS_PASSWORD",
	"ACTIVITY_REDIS_DB",
	"ACTIVITY_LOOKAHEAD",
	"ACTIVITY_MIN_PER_RULE",
	"ACTIVITY_LOCK_TTL",
	"ACTIVITY_REFRESH_SCHEDULE",
	"ACTIVITY_REFRESH_CONCURRENCY",
	"ACTIVITY_MAX_PAGE_SIZE",
	"ACTIVITY_LOG_LEVEL",
}

// clearEnv blanks every variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ACTIVITY_REDIS_ADDR", "localhost:6379")

		cfg, err := FromEnv()
		if err != nil {
			t.Fatalf("FromEnv returned error: %v", err)
		}

		if cfg.Storage != StorageSQLite || cfg.SQLiteDSN != "file:activities.db" {
			t.Fatalf("unexpected storage defaults: %q %q", cfg.Storage, cfg.SQLiteDSN)
		}
		if cfg.LookAhead != 96*time.Hour || cfg.LockTTL != 3*time.Minute {
			t.Fatalf("unexpected duration defaults: %s %s", cfg.LookAhead, cfg.LockTTL)
		}
		if cfg.RefreshSchedule != "@every 15m" || cfg.RefreshConcurrency != 4 || cfg.MaxPageSize != 100 {
			t.Fatalf("unexpected refresher defaults: %+v", cfg)
		}
		if cfg.LogLevel != slog.LevelInfo {
			t.Fatalf("expected info level, got %s", cfg.LogLevel)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)

		_, err := FromEnv()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "必須の環境変数が設定されていません: ACTIVITY_REDIS_ADDR"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("memory lock backend does not need redis", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ACTIVITY_LOCK_BACKEND", "memory")

		cfg, err := FromEnv()
		if err != nil {
			t.Fatalf("FromEnv returned error: %v", err)
		}
		if cfg.LockBackend != LockMemory {
			t.Fatalf("expected memory lock backend, got %q", cfg.LockBackend)
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ACTIVITY_REDIS_ADDR", "redis:6379")
		t.Setenv("ACTIVITY_REDIS_DB", "2")
		t.Setenv("ACTIVITY_STORAGE", "memory")
		t.Setenv("ACTIVITY_LOOKAHEAD", "48h")
		t.Setenv("ACTIVITY_MIN_PER_RULE", "3")
		t.Setenv("ACTIVITY_LOCK_TTL", "90s")
		t.Setenv("ACTIVITY_REFRESH_SCHEDULE", "*/5 * * * *")
		t.Setenv("ACTIVITY_REFRESH_CONCURRENCY", "8")
		t.Setenv("ACTIVITY_MAX_PAGE_SIZE", "25")
		t.Setenv("ACTIVITY_LOG_LEVEL", "debug")

		cfg, err := FromEnv()
		if err != nil {
			t.Fatalf("FromEnv returned error: %v", err)
		}

		if cfg.RedisDB != 2 || cfg.Storage != StorageMemory {
			t.Fatalf("unexpected backend settings: %+v", cfg)
		}
		if cfg.LookAhead != 48*time.Hour || cfg.MinimumPerRule != 3 || cfg.LockTTL != 90*time.Second {
			t.Fatalf("unexpected materialization settings: %+v", cfg)
		}
		if cfg.RefreshSchedule != "*/5 * * * *" || cfg.RefreshConcurrency != 8 || cfg.MaxPageSize != 25 {
			t.Fatalf("unexpected refresher settings: %+v", cfg)
		}
		if cfg.LogLevel != slog.LevelDebug {
			t.Fatalf("expected debug level, got %s", cfg.LogLevel)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ACTIVITY_REDIS_ADDR", "redis:6379")
		t.Setenv("ACTIVITY_STORAGE", "postgres")
		t.Setenv("ACTIVITY_LOOKAHEAD", "-1h")
		t.Setenv("ACTIVITY_REFRESH_SCHEDULE", "whenever")

		_, err := FromEnv()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		expected := "環境変数の値が不正です: ACTIVITY_STORAGE, ACTIVITY_LOOKAHEAD, ACTIVITY_REFRESH_SCHEDULE"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "ACTIVITY_REDIS_ADDR=from-file:6379\nACTIVITY_MAX_PAGE_SIZE=10\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	// godotenv only fills variables that are unset; t.Setenv("") counts as set.
	for _, key := range []string{"ACTIVITY_REDIS_ADDR", "ACTIVITY_MAX_PAGE_SIZE"} {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
	t.Setenv("ACTIVITY_LOG_LEVEL", "warn")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv returned error: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("ACTIVITY_REDIS_ADDR")
		_ = os.Unsetenv("ACTIVITY_MAX_PAGE_SIZE")
	})

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if cfg.RedisAddr != "from-file:6379" || cfg.MaxPageSize != 10 || cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("unexpected config from .env: %+v", cfg)
	}
}
