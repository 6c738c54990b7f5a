package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Lock backends.
const (
	LockRedis  = "redis"
	LockMemory = "memory"
)

// Config captures environment driven configuration values for the activity daemon.
type Config struct {
	Storage            string
	SQLiteDSN          string
	LockBackend        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	LookAhead          time.Duration
	MinimumPerRule     int
	LockTTL            time.Duration
	RefreshSchedule    string
	RefreshConcurrency int
	MaxPageSize        int
	LogLevel           slog.Level
}

// Load reads an optional .env file from the working directory and then parses
// the process environment. Variables already set take precedence over the file.
func Load() (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return FromEnv()
}

// LoadDotEnv loads variables from the named files. Missing files are ignored.
func LoadDotEnv(filenames ...string) error {
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// FromEnv parses configuration values from the current process environment.
//
// Optional fields fall back to defaults. Missing and invalid variables are
// collected and reported together.
func FromEnv() (Config, error) {
	cfg := Config{
		Storage:            StorageSQLite,
		SQLiteDSN:          "file:activities.db",
		LockBackend:        LockRedis,
		LookAhead:          96 * time.Hour,
		MinimumPerRule:     0,
		LockTTL:            3 * time.Minute,
		RefreshSchedule:    "@every 15m",
		RefreshConcurrency: 4,
		MaxPageSize:        100,
		LogLevel:           slog.LevelInfo,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if storage := strings.ToLower(strings.TrimSpace(os.Getenv("ACTIVITY_STORAGE"))); storage != "" {
		if storage != StorageSQLite && storage != StorageMemory {
			invalid = append(invalid, "ACTIVITY_STORAGE")
		} else {
			cfg.Storage = storage
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("ACTIVITY_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if backend := strings.ToLower(strings.TrimSpace(os.Getenv("ACTIVITY_LOCK_BACKEND"))); backend != "" {
		if backend != LockRedis && backend != LockMemory {
			invalid = append(invalid, "ACTIVITY_LOCK_BACKEND")
		} else {
			cfg.LockBackend = backend
		}
	}

	if addr := strings.TrimSpace(os.Getenv("ACTIVITY_REDIS_ADDR")); addr != "" {
		cfg.RedisAddr = addr
	} else if cfg.LockBackend == LockRedis {
		missing = append(missing, "ACTIVITY_REDIS_ADDR")
	}

	cfg.RedisPassword = os.Getenv("ACTIVITY_REDIS_PASSWORD")

	if dbValue := strings.TrimSpace(os.Getenv("ACTIVITY_REDIS_DB")); dbValue != "" {
		db, err := strconv.Atoi(dbValue)
		if err != nil || db < 0 {
			invalid = append(invalid, "ACTIVITY_REDIS_DB")
		} else {
			cfg.RedisDB = db
		}
	}

	if value := strings.TrimSpace(os.Getenv("ACTIVITY_LOOKAHEAD")); value != "" {
		lookAhead, err := time.ParseDuration(value)
		if err != nil || lookAhead <= 0 {
			invalid = append(invalid, "ACTIVITY_LOOKAHEAD")
		} else {
			cfg.LookAhead = lookAhead
		}
	}

	if value := strings.TrimSpace(os.Getenv("ACTIVITY_MIN_PER_RULE")); value != "" {
		minimum, err := strconv.Atoi(value)
		if err != nil || minimum < 0 {
			invalid = append(invalid, "ACTIVITY_MIN_PER_RULE")
		} else {
			cfg.MinimumPerRule = minimum
		}
	}

	if value := strings.TrimSpace(os.Getenv("ACTIVITY_LOCK_TTL")); value != "" {
		ttl, err := time.ParseDuration(value)
		if err != nil || ttl < time.Second {
			invalid = append(invalid, "ACTIVITY_LOCK_TTL")
		} else {
			cfg.LockTTL = ttl
		}
	}

	if value := strings.TrimSpace(os.Getenv("ACTIVITY_REFRESH_SCHEDULE")); value != "" {
		if _, err := cron.ParseStandard(value); err != nil {
			invalid = append(invalid, "ACTIVITY_REFRESH_SCHEDULE")
		} else {
			cfg.RefreshSchedule = value
		}
	}

	if value := strings.TrimSpace(os.Getenv("ACTIVITY_REFRESH_CONCURRENCY")); value != "" {
		concurrency, err := strconv.Atoi(value)
		if err != nil || concurrency <= 0 {
			invalid = append(invalid, "ACTIVITY_REFRESH_CONCURRENCY")
		} else {
			cfg.RefreshConcurrency = concurrency
		}
	}

	if value := strings.TrimSpace(os.Getenv("ACTIVITY_MAX_PAGE_SIZE")); value != "" {
		size, err := strconv.Atoi(value)
		if err != nil || size <= 0 {
			invalid = append(invalid, "ACTIVITY_MAX_PAGE_SIZE")
		} else {
			cfg.MaxPageSize = size
		}
	}

	if value := strings.TrimSpace(os.Getenv("ACTIVITY_LOG_LEVEL")); value != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(value)); err != nil {
			invalid = append(invalid, "ACTIVITY_LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
