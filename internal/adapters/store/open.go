package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/db"
)

// Config выбирает хранилище.
//
// Значения Driver:
//   - "file": снимок JSON и журнал JSON Lines в каталоге Dir
//   - "sqlite": файл SQLite (по умолчанию Dir/monitor.db)
//   - "postgres": база по DSN
type Config struct {
	Driver      string
	Dir         string
	SQLitePath  string
	PostgresDSN string
	BusyTimeout time.Duration
}

// Open создаёт настроенное хранилище.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (domain.SnapshotStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return OpenFile(cfg.Dir, logger)
	case "sqlite", "sqlite3":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Dir, "monitor.db")
		}
		return OpenSQLite(path, cfg.BusyTimeout, logger)
	case "postgres", "postgresql", "pg":
		pool, err := db.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, &domain.StorageError{Op: "open", Err: err}
		}
		st, err := NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("store: неизвестный драйвер хранилища: " + driver)
	}
}
