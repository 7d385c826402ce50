package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"pasantias-monitor/internal/domain"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore хранит снимок и журнал в одном файле SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ domain.SnapshotStore = (*SQLiteStore)(nil)

// OpenSQLite открывает базу и применяет схему.
func OpenSQLite(path string, busyTimeout time.Duration, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store: не задан путь к sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger = logger.With().Str("component", "store.sqlite").Logger()
	if busyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
			logger.Warn().Err(err).Msg("store: не удалось задать busy_timeout")
		}
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Warn().Err(err).Msg("store: не удалось включить WAL")
	}
	// Без synchronous=FULL запись журнала может не пережить падение.
	if _, err := db.Exec("PRAGMA synchronous = FULL"); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Op: "open", Err: fmt.Errorf("PRAGMA synchronous: %w", err)}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Op: "migrate", Err: err}
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load читает снимок.
func (s *SQLiteStore) Load(ctx context.Context) (domain.Snapshot, error) {
	snapshot := domain.EmptySnapshot()

	var version int
	var checked sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT schema_version, last_successful_check_at FROM monitor_state WHERE id = 1`).Scan(&version, &checked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
	default:
		if version > domain.SnapshotSchemaVersion {
			return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: fmt.Errorf("неизвестная версия схемы %d", version)}
		}
		if checked.Valid && checked.String != "" {
			at, err := time.Parse(time.RFC3339Nano, checked.String)
			if err != nil {
				return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
			}
			snapshot.LastSuccessfulCheckAt = at
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM offers`)
	if err != nil {
		return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
		}
		var offer domain.Offer
		if err := json.Unmarshal([]byte(payload), &offer); err != nil {
			return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: fmt.Errorf("разбор оферты: %w", err)}
		}
		snapshot.Offers[offer.Key] = offer
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
	}
	return snapshot, nil
}

// Save заменяет снимок в одной транзакции.
func (s *SQLiteStore) Save(ctx context.Context, snapshot domain.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM offers`); err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO offers(key, payload) VALUES(?, ?)`)
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	defer stmt.Close()
	for key, offer := range snapshot.Offers {
		payload, mErr := json.Marshal(offer)
		if mErr != nil {
			err = mErr
			return &domain.StorageError{Op: "save", Err: err}
		}
		if _, err = stmt.ExecContext(ctx, key, string(payload)); err != nil {
			return &domain.StorageError{Op: "save", Err: err}
		}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO monitor_state(id, schema_version, last_successful_check_at) VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET schema_version = excluded.schema_version, last_successful_check_at = excluded.last_successful_check_at`,
		domain.SnapshotSchemaVersion, formatTime(snapshot.LastSuccessfulCheckAt))
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	if err = tx.Commit(); err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	return nil
}

// RecordNotification добавляет запись. Повторная успешная доставка той же пары игнорируется.
func (s *SQLiteStore) RecordNotification(ctx context.Context, r domain.NotificationRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notifications(key, event, recipient, attempted_at, outcome, channel, error, cycle_id)
VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT DO NOTHING`,
		r.Key, string(r.Event), r.Recipient, r.AttemptedAt.UTC().Format(time.RFC3339Nano),
		string(r.Outcome), string(r.Channel), nullString(r.Error), nullString(r.CycleID))
	if err != nil {
		return &domain.StorageError{Op: "record_notification", Err: err}
	}
	return nil
}

// ListNotifications возвращает журнал в порядке записи.
func (s *SQLiteStore) ListNotifications(ctx context.Context) ([]domain.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT key, event, recipient, attempted_at, outcome, channel, error, cycle_id
FROM notifications ORDER BY id`)
	if err != nil {
		return nil, &domain.StorageError{Op: "list_notifications", Err: err}
	}
	defer rows.Close()

	var out []domain.NotificationRecord
	for rows.Next() {
		var (
			r                  domain.NotificationRecord
			event, outcome, ch string
			attempted          string
			errText, cycleID   sql.NullString
		)
		if err := rows.Scan(&r.Key, &event, &r.Recipient, &attempted, &outcome, &ch, &errText, &cycleID); err != nil {
			return nil, &domain.StorageError{Op: "list_notifications", Err: err}
		}
		if r.AttemptedAt, err = time.Parse(time.RFC3339Nano, attempted); err != nil {
			s.logger.Warn().Err(err).Str("key", r.Key).Msg("store: неверное время попытки в журнале")
		}
		r.Event = domain.NotificationEvent(event)
		r.Outcome = domain.NotificationOutcome(outcome)
		r.Channel = domain.NotificationChannel(ch)
		r.Error = errText.String
		r.CycleID = cycleID.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list_notifications", Err: err}
	}
	return out, nil
}

// Close закрывает базу.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
