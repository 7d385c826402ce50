package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/metrics"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Postgres хранит снимок и журнал в Postgres.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotStore = (*Postgres)(nil)

// NewPostgres создаёт хранилище и применяет схему.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	p := &Postgres{pool: pool}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, &domain.StorageError{Op: "migrate", Err: err}
	}
	return p, nil
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Load читает снимок.
func (p *Postgres) Load(ctx context.Context) (domain.Snapshot, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	snapshot := domain.EmptySnapshot()
	var version int
	var checked *time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT schema_version, last_successful_check_at FROM monitor_state WHERE id = 1`).Scan(&version, &checked)
	metrics.ObserveNetworkRequest("postgres", "state_select", "monitor_state", start, ignoreNoRows(err))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
	default:
		if version > domain.SnapshotSchemaVersion {
			return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: fmt.Errorf("неизвестная версия схемы %d", version)}
		}
		if checked != nil {
			snapshot.LastSuccessfulCheckAt = checked.UTC()
		}
	}

	start = time.Now()
	rows, err := p.pool.Query(ctx, `SELECT payload FROM offers`)
	metrics.ObserveNetworkRequest("postgres", "offers_select", "offers", start, err)
	if err != nil {
		return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
		}
		var offer domain.Offer
		if err := json.Unmarshal(payload, &offer); err != nil {
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
func (p *Postgres) Save(ctx context.Context, snapshot domain.Snapshot) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		keys := make([]string, 0, len(snapshot.Offers))
		batch := &pgx.Batch{}
		for key, offer := range snapshot.Offers {
			payload, err := json.Marshal(offer)
			if err != nil {
				return err
			}
			keys = append(keys, key)
			batch.Queue(`
INSERT INTO offers (key, payload, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`, key, payload)
		}
		batch.Queue(`DELETE FROM offers WHERE NOT (key = ANY($1))`, keys)
		var checked *time.Time
		if !snapshot.LastSuccessfulCheckAt.IsZero() {
			at := snapshot.LastSuccessfulCheckAt.UTC()
			checked = &at
		}
		batch.Queue(`
INSERT INTO monitor_state (id, schema_version, last_successful_check_at) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET schema_version = EXCLUDED.schema_version, last_successful_check_at = EXCLUDED.last_successful_check_at`,
			domain.SnapshotSchemaVersion, checked)
		return tx.SendBatch(ctx, batch).Close()
	})
	metrics.ObserveNetworkRequest("postgres", "snapshot_save", "offers", start, err)
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	return nil
}

// RecordNotification добавляет запись. Повторная успешная доставка той же пары игнорируется.
func (p *Postgres) RecordNotification(ctx context.Context, r domain.NotificationRecord) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO notifications (key, event, recipient, attempted_at, outcome, channel, error, cycle_id)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''))
ON CONFLICT DO NOTHING`,
		r.Key, string(r.Event), r.Recipient, r.AttemptedAt.UTC(), string(r.Outcome), string(r.Channel), r.Error, r.CycleID)
	metrics.ObserveNetworkRequest("postgres", "notification_insert", "notifications", start, err)
	if err != nil {
		return &domain.StorageError{Op: "record_notification", Err: err}
	}
	return nil
}

// ListNotifications возвращает журнал в порядке записи.
func (p *Postgres) ListNotifications(ctx context.Context) ([]domain.NotificationRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT key, event, recipient, attempted_at, outcome, channel, COALESCE(error, ''), COALESCE(cycle_id, '')
FROM notifications ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "notifications_select", "notifications", start, err)
	if err != nil {
		return nil, &domain.StorageError{Op: "list_notifications", Err: err}
	}
	defer rows.Close()

	var out []domain.NotificationRecord
	for rows.Next() {
		var r domain.NotificationRecord
		var event, outcome, channel string
		if err := rows.Scan(&r.Key, &event, &r.Recipient, &r.AttemptedAt, &outcome, &channel, &r.Error, &r.CycleID); err != nil {
			return nil, &domain.StorageError{Op: "list_notifications", Err: err}
		}
		r.Event = domain.NotificationEvent(event)
		r.Outcome = domain.NotificationOutcome(outcome)
		r.Channel = domain.NotificationChannel(channel)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list_notifications", Err: err}
	}
	return out, nil
}

// Close закрывает пул.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
