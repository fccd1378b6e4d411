package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs Store with a pooled *pgxpool.Pool, the teacher
// repo's peer choice for a relational driver.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-constructed pool. The caller owns the
// pool's lifecycle (construction from the database URL, Close on shutdown).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL this store expects. Exposed so main can run it against a
// fresh database on startup; a real deployment would use a migration tool
// instead.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_rows (
	txn_id     TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	delta      BIGINT NOT NULL,
	actor      TEXT NOT NULL,
	source     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS delivery_records (
	key          TEXT PRIMARY KEY,
	payload_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_rows_user_id_created_at_idx ON audit_rows (user_id, created_at DESC);
`

func (s *PostgresStore) RecordDelivery(ctx context.Context, idempotencyKey, payloadHash string, row AuditRow) (Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO delivery_records (key, payload_hash) VALUES ($1, $2)
		 ON CONFLICT (key) DO NOTHING`,
		idempotencyKey, payloadHash)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		var existingHash string
		if scanErr := tx.QueryRow(ctx,
			`SELECT payload_hash FROM delivery_records WHERE key = $1`, idempotencyKey,
		).Scan(&existingHash); scanErr != nil {
			return 0, scanErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return 0, commitErr
		}
		if existingHash == payloadHash {
			return Deduped, nil
		}
		return Conflict, nil
	}

	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_rows (txn_id, user_id, delta, actor, source, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (txn_id) DO NOTHING`,
		row.TxnID, row.UserID, row.Delta, row.Actor, row.Source, row.Reason, row.CreatedAt)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return Inserted, nil
}

func (s *PostgresStore) ListAuditRows(ctx context.Context, userID string, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	var rows pgx.Rows
	var err error
	if userID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT txn_id, user_id, delta, actor, source, reason, created_at
			 FROM audit_rows ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT txn_id, user_id, delta, actor, source, reason, created_at
			 FROM audit_rows WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.TxnID, &r.UserID, &r.Delta, &r.Actor, &r.Source, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
