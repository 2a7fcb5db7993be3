package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/price-monitor/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS targets (
	id         BIGSERIAL PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS price_records (
	url        TEXT PRIMARY KEY,
	sku        TEXT NOT NULL DEFAULT '',
	price      NUMERIC NOT NULL CHECK (price > 0),
	version    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS price_history (
	id          BIGSERIAL PRIMARY KEY,
	url         TEXT NOT NULL,
	sku         TEXT NOT NULL DEFAULT '',
	price       NUMERIC NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS price_history_url_idx ON price_history (url, recorded_at DESC);
`

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("storage.postgres.Migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, url string) (*domain.PriceRecord, error) {
	const op = "storage.postgres.Get"

	var (
		rec domain.PriceRecord
		raw string
	)
	err := s.db.QueryRow(ctx,
		`SELECT url, sku, price::text, version, created_at, updated_at FROM price_records WHERE url = $1`,
		url,
	).Scan(&rec.URL, &rec.SKU, &raw, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rec.Price, err = decodePrice(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rec, nil
}

// Upsert writes the record and its history row within a single transaction.
func (s *PostgresStore) Upsert(ctx context.Context, rec domain.PriceRecord) (*domain.PriceRecord, error) {
	const op = "storage.postgres.Upsert"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var row pgx.Row
	if rec.Version == 0 {
		row = tx.QueryRow(ctx,
			`INSERT INTO price_records (url, sku, price, version, created_at, updated_at)
			 VALUES ($1, $2, $3::numeric, 1, $4, $4)
			 ON CONFLICT (url) DO NOTHING
			 RETURNING version, created_at, updated_at`,
			rec.URL, rec.SKU, rec.Price.String(), now)
	} else {
		row = tx.QueryRow(ctx,
			`UPDATE price_records SET sku = $2, price = $3::numeric, version = version + 1, updated_at = $4
			 WHERE url = $1 AND version = $5
			 RETURNING version, created_at, updated_at`,
			rec.URL, rec.SKU, rec.Price.String(), now, rec.Version)
	}
	if err := row.Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO price_history (url, sku, price, recorded_at) VALUES ($1, $2, $3::numeric, $4)`,
		rec.URL, rec.SKU, rec.Price.String(), now)
	if err != nil {
		return nil, fmt.Errorf("%s: history: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return &rec, nil
}

func (s *PostgresStore) History(ctx context.Context, url string, limit int) ([]domain.PriceHistoryEntry, error) {
	const op = "storage.postgres.History"

	rows, err := s.db.Query(ctx,
		`SELECT url, sku, price::text, recorded_at FROM price_history
		 WHERE url = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2`,
		url, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.PriceHistoryEntry
	for rows.Next() {
		var (
			e   domain.PriceHistoryEntry
			raw string
		)
		if err := rows.Scan(&e.URL, &e.SKU, &raw, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if e.Price, err = decodePrice(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTargets(ctx context.Context) ([]domain.TargetURL, error) {
	const op = "storage.postgres.ListTargets"

	rows, err := s.db.Query(ctx, `SELECT id, url, name, created_at, updated_at FROM targets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	targets, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.TargetURL])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return targets, nil
}

func (s *PostgresStore) SaveTarget(ctx context.Context, url, name string) (*domain.TargetURL, error) {
	const op = "storage.postgres.SaveTarget"

	var t domain.TargetURL
	err := s.db.QueryRow(ctx,
		`INSERT INTO targets (url, name) VALUES ($1, $2)
		 ON CONFLICT (url) DO UPDATE SET
		   name = CASE WHEN EXCLUDED.name = '' THEN targets.name ELSE EXCLUDED.name END,
		   updated_at = NOW()
		 RETURNING id, url, name, created_at, updated_at`,
		url, name,
	).Scan(&t.ID, &t.URL, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

func (s *PostgresStore) DeleteTarget(ctx context.Context, id int64) error {
	const op = "storage.postgres.DeleteTarget"

	tag, err := s.db.Exec(ctx, `DELETE FROM targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
