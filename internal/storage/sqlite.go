package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/price-monitor/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS targets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	url        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS price_records (
	url        TEXT PRIMARY KEY,
	sku        TEXT NOT NULL DEFAULT '',
	price      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS price_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url         TEXT NOT NULL,
	sku         TEXT NOT NULL DEFAULT '',
	price       TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS price_history_url_idx ON price_history (url, recorded_at);
`

// SQLiteStore keeps everything in a single database file. Prices are stored
// as their canonical decimal string.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY inside transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", op, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, url string) (*domain.PriceRecord, error) {
	const op = "storage.sqlite.Get"

	var (
		rec domain.PriceRecord
		raw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT url, sku, price, version, created_at, updated_at FROM price_records WHERE url = ?`, url,
	).Scan(&rec.URL, &rec.SKU, &raw, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) Upsert(ctx context.Context, rec domain.PriceRecord) (*domain.PriceRecord, error) {
	const op = "storage.sqlite.Upsert"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var res sql.Result
	if rec.Version == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO price_records (url, sku, price, version, created_at, updated_at)
			 VALUES (?, ?, ?, 1, ?, ?) ON CONFLICT (url) DO NOTHING`,
			rec.URL, rec.SKU, rec.Price.String(), now, now)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE price_records SET sku = ?, price = ?, version = version + 1, updated_at = ?
			 WHERE url = ? AND version = ?`,
			rec.SKU, rec.Price.String(), now, rec.URL, rec.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	} else if n == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO price_history (url, sku, price, recorded_at) VALUES (?, ?, ?, ?)`,
		rec.URL, rec.SKU, rec.Price.String(), now); err != nil {
		return nil, fmt.Errorf("%s: history: %w", op, err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT version, created_at, updated_at FROM price_records WHERE url = ?`, rec.URL,
	).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) History(ctx context.Context, url string, limit int) ([]domain.PriceHistoryEntry, error) {
	const op = "storage.sqlite.History"

	rows, err := s.db.QueryContext(ctx,
		`SELECT url, sku, price, recorded_at FROM price_history
		 WHERE url = ? ORDER BY id DESC LIMIT ?`,
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

func (s *SQLiteStore) ListTargets(ctx context.Context) ([]domain.TargetURL, error) {
	const op = "storage.sqlite.ListTargets"

	rows, err := s.db.QueryContext(ctx, `SELECT id, url, name, created_at, updated_at FROM targets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.TargetURL
	for rows.Next() {
		var t domain.TargetURL
		if err := rows.Scan(&t.ID, &t.URL, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveTarget(ctx context.Context, url, name string) (*domain.TargetURL, error) {
	const op = "storage.sqlite.SaveTarget"

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (url, name, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET
		   name = CASE WHEN excluded.name = '' THEN targets.name ELSE excluded.name END,
		   updated_at = excluded.updated_at`,
		url, name, now, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var t domain.TargetURL
	err = s.db.QueryRowContext(ctx,
		`SELECT id, url, name, created_at, updated_at FROM targets WHERE url = ?`, url,
	).Scan(&t.ID, &t.URL, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

func (s *SQLiteStore) DeleteTarget(ctx context.Context, id int64) error {
	const op = "storage.sqlite.DeleteTarget"

	res, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
