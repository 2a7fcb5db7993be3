// Package storage persists monitored targets, the latest price of every
// target and the append-only price history.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/price"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("record changed concurrently")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// HistoryStore keeps the latest PriceRecord per URL and its history.
type HistoryStore interface {
	Ping(ctx context.Context) error
	// Get returns ErrNotFound when url was never stored.
	Get(ctx context.Context, url string) (*domain.PriceRecord, error)
	// Upsert inserts rec when rec.Version is 0 and otherwise updates the row
	// only if its version still equals rec.Version. It returns ErrConflict when
	// the compare-and-set fails. A history row is appended in the same transaction.
	Upsert(ctx context.Context, rec domain.PriceRecord) (*domain.PriceRecord, error)
	History(ctx context.Context, url string, limit int) ([]domain.PriceHistoryEntry, error)
}

// TargetStore holds the monitored URL list.
type TargetStore interface {
	// ListTargets returns every target ordered by creation.
	ListTargets(ctx context.Context) ([]domain.TargetURL, error)
	// SaveTarget adds url or updates its name. An empty name keeps the stored one.
	SaveTarget(ctx context.Context, url, name string) (*domain.TargetURL, error)
	DeleteTarget(ctx context.Context, id int64) error
}

// Store is what a persistence backend provides.
type Store interface {
	HistoryStore
	TargetStore
	Close() error
}

const defaultHistoryLimit = 100

func historyLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultHistoryLimit
	}
	return limit
}

// decodePrice reads an exact price stored as text or numeric.
func decodePrice(s string) (price.Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return price.Price{}, fmt.Errorf("decode price %q: %w", s, err)
	}
	return price.FromDecimal(d)
}
