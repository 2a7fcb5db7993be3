package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/price-monitor/internal/domain"
)

// Memory is an in-process Store for dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	records map[string]domain.PriceRecord
	history map[string][]domain.PriceHistoryEntry
	targets map[int64]domain.TargetURL
	nextID  int64
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]domain.PriceRecord),
		history: make(map[string][]domain.PriceHistoryEntry),
		targets: make(map[int64]domain.TargetURL),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Get(_ context.Context, url string) (*domain.PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[url]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) Upsert(_ context.Context, rec domain.PriceRecord) (*domain.PriceRecord, error) {
	const op = "storage.memory.Upsert"

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stored, exists := m.records[rec.URL]
	switch {
	case rec.Version == 0 && exists:
		return nil, fmt.Errorf("%s: %w", op, ErrConflict)
	case rec.Version != 0 && (!exists || stored.Version != rec.Version):
		return nil, fmt.Errorf("%s: %w", op, ErrConflict)
	case exists:
		rec.CreatedAt = stored.CreatedAt
	default:
		rec.CreatedAt = now
	}
	rec.Version++
	rec.UpdatedAt = now

	m.records[rec.URL] = rec
	m.history[rec.URL] = append(m.history[rec.URL], domain.PriceHistoryEntry{
		URL: rec.URL, SKU: rec.SKU, Price: rec.Price, RecordedAt: now,
	})
	return &rec, nil
}

func (m *Memory) History(_ context.Context, url string, limit int) ([]domain.PriceHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.history[url]
	limit = historyLimit(limit)
	out := make([]domain.PriceHistoryEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (m *Memory) ListTargets(context.Context) ([]domain.TargetURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.TargetURL, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveTarget(_ context.Context, url, name string) (*domain.TargetURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, t := range m.targets {
		if t.URL != url {
			continue
		}
		if name != "" {
			t.Name = name
		}
		t.UpdatedAt = now
		m.targets[id] = t
		return &t, nil
	}

	m.nextID++
	t := domain.TargetURL{ID: m.nextID, URL: url, Name: name, CreatedAt: now, UpdatedAt: now}
	m.targets[t.ID] = t
	return &t, nil
}

func (m *Memory) DeleteTarget(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[id]; !ok {
		return ErrNotFound
	}
	delete(m.targets, id)
	return nil
}
