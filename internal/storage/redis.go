package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/pkg/utils"
)

const (
	runLockKey = "price-monitor:run-lock"
	statusKey  = "price-monitor:status"
	recordKey  = "price-monitor:record:"
)

// releaseScript deletes the lock only when it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore handles the run lock, the status snapshot and the record cache.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// AcquireRunLock takes the cross-process run lock for owner. It reports false
// when another run holds it. The lock expires after ttl in case the owner dies.
func (s *RedisStore) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, runLockKey, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("storage.redis.AcquireRunLock: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseRunLock(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{runLockKey}, owner).Err(); err != nil {
		return fmt.Errorf("storage.redis.ReleaseRunLock: %w", err)
	}
	return nil
}

// SaveStatus publishes the run status so other processes can serve it.
func (s *RedisStore) SaveStatus(ctx context.Context, st domain.Status) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("storage.redis.SaveStatus: %w", err)
	}
	return s.client.Set(ctx, statusKey, b, 0).Err()
}

func (s *RedisStore) LoadStatus(ctx context.Context) (*domain.Status, error) {
	b, err := s.client.Get(ctx, statusKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage.redis.LoadStatus: %w", err)
	}
	var st domain.Status
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("storage.redis.LoadStatus: %w", err)
	}
	return &st, nil
}

// CachedHistory is a read-through Redis cache in front of a HistoryStore.
// Cache failures are never fatal: the underlying store stays authoritative.
type CachedHistory struct {
	HistoryStore
	redis *RedisStore
	ttl   time.Duration
}

func NewCachedHistory(store HistoryStore, rs *RedisStore, ttl time.Duration) *CachedHistory {
	return &CachedHistory{HistoryStore: store, redis: rs, ttl: ttl}
}

func (c *CachedHistory) Get(ctx context.Context, url string) (*domain.PriceRecord, error) {
	key := recordKey + utils.HashURL(url)
	if b, err := c.redis.client.Get(ctx, key).Bytes(); err == nil {
		var rec domain.PriceRecord
		if json.Unmarshal(b, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := c.HistoryStore.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, rec)
	return rec, nil
}

func (c *CachedHistory) Upsert(ctx context.Context, rec domain.PriceRecord) (*domain.PriceRecord, error) {
	key := recordKey + utils.HashURL(rec.URL)
	saved, err := c.HistoryStore.Upsert(ctx, rec)
	if err != nil {
		// A conflict means the cached copy is stale.
		c.redis.client.Del(ctx, key)
		return nil, err
	}
	c.set(ctx, key, saved)
	return saved, nil
}

func (c *CachedHistory) set(ctx context.Context, key string, rec *domain.PriceRecord) {
	if b, err := json.Marshal(rec); err == nil {
		c.redis.client.Set(ctx, key, b, c.ttl)
	}
}
