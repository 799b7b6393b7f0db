package fingerprint

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tldrify/core/internal/models"
	pkgredis "github.com/tldrify/core/internal/pkg/redis"
)

// DefaultTTL applies when Store is called with ttl <= 0.
const DefaultTTL = time.Hour

// Entry is a cached summarization result.
type Entry struct {
	Fingerprint string               `json:"fingerprint"`
	Result      models.SummaryResult `json:"result"`
	StoredAt    time.Time            `json:"stored_at"`
	TTLSeconds  int                  `json:"ttl_seconds"`
}

// Cache stores results keyed by fingerprint with TTL semantics. Lookup
// returns (nil, nil) when the entry is absent or expired.
type Cache interface {
	Lookup(ctx context.Context, hash string) (*Entry, error)
	Store(ctx context.Context, hash string, result models.SummaryResult, ttl time.Duration) error
}

const cacheKeyPrefix = "tldr:summary:"

// RedisCache is the production cache backed by redis TTL keys.
type RedisCache struct {
	rc *pkgredis.Client
}

func NewRedisCache(rc *pkgredis.Client) *RedisCache {
	return &RedisCache{rc: rc}
}

func (c *RedisCache) Lookup(ctx context.Context, hash string) (*Entry, error) {
	raw, err := c.rc.Get(ctx, cacheKeyPrefix+hash)
	if err != nil || raw == "" {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// A corrupt entry is treated as a miss; the next Store overwrites it.
		return nil, nil
	}
	return &entry, nil
}

func (c *RedisCache) Store(ctx context.Context, hash string, result models.SummaryResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entry := Entry{
		Fingerprint: hash,
		Result:      result,
		StoredAt:    time.Now(),
		TTLSeconds:  int(ttl / time.Second),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// Later write wins on conflict.
	return c.rc.Set(ctx, cacheKeyPrefix+hash, data, ttl)
}

// MemoryCache is a process-local cache used by tests and cacheless setups.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry), now: time.Now}
}

func (c *MemoryCache) Lookup(_ context.Context, hash string) (*Entry, error) {
	c.mu.RLock()
	entry, ok := c.entries[hash]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if c.now().Sub(entry.StoredAt) >= time.Duration(entry.TTLSeconds)*time.Second {
		c.mu.Lock()
		delete(c.entries, hash)
		c.mu.Unlock()
		return nil, nil
	}
	return entry, nil
}

func (c *MemoryCache) Store(_ context.Context, hash string, result models.SummaryResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[hash] = &Entry{
		Fingerprint: hash,
		Result:      result,
		StoredAt:    c.now(),
		TTLSeconds:  int(ttl / time.Second),
	}
	c.mu.Unlock()
	return nil
}
