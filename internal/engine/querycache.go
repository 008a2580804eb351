package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
)

// CachedEngine wraps an Engine with a short-TTL read cache, adapted from
// the teacher's internal/rpc.QueryCache: hash(operation+args) as key,
// invalidate everything on any write. Disable with MAX_CACHE_DISABLE=1.
type CachedEngine struct {
	inner Engine

	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	enabled bool
}

type cacheEntry struct {
	page    Page[Entity]
	stamped time.Time
}

// NewCachedEngine wraps inner with a read cache of the given TTL (0 means
// a 10s default, matching the teacher's QueryCache default).
func NewCachedEngine(inner Engine, ttl time.Duration) *CachedEngine {
	if ttl == 0 {
		ttl = 10 * time.Second
	}
	return &CachedEngine{
		inner:   inner,
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		enabled: os.Getenv("MAX_CACHE_DISABLE") != "1",
	}
}

var _ Engine = (*CachedEngine)(nil)

// Unwrap exposes the wrapped Engine, e.g. for tests that need to bypass
// caching entirely.
func (c *CachedEngine) Unwrap() Engine { return c.inner }

// UpgradeScope forwards to the wrapped Engine if it implements
// ScopeUpgrader, and drops every cached page — a cached page could
// otherwise keep serving entities stamped with the pre-upgrade scope.
func (c *CachedEngine) UpgradeScope(sc scope.Scope) {
	if up, ok := c.inner.(ScopeUpgrader); ok {
		up.UpgradeScope(sc)
	}
	c.invalidateAll()
}

var _ ScopeUpgrader = (*CachedEngine)(nil)

func (c *CachedEngine) Put(ctx context.Context, e Entity) error {
	err := c.inner.Put(ctx, e)
	c.invalidateAll()
	return err
}

func (c *CachedEngine) Get(ctx context.Context, ref schema.Ref) (Entity, error) {
	return c.inner.Get(ctx, ref)
}

func (c *CachedEngine) SetFields(ctx context.Context, ref schema.Ref, fields map[string]any) error {
	err := c.inner.SetFields(ctx, ref, fields)
	c.invalidateAll()
	return err
}

func (c *CachedEngine) Delete(ctx context.Context, ref schema.Ref) error {
	err := c.inner.Delete(ctx, ref)
	c.invalidateAll()
	return err
}

func (c *CachedEngine) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *CachedEngine) Query(ctx context.Context, q Query) (Page[Entity], error) {
	if !c.enabled {
		return c.inner.Query(ctx, q)
	}
	key := queryKey(q)
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Since(e.stamped) < c.ttl {
		c.mu.Unlock()
		return e.page, nil
	}
	c.mu.Unlock()

	page, err := c.inner.Query(ctx, q)
	if err != nil {
		return Page[Entity]{}, err
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{page: page, stamped: time.Now()}
	c.mu.Unlock()
	return page, nil
}

func queryKey(q Query) string {
	raw, _ := json.Marshal(q)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
