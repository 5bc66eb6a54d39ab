package directory

import (
	"context"
	"time"

	"github.com/sebas/callrouter/internal/callrouter/store"
)

// CachedLookup memoizes resolved and empty results of another Lookup.
// Errors are not cached.
type CachedLookup struct {
	next  Lookup
	ttl   time.Duration
	cache *store.TTLStore[string, *Operator]
}

// NewCachedLookup wraps next with a cache of the given TTL.
func NewCachedLookup(next Lookup, ttl time.Duration) *CachedLookup {
	return &CachedLookup{
		next:  next,
		ttl:   ttl,
		cache: store.NewTTLStore[string, *Operator](ttl),
	}
}

func (c *CachedLookup) Lookup(ctx context.Context, caller string) (*Operator, error) {
	if caller == "" {
		return nil, ErrEmptyCaller
	}
	if op, ok := c.cache.Get(caller); ok {
		return op, nil
	}

	op, err := c.next.Lookup(ctx, caller)
	if err != nil {
		return nil, err
	}
	c.cache.Set(caller, op, c.ttl)
	return op, nil
}

// Invalidate drops the cached result for caller.
func (c *CachedLookup) Invalidate(caller string) {
	c.cache.Delete(caller)
}

// Close releases the cache.
func (c *CachedLookup) Close() {
	c.cache.Close()
}
