/*
cache.go - TTL cache over authoritative balance reads

PURPOSE:
  Read path only. A cached balance may be stale for up to the TTL; every
  mutation goes to the store, which re-reads and re-checks under its own
  transaction. Writers refresh the cache after commit so the common
  read-after-write case observes the new balance immediately.

EVICTION:
  Expired entries are dropped on read. When the cache is full, one pass
  sweeps everything expired; if nothing expired, the entry closest to
  expiry is evicted.
*/
package trade

import (
	"context"
	"sync"
	"time"

	"github.com/lockshop/engine/currency"
	"github.com/lockshop/engine/shop"
)

// Cache defaults, matching the read-heavy balance-check workload.
const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheEntries = 1000
)

type cacheEntry struct {
	balance   currency.Lock
	expiresAt time.Time
}

// BalanceCache is a bounded read-through TTL cache in front of a LedgerStore.
// Put, Invalidate and Len are no-ops on a nil *BalanceCache; Get requires a
// real cache since it needs the store behind it.
type BalanceCache struct {
	mu      sync.Mutex
	entries map[shop.AccountKey]cacheEntry
	ledger  shop.LedgerStore
	ttl     time.Duration
	max     int
	clock   func() time.Time
}

// NewBalanceCache builds a cache over the given store. Non-positive ttl or
// max fall back to the defaults.
func NewBalanceCache(ledger shop.LedgerStore, ttl time.Duration, max int) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if max <= 0 {
		max = DefaultCacheEntries
	}
	return &BalanceCache{
		entries: make(map[shop.AccountKey]cacheEntry),
		ledger:  ledger,
		ttl:     ttl,
		max:     max,
		clock:   time.Now,
	}
}

// Get returns the cached balance when fresh, otherwise reads the store and
// caches the result. A store error is returned uncached.
func (c *BalanceCache) Get(ctx context.Context, key shop.AccountKey) (currency.Lock, error) {
	if c == nil {
		panic("Get on nil BalanceCache")
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.clock().Before(e.expiresAt) {
			c.mu.Unlock()
			return e.balance, nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	balance, err := c.ledger.GetBalance(ctx, key)
	if err != nil {
		return currency.Zero, err
	}
	c.Put(key, balance)
	return balance, nil
}

// Put records a balance observed from a committed mutation or a fresh read.
func (c *BalanceCache) Put(key shop.AccountKey, balance currency.Lock) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{balance: balance, expiresAt: c.clock().Add(c.ttl)}
}

// Invalidate drops one account's entry, forcing the next Get to the store.
func (c *BalanceCache) Invalidate(key shop.AccountKey) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the live entry count.
func (c *BalanceCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *BalanceCache) evictLocked() {
	now := c.clock()
	swept := false
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			swept = true
		}
	}
	if swept {
		return
	}

	var (
		oldest   shop.AccountKey
		oldestAt time.Time
		first    = true
	)
	for k, e := range c.entries {
		if first || e.expiresAt.Before(oldestAt) {
			oldest, oldestAt, first = k, e.expiresAt, false
		}
	}
	if !first {
		delete(c.entries, oldest)
	}
}
