// Package location caches registration data learned from the HSS
// (registration state and IFCs) so that AS-chain construction doesn't
// hit the HSS on every request in a call.
package location

import (
	"context"
	"log/slog"
	"time"

	"github.com/sebas/cscf/internal/cscf/hss"
	"github.com/sebas/cscf/internal/cscf/store"
)

// CacheConfig controls sweep cadence and entry lifetime.
type CacheConfig struct {
	CleanupInterval time.Duration
	EntryTTL        time.Duration
}

// DefaultCacheConfig sets a cleanup cadence scaled for registration
// data: it changes less often than SIP contact bindings but must never
// be stale past a REGISTER/deREGISTER cycle.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		CleanupInterval: 30 * time.Second,
		EntryTTL:        60 * time.Second,
	}
}

// Cache fronts an hss.Client with a short-lived TTL cache keyed by
// public identity.
type Cache struct {
	hss   hss.Client
	cache *store.TTLStore[string, hss.RegData]
	ttl   time.Duration
}

// NewCache builds a Cache wrapping client.
func NewCache(client hss.Client, cfg CacheConfig) *Cache {
	return &Cache{
		hss:   client,
		cache: store.NewTTLStore[string, hss.RegData](cfg.CleanupInterval),
		ttl:   cfg.EntryTTL,
	}
}

// Get returns the registration data for publicID, serving from cache
// when possible and populating the cache on a miss.
func (c *Cache) Get(ctx context.Context, publicID string) (hss.RegData, error) {
	if data, ok := c.cache.Get(publicID); ok {
		return data, nil
	}
	c.logMiss(publicID)

	data, err := c.hss.GetRegistrationData(ctx, publicID)
	if err != nil {
		return hss.RegData{}, err
	}

	c.cache.Set(publicID, data, c.ttl)
	return data, nil
}

// Invalidate drops any cached entry for publicID. Call after a
// REGISTER/deREGISTER so the next lookup goes back to the HSS.
func (c *Cache) Invalidate(publicID string) {
	c.cache.Delete(publicID)
}

// IsRegistered reports whether publicID currently has an active
// registration (RegState "REGISTERED").
func (c *Cache) IsRegistered(ctx context.Context, publicID string) (bool, error) {
	data, err := c.Get(ctx, publicID)
	if err != nil {
		return false, err
	}
	return data.RegState == "REGISTERED", nil
}

// Close stops the background sweep goroutine.
func (c *Cache) Close() {
	c.cache.Close()
}

// Len reports the number of cached entries, exposed for the stats API.
func (c *Cache) Len() int {
	return c.cache.Len()
}

func (c *Cache) logMiss(publicID string) {
	slog.Debug("[LOCATION] cache miss", "public_id", publicID)
}
