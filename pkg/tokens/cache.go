// Package tokens acquires and caches access tokens from the identity
// provider. Three acquisition paths exist: the one-shot authorization-code
// exchange during login, the refresh-credential exchange for user sessions,
// and the client-credentials exchange for machine-to-machine calls. The two
// cached paths funnel through a single Cache that collapses concurrent
// misses into one outbound exchange.
package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/navikt/polly-sub000/pkg/errors"
	"github.com/navikt/polly-sub000/pkg/logger"
)

// DefaultExpirySkew is subtracted from a token's expiry when deciding
// whether to serve it from cache, so a token is refreshed before it can
// expire mid-flight.
const DefaultExpirySkew = time.Minute

// Entry is one cached access token.
type Entry struct {
	Value  string
	Expiry time.Time
}

// Loader performs the outbound exchange on a cache miss.
type Loader func(ctx context.Context) (Entry, error)

// Cache is an expiry-aware token cache. Reads are lock-free beyond an
// RWMutex map access; a miss triggers exactly one loader call regardless of
// how many goroutines miss concurrently.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group
	skew    time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given proactive-refresh skew.
func NewCache(skew time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		skew:    skew,
		now:     time.Now,
	}
}

// Get returns the cached token for key if it is still comfortably within
// its lifetime (expiry minus skew).
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.fresh(entry) {
		return "", false
	}
	return entry.Value, true
}

// GetOrLoad returns the cached token for key, running loader on a miss.
// Concurrent misses for the same key share one loader call. When the loader
// fails but a cached token is still unexpired (inside the skew window), the
// stale token is served instead of failing the request; a cached token past
// its real expiry fails with TokenExpired.
func (c *Cache) GetOrLoad(ctx context.Context, key string, loader Loader) (string, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// A concurrent caller may have published a token while this one
		// waited on the flight group.
		if value, ok := c.Get(key); ok {
			return value, nil
		}

		entry, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
		return entry.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", errors.NewTokenAcquisitionError("token exchange timed out", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return c.handleLoadFailure(key, res.Err)
		}
		return res.Val.(string), nil
	}
}

// handleLoadFailure decides what a failed exchange means for the caller
// based on what is still in the cache.
func (c *Cache) handleLoadFailure(key string, loadErr error) (string, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.Expiry) {
		// Transient provider failure with a still-valid token in hand.
		logger.Warnf("Token refresh failed, serving cached token valid until %s: %v",
			entry.Expiry.Format(time.RFC3339), loadErr)
		return entry.Value, nil
	}
	if ok {
		return "", errors.NewTokenExpiredError("cached token expired and refresh failed", loadErr)
	}
	return "", loadErr
}

// Invalidate drops the cached token for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) fresh(entry Entry) bool {
	return c.now().Before(entry.Expiry.Add(-c.skew))
}

// cacheKey builds a collision-free cache key. The secret is hashed so the
// key never holds credential material.
func cacheKey(kind, scope, secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%s:%s:%s", kind, scope, hex.EncodeToString(sum[:]))
}
