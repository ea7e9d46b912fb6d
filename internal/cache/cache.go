// Package cache memoizes generated answers by normalized query fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Entry is one cached answer. It is expired once now > CreatedAt + TTL.
type Entry struct {
	Key       string
	Response  string
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether e must no longer be served at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Backend persists entries. Get reports ok=false for absent keys; expiry is
// decided by Cache, so backends may return stale entries.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Purge(ctx context.Context) error
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Config configures a Cache.
type Config struct {
	Backend Backend
	TTL     time.Duration // default TTL used by StoreDefault
	Clock   Clock
	Logger  *slog.Logger
}

// Cache is the response cache. Backend failures are logged and treated as
// misses; they never surface to callers. A nil *Cache is a disabled cache.
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     Clock
	logger  *slog.Logger
}

func New(cfg Config) *Cache {
	if cfg.Backend == nil {
		cfg.Backend = NewMemoryBackend()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		backend: cfg.Backend,
		ttl:     cfg.TTL,
		now:     cfg.Clock,
		logger:  cfg.Logger,
	}
}

// Key fingerprints a query: trimmed, lowercased, combined with k, hashed with SHA-256.
func Key(query string, k int) string {
	norm := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(strconv.Itoa(k) + "\x00" + norm))
	return hex.EncodeToString(sum[:])
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Lookup returns the cached answer for (query, k). Absent and expired
// entries are indistinguishable.
func (c *Cache) Lookup(ctx context.Context, query string, k int) (string, bool) {
	if c == nil {
		return "", false
	}
	key := Key(query, k)
	e, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", "err", err)
		return "", false
	}
	if !ok || e.Expired(c.now()) {
		return "", false
	}
	return e.Response, true
}

// Store upserts the answer for (query, k) with a fresh creation time.
// A non-positive ttl skips the write.
func (c *Cache) Store(ctx context.Context, query string, k int, response string, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}
	e := Entry{
		Key:       Key(query, k),
		Response:  response,
		CreatedAt: c.now(),
		TTL:       ttl,
	}
	if err := c.backend.Put(ctx, e); err != nil {
		c.logger.Warn("cache store failed", "err", err)
	}
}

// StoreDefault stores with the configured TTL.
func (c *Cache) StoreDefault(ctx context.Context, query string, k int, response string) {
	c.Store(ctx, query, k, response, c.TTL())
}

// Purge drops every entry. Called after a rebuild so answers never outlive
// the corpus they were generated from.
func (c *Cache) Purge(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.backend.Purge(ctx); err != nil {
		c.logger.Warn("cache purge failed", "err", err)
		return
	}
	c.logger.Debug("cache purged")
}
