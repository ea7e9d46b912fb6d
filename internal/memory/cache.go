package memory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"docbot/internal/cache"
)

// Cache returns a cache.Backend on the response_cache table.
func (s *SQLiteStore) Cache() cache.Backend {
	return &sqliteCache{db: s.db}
}

type sqliteCache struct {
	db *sql.DB
}

func (c *sqliteCache) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	var (
		response  string
		createdAt int64
		ttlMs     int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT response, created_at, ttl_ms FROM response_cache WHERE key = ?`, key,
	).Scan(&response, &createdAt, &ttlMs)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}
	return cache.Entry{
		Key:       key,
		Response:  response,
		CreatedAt: time.Unix(0, createdAt),
		TTL:       time.Duration(ttlMs) * time.Millisecond,
	}, true, nil
}

func (c *sqliteCache) Put(ctx context.Context, e cache.Entry) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO response_cache (key, response, created_at, ttl_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET response = excluded.response,
		 created_at = excluded.created_at, ttl_ms = excluded.ttl_ms`,
		e.Key, e.Response, e.CreatedAt.UnixNano(), e.TTL.Milliseconds(),
	)
	return err
}

func (c *sqliteCache) Purge(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM response_cache`)
	return err
}

// CompactCache deletes entries expired at now and returns how many were removed.
func (s *SQLiteStore) CompactCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM response_cache WHERE created_at + ttl_ms * 1000000 < ?`, now.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
