package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Entry is one cached analysis.
type Entry struct {
	Key       string
	Model     string
	RawOutput string
	CreatedAt time.Time
	LastHitAt time.Time
	HitCount  int
}

// Stats summarizes cache usage.
type Stats struct {
	Entries int
	Hits    int
}

// Cache is the SQLite-backed analysis cache.
type Cache struct {
	db   *sql.DB
	path string
	ttl  time.Duration
	now  func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL ignores and purges entries older than ttl. Zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Key derives the cache key for an anonymized document.
func Key(model, promptVersion, anonymizedText string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(model)))
	h.Write([]byte{0})
	h.Write([]byte(promptVersion))
	h.Write([]byte{0})
	h.Write([]byte(anonymizedText))
	return hex.EncodeToString(h.Sum(nil))
}

// Open initializes or connects to the cache database at path.
func Open(path string, opts ...Option) (*Cache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("cache path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	c := &Cache{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Path returns the database file path.
func (c *Cache) Path() string { return c.path }

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the entry for key and records the hit. Expired entries are
// reported as misses.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	ctx = ensureContext(ctx)
	var (
		entry     Entry
		createdAt string
		lastHit   sql.NullString
	)
	err := retryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx,
			`SELECT key, model, raw_output, created_at, last_hit_at, hit_count FROM analyses WHERE key = ?`, key,
		).Scan(&entry.Key, &entry.Model, &entry.RawOutput, &createdAt, &lastHit, &entry.HitCount)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}
	entry.CreatedAt = parseTime(createdAt)
	if lastHit.Valid {
		entry.LastHitAt = parseTime(lastHit.String)
	}
	now := c.now()
	if c.ttl > 0 && now.Sub(entry.CreatedAt) >= c.ttl {
		return Entry{}, false, nil
	}

	if err := c.execWithoutResultRetry(ctx,
		`UPDATE analyses SET hit_count = hit_count + 1, last_hit_at = ? WHERE key = ?`,
		formatTime(now), key,
	); err != nil {
		return Entry{}, false, fmt.Errorf("cache record hit: %w", err)
	}
	entry.HitCount++
	entry.LastHitAt = now
	return entry, true, nil
}

// Put stores or replaces the entry for entry.Key.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Key) == "" {
		return errors.New("cache put: key required")
	}
	if strings.TrimSpace(entry.RawOutput) == "" {
		return errors.New("cache put: raw output required")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	err := c.execWithoutResultRetry(ensureContext(ctx),
		`INSERT INTO analyses (key, model, raw_output, created_at, hit_count)
		 VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT(key) DO UPDATE SET
		   model = excluded.model,
		   raw_output = excluded.raw_output,
		   created_at = excluded.created_at,
		   hit_count = 0,
		   last_hit_at = NULL`,
		entry.Key, entry.Model, entry.RawOutput, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.execWithoutResultRetry(ensureContext(ctx), `DELETE FROM analyses WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Purge removes entries older than the TTL and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := formatTime(c.now().Add(-c.ttl))
	res, err := c.execWithRetry(ensureContext(ctx), `DELETE FROM analyses WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	res, err := c.execWithRetry(ensureContext(ctx), `DELETE FROM analyses`)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns entry and hit totals.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1), COALESCE(SUM(hit_count), 0) FROM analyses`,
	).Scan(&stats.Entries, &stats.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

// timestamps are stored as fixed-width UTC strings so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
