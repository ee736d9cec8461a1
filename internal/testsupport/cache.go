package testsupport

import (
	"testing"

	"counsel/internal/cache"
	"counsel/internal/config"
)

// MustOpenCache opens the configured analysis cache and registers cleanup.
func MustOpenCache(t testing.TB, cfg *config.Config) *cache.Cache {
	t.Helper()

	c, err := cache.Open(cfg.Cache.Path, cache.WithTTL(cfg.CacheTTL()))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}
