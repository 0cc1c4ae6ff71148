// Package embedcache implements the bounded, TTL'd, content-hash keyed
// embedding cache. It wraps an external embed function so the Indexer
// and Retriever never call the embedder directly.
//
// The cache is an explicit, constructed handle, not package-level state:
// call New, keep the *Cache, pass it to whatever needs embeddings. It
// owns no background goroutines, so there is nothing to shut down.
package embedcache

import (
	"context"
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/seanblong/rlmcode/pkg/models"
	"golang.org/x/sync/singleflight"
)

// EmbedFunc is the external embedder collaborator: text in, dense vector
// out. Implementations should be safe for concurrent use.
type EmbedFunc func(ctx context.Context, text string) (models.DenseVector, error)

// Config bounds the cache. Zero values fall back to the documented
// defaults below.
type Config struct {
	MaxEntries     int
	MaxMemoryBytes int64
	TTL            time.Duration
}

// DefaultConfig returns sane defaults: 10,000 entries, 500MiB, 24h.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     10_000,
		MaxMemoryBytes: 500 * 1024 * 1024,
		TTL:            24 * time.Hour,
	}
}

type entry struct {
	vec       models.DenseVector
	expiresAt time.Time
}

// Cache is a bounded associative container from content hash to dense
// vector. Access resets LRU age; eviction never negative-caches a prior
// embed_fn failure (a failed lookup simply leaves the key absent).
type Cache struct {
	cfg   Config
	mu    sync.Mutex
	lru   *lru.Cache[uint64, entry]
	bytes int64
	dim   int // bytes-per-entry estimate once known

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New constructs a Cache bounded by cfg. A zero or negative MaxEntries,
// MaxMemoryBytes, or TTL falls back to DefaultConfig's value.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = DefaultConfig().MaxMemoryBytes
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	l, _ := lru.New[uint64, entry](cfg.MaxEntries)
	return &Cache{cfg: cfg, lru: l}
}

// keyFor hashes text to the first 64 bits of SHA-256.
func keyFor(text string) uint64 {
	sum := sha256.Sum256([]byte(text))
	var k uint64
	for i := 0; i < 8; i++ {
		k = k<<8 | uint64(sum[i])
	}
	return k
}

// GetOrEmbed returns the cached vector for text, or calls embed to produce
// and cache one. Concurrent lookups on the same key are coalesced into a
// single embed call via singleflight; concurrent lookups on distinct keys
// proceed independently. A failing embed call leaves the key unset rather
// than caching the failure.
func (c *Cache) GetOrEmbed(ctx context.Context, text string, embed EmbedFunc) (models.DenseVector, error) {
	key := keyFor(text)

	c.mu.Lock()
	if e, ok := c.lru.Get(key); ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		c.hits.Add(1)
		return e.vec, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)

	shared := uint64ToString(key)
	v, err, _ := c.group.Do(shared, func() (any, error) {
		// Re-check under the singleflight section: another goroutine may
		// have populated the entry while we waited for the group lock.
		c.mu.Lock()
		if e, ok := c.lru.Get(key); ok && time.Now().Before(e.expiresAt) {
			c.mu.Unlock()
			return e.vec, nil
		}
		c.mu.Unlock()

		vec, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.insert(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(models.DenseVector), nil
}

func (c *Cache) insert(key uint64, vec models.DenseVector) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(vec)) * 8
	if c.dim == 0 && len(vec) > 0 {
		c.dim = len(vec)
	}
	if old, ok := c.lru.Peek(key); ok {
		c.lru.Remove(key)
		c.bytes -= int64(len(old.vec)) * 8
	}
	// Evict through RemoveOldest for both bounds so every eviction is
	// reflected in the byte accounting; a bare Add at capacity would evict
	// internally without returning the dropped entry.
	for (c.bytes+size > c.cfg.MaxMemoryBytes || c.lru.Len() >= c.cfg.MaxEntries) && c.lru.Len() > 0 {
		_, evicted, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.bytes -= int64(len(evicted.vec)) * 8
	}
	c.lru.Add(key, entry{vec: vec, expiresAt: time.Now().Add(c.cfg.TTL)})
	c.bytes += size
}

// Hits returns the number of lookups satisfied from cache.
func (c *Cache) Hits() int64 { return c.hits.Load() }

// Misses returns the number of lookups that required an embed call.
func (c *Cache) Misses() int64 { return c.misses.Load() }

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func uint64ToString(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
