// Package cache memoizes extractor results keyed by a content hash of
// the normalized email, so cosmetic differences never cause a second
// extractor call within the TTL window. Backend failures degrade the
// cache to always-miss; they never abort a run.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"email-event-digest/internal/models"
)

// Result is a memoized extractor outcome: the drop sentinel or a
// candidate payload.
type Result struct {
	Dropped   bool
	Candidate *models.CandidateEvent
}

// Backend persists cache entries. Loading and saving are best-effort;
// the cache stays correct (as always-miss) when the backend fails.
type Backend interface {
	LoadCacheEntries() ([]models.CacheEntry, error)
	SaveCacheEntry(entry *models.CacheEntry) error
	DeleteCacheEntries(hashes []string) error
}

// ResponseCache is a TTL-bounded memo of extractor results.
type ResponseCache struct {
	mu       sync.RWMutex
	entries  map[string]models.CacheEntry
	ttl      time.Duration
	backend  Backend
	degraded bool
	hits     uint64
	misses   uint64
	now      func() time.Time
}

// Hash returns the stable content hash for normalized email content.
func Hash(normalizedContent string) string {
	sum := sha256.Sum256([]byte(normalizedContent))
	return hex.EncodeToString(sum[:])
}

// New creates a ResponseCache over backend with the given TTL.
func New(backend Backend, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]models.CacheEntry),
		ttl:     ttl,
		backend: backend,
		now:     time.Now,
	}
}

// Load populates the cache from the backend. A load failure leaves the
// cache in degraded always-miss mode rather than failing the caller.
func (c *ResponseCache) Load() error {
	entries, err := c.backend.LoadCacheEntries()
	if err != nil {
		logrus.Warnf("Response cache backend unavailable, degrading to always-miss: %v", err)
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.entries[e.ContentHash] = e
	}
	return nil
}

// Lookup returns the memoized result for hash. Expired entries behave as
// a miss.
func (c *ResponseCache) Lookup(hash string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[hash]
	if !ok || c.now().Sub(entry.CreatedAt) > c.ttl {
		if ok {
			delete(c.entries, hash)
		}
		c.misses++
		return Result{}, false
	}
	if entry.Dropped {
		c.hits++
		return Result{Dropped: true}, true
	}
	var cand models.CandidateEvent
	if err := json.Unmarshal([]byte(entry.Payload), &cand); err != nil {
		// Unreadable payload is as good as absent.
		delete(c.entries, hash)
		c.misses++
		return Result{}, false
	}
	c.hits++
	return Result{Candidate: &cand}, true
}

// Store memoizes an extractor result under hash and writes it through to
// the backend.
func (c *ResponseCache) Store(hash string, res Result) {
	entry := models.CacheEntry{
		ContentHash: hash,
		Dropped:     res.Dropped,
		CreatedAt:   c.now(),
	}
	if res.Candidate != nil {
		payload, err := json.Marshal(res.Candidate)
		if err != nil {
			logrus.Warnf("Failed to encode cache payload for %s: %v", hash, err)
			return
		}
		entry.Payload = string(payload)
	}

	c.mu.Lock()
	c.entries[hash] = entry
	degraded := c.degraded
	c.mu.Unlock()

	if degraded {
		return
	}
	if err := c.backend.SaveCacheEntry(&entry); err != nil {
		logrus.Warnf("Failed to persist cache entry %s: %v", hash, err)
	}
}

// Cleanup removes expired entries from memory and the backend, returning
// how many were evicted.
func (c *ResponseCache) Cleanup() int {
	c.mu.Lock()
	var expired []string
	for hash, entry := range c.entries {
		if c.now().Sub(entry.CreatedAt) > c.ttl {
			expired = append(expired, hash)
			delete(c.entries, hash)
		}
	}
	degraded := c.degraded
	c.mu.Unlock()

	if len(expired) > 0 && !degraded {
		if err := c.backend.DeleteCacheEntries(expired); err != nil {
			logrus.Warnf("Failed to delete expired cache entries: %v", err)
		}
	}
	return len(expired)
}

// Stats reports hit/miss counters and the live entry count.
func (c *ResponseCache) Stats() (hits, misses uint64, entries int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.entries)
}

// MemoryBackend is an in-memory Backend for tests and cache-less runs.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]models.CacheEntry)}
}

func (m *MemoryBackend) LoadCacheEntries() ([]models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CacheEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryBackend) SaveCacheEntry(entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ContentHash] = *entry
	return nil
}

func (m *MemoryBackend) DeleteCacheEntries(hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		delete(m.entries, h)
	}
	return nil
}
