// Package learn maintains token-to-category mappings (food name to
// cuisine) learned from repeated high-confidence extractor observations.
// Confidence is smoothed with an exponential moving average so a single
// outlier observation cannot flip an established mapping. The store
// persists through a backend; backend failure degrades it to never-learn
// for the rest of the run.
package learn

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"email-event-digest/internal/config"
	"email-event-digest/internal/models"
	"email-event-digest/internal/normalize"
)

// Backend persists learned aliases.
type Backend interface {
	LoadAliases() ([]models.LearnedAlias, error)
	SaveAlias(alias *models.LearnedAlias) error
	DeleteAliases(tokens []string) error
}

// Store is the confidence learning store.
type Store struct {
	mu       sync.RWMutex
	aliases  map[string]models.LearnedAlias
	cfg      config.LearningConfig
	backend  Backend
	degraded bool
	now      func() time.Time
}

// New creates a Store over backend with the given tuning.
func New(backend Backend, cfg config.LearningConfig) *Store {
	return &Store{
		aliases: make(map[string]models.LearnedAlias),
		cfg:     cfg,
		backend: backend,
		now:     time.Now,
	}
}

// Load populates the store from the backend. A load failure degrades the
// store to never-learn rather than failing the caller.
func (s *Store) Load() error {
	aliases, err := s.backend.LoadAliases()
	if err != nil {
		logrus.Warnf("Learning store backend unavailable, degrading to never-learn: %v", err)
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range aliases {
		s.aliases[a.Token] = a
	}
	return nil
}

// Observe records one token/category observation. Observations below the
// minimum confidence are ignored. The first observation seeds the entry
// directly; later ones blend in via the moving average and bump the
// sample count.
func (s *Store) Observe(token, category string, confidence float64) {
	key := normalize.Key(token)
	if key == "" || category == "" || confidence < s.cfg.ObserveThreshold {
		return
	}

	s.mu.Lock()
	alias, exists := s.aliases[key]
	if exists {
		alias.Confidence = s.cfg.Alpha*confidence + (1-s.cfg.Alpha)*alias.Confidence
		alias.Category = category
		alias.SampleCount++
	} else {
		alias = models.LearnedAlias{
			Token:       key,
			Category:    category,
			Confidence:  confidence,
			SampleCount: 1,
		}
	}
	alias.LastSeenAt = s.now()
	s.aliases[key] = alias
	degraded := s.degraded
	s.mu.Unlock()

	logrus.Debugf("Learned alias %q -> %q (confidence %.3f, samples %d)",
		key, category, alias.Confidence, alias.SampleCount)

	if degraded {
		return
	}
	if err := s.backend.SaveAlias(&alias); err != nil {
		logrus.Warnf("Failed to persist learned alias %q: %v", key, err)
	}
}

// Lookup returns the learned category for token when its confidence has
// cleared the lookup threshold; otherwise ok is false and the caller
// falls back to the extractor's label for this run.
func (s *Store) Lookup(token string) (category string, confidence float64, ok bool) {
	key := normalize.Key(token)
	s.mu.RLock()
	defer s.mu.RUnlock()
	alias, exists := s.aliases[key]
	if !exists || alias.Confidence < s.cfg.LookupThreshold {
		return "", 0, false
	}
	return alias.Category, alias.Confidence, true
}

// Cleanup removes entries whose confidence has decayed below the floor
// or that have not been observed within the retention window. Returns
// how many entries were removed.
func (s *Store) Cleanup() int {
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)

	s.mu.Lock()
	var stale []string
	for token, alias := range s.aliases {
		if alias.Confidence < s.cfg.CleanupFloor || alias.LastSeenAt.Before(cutoff) {
			stale = append(stale, token)
			delete(s.aliases, token)
		}
	}
	degraded := s.degraded
	s.mu.Unlock()

	if len(stale) > 0 && !degraded {
		if err := s.backend.DeleteAliases(stale); err != nil {
			logrus.Warnf("Failed to delete stale aliases: %v", err)
		}
	}
	return len(stale)
}

// ConfidenceBuckets summarizes the store for the stats endpoint.
func (s *Store) ConfidenceBuckets() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buckets := map[string]int{"high": 0, "medium": 0, "low": 0}
	for _, alias := range s.aliases {
		switch {
		case alias.Confidence >= 0.8:
			buckets["high"]++
		case alias.Confidence >= 0.6:
			buckets["medium"]++
		default:
			buckets["low"]++
		}
	}
	return buckets
}

// MemoryBackend is an in-memory Backend for tests.
type MemoryBackend struct {
	mu      sync.Mutex
	aliases map[string]models.LearnedAlias
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{aliases: make(map[string]models.LearnedAlias)}
}

func (m *MemoryBackend) LoadAliases() ([]models.LearnedAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LearnedAlias, 0, len(m.aliases))
	for _, a := range m.aliases {
		out = append(out, a)
	}
	return out, nil
}

func (m *MemoryBackend) SaveAlias(alias *models.LearnedAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[alias.Token] = *alias
	return nil
}

func (m *MemoryBackend) DeleteAliases(tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		delete(m.aliases, t)
	}
	return nil
}
