// Package pipeline runs the extraction engine over a batch of emails:
// gate, cache lookup, external extraction, normalization, date/time
// resolution, guardrail validation, deduplication, and learning-store
// updates. Every email resolves to exactly one of: a validated event, an
// intentional drop, or a deferral to a future run. Nothing in here
// propagates a fault to the API layer.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"email-event-digest/internal/cache"
	"email-event-digest/internal/config"
	"email-event-digest/internal/dedupe"
	"email-event-digest/internal/extractor"
	"email-event-digest/internal/gate"
	"email-event-digest/internal/guard"
	"email-event-digest/internal/learn"
	"email-event-digest/internal/metrics"
	"email-event-digest/internal/models"
	"email-event-digest/internal/normalize"
	"email-event-digest/internal/resolve"
)

// EventStore is the persistence surface the pipeline needs. Implemented
// by repository.Repository; tests substitute an in-memory fake.
type EventStore interface {
	CreateEvent(ev *models.Event) error
	UpdateEvent(ev *models.Event) error
	ListAllEvents() ([]models.Event, error)
	IsEmailProcessed(messageID string) (bool, error)
	MarkEmailProcessed(messageID, outcome string) error
}

// RunSummary describes one batch run.
type RunSummary struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	Fetched        int            `json:"fetched"`
	AlreadyDone    int            `json:"already_done"`
	GatedOut       int            `json:"gated_out"`
	CacheHits      int            `json:"cache_hits"`
	ExtractorCalls int            `json:"extractor_calls"`
	Malformed      int            `json:"malformed"`
	Parsed         int            `json:"parsed"`
	Dropped        int            `json:"dropped"`
	Deferred       int            `json:"deferred"`
	Merged         int            `json:"merged"`
	Events         []models.Event `json:"events"`
}

type itemStatus int

const (
	statusAlreadyDone itemStatus = iota
	statusGatedOut
	statusDropped
	statusDeferred
	statusEvent
)

type itemResult struct {
	email     models.EmailMessage
	status    itemStatus
	reason    guard.DropReason
	event     *models.Event
	canonical *models.Event
	candidate *models.CandidateEvent
	cacheHit  bool
	extracted bool
	malformed bool
}

// Pipeline wires the engine components together.
type Pipeline struct {
	cfg       config.EngineConfig
	gate      *gate.Gate
	cache     *cache.ResponseCache
	extractor extractor.EventExtractor
	resolver  *resolve.Resolver
	guard     *guard.Guard
	learn     *learn.Store
	store     EventStore
	metrics   *metrics.Metrics

	mu      sync.Mutex
	lastRun *RunSummary
}

// New creates a Pipeline over already-constructed components.
func New(
	cfg config.EngineConfig,
	g *gate.Gate,
	c *cache.ResponseCache,
	ex extractor.EventExtractor,
	r *resolve.Resolver,
	gd *guard.Guard,
	ls *learn.Store,
	store EventStore,
	m *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		gate:      g,
		cache:     c,
		extractor: ex,
		resolver:  r,
		guard:     gd,
		learn:     ls,
		store:     store,
		metrics:   m,
	}
}

// Run processes one batch. Extraction runs on a bounded worker pool;
// deduplication, learning updates, and persistence run afterwards in
// input order so results are deterministic.
func (p *Pipeline) Run(ctx context.Context, emails []models.EmailMessage) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Fetched:   len(emails),
	}
	p.gate.Reset()
	logrus.Infof("Starting extraction run %s over %d emails (budget %d)",
		summary.RunID, len(emails), p.gate.Remaining())

	dedup := dedupe.New(p.cfg.Dedupe)
	if existing, err := p.store.ListAllEvents(); err != nil {
		logrus.Warnf("Could not seed deduplicator from store: %v", err)
	} else {
		dedup.Seed(existing)
	}

	results := p.extractBatch(ctx, emails)

	for i := range results {
		p.finalize(&results[i], dedup, summary)
	}

	summary.Events = orderedRunEvents(results)
	summary.Duration = time.Since(summary.StartedAt)
	p.metrics.BatchDuration.Observe(summary.Duration.Seconds())

	p.mu.Lock()
	p.lastRun = summary
	p.mu.Unlock()

	logrus.Infof("Run %s complete: %d parsed, %d dropped, %d deferred, %d merged, %d cache hits in %v",
		summary.RunID, summary.Parsed, summary.Dropped, summary.Deferred,
		summary.Merged, summary.CacheHits, summary.Duration)
	return summary, nil
}

// LastRun returns the most recent run summary, or nil before any run.
func (p *Pipeline) LastRun() *RunSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

// CallsRemaining exposes the gate's remaining budget.
func (p *Pipeline) CallsRemaining() int {
	return p.gate.Remaining()
}

// CacheStats exposes the response cache counters.
func (p *Pipeline) CacheStats() (hits, misses uint64, entries int) {
	return p.cache.Stats()
}

// LearnedBuckets exposes the learning store's confidence histogram.
func (p *Pipeline) LearnedBuckets() map[string]int {
	return p.learn.ConfidenceBuckets()
}

// Maintain evicts expired cache entries and prunes decayed aliases.
// Called between batch runs.
func (p *Pipeline) Maintain() {
	if n := p.cache.Cleanup(); n > 0 {
		logrus.Infof("Evicted %d expired cache entries", n)
	}
	if n := p.learn.Cleanup(); n > 0 {
		logrus.Infof("Pruned %d decayed learned aliases", n)
	}
	total := 0
	for _, n := range p.learn.ConfidenceBuckets() {
		total += n
	}
	p.metrics.LearnedAliases.Set(float64(total))
}

// extractBatch runs the per-email slow path on a bounded worker pool.
func (p *Pipeline) extractBatch(ctx context.Context, emails []models.EmailMessage) []itemResult {
	results := make([]itemResult, len(emails))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := p.cfg.Workers
	if workers > len(emails) {
		workers = len(emails)
	}
	if workers < 1 {
		workers = 1
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.processOne(ctx, emails[i])
			}
		}()
	}
	for i := range emails {
		select {
		case jobs <- i:
		case <-ctx.Done():
			// Remaining emails stay zero-valued; mark them deferred.
			for j := i; j < len(emails); j++ {
				results[j] = itemResult{email: emails[j], status: statusDeferred}
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

// processOne takes a single email through gate, cache, extraction, and
// validation. It never returns an error; failures become deferrals.
func (p *Pipeline) processOne(ctx context.Context, email models.EmailMessage) itemResult {
	res := itemResult{email: email}

	if done, err := p.store.IsEmailProcessed(email.ID); err != nil {
		logrus.Warnf("Processed check failed for %s, continuing: %v", email.ID, err)
	} else if done {
		res.status = statusAlreadyDone
		return res
	}

	if !p.gate.ShouldExtract(email.Subject, email.Body) {
		res.status = statusGatedOut
		return res
	}

	hash := cache.Hash(normalize.Key(email.Subject + "\n" + email.Body))

	var extracted extractor.Result
	if cached, ok := p.cache.Lookup(hash); ok {
		res.cacheHit = true
		extracted = extractor.Result{Dropped: cached.Dropped, Candidate: cached.Candidate}
	} else {
		if !p.gate.TryAcquire() {
			res.status = statusDeferred
			return res
		}
		res.extracted = true
		var err error
		extracted, err = p.extractor.Extract(ctx, email)
		if err != nil {
			logrus.Warnf("Extractor unavailable for %s, will retry next run: %v", email.ID, err)
			res.status = statusDeferred
			return res
		}
		if !extracted.Malformed {
			p.cache.Store(hash, cache.Result{Dropped: extracted.Dropped, Candidate: extracted.Candidate})
		}
	}

	switch {
	case extracted.Malformed:
		res.status = statusDropped
		res.reason = guard.DropMalformed
		res.malformed = true
	case extracted.Dropped:
		res.status = statusDropped
		res.reason = guard.DropNoEvent
	default:
		text := normalize.Text(email.Subject + " " + email.Body)
		resolution := p.resolver.Resolve(text, email.ReceivedAt)
		outcome := p.guard.Check(extracted.Candidate, resolution, email)
		if outcome.Dropped() {
			res.status = statusDropped
			res.reason = outcome.Reason
		} else {
			res.status = statusEvent
			res.event = outcome.Event
			res.candidate = extracted.Candidate
		}
	}
	return res
}

// finalize applies one extraction result in input order: metrics, logs,
// learning, deduplication, and persistence.
func (p *Pipeline) finalize(res *itemResult, dedup *dedupe.Deduplicator, summary *RunSummary) {
	if res.cacheHit {
		summary.CacheHits++
		p.metrics.CacheHits.Inc()
	} else if res.extracted {
		summary.ExtractorCalls++
		p.metrics.CacheMisses.Inc()
		p.metrics.ExtractorCalls.Inc()
	}
	p.metrics.EmailsFetched.Inc()

	switch res.status {
	case statusAlreadyDone:
		summary.AlreadyDone++

	case statusGatedOut:
		summary.GatedOut++
		p.metrics.GatedOut.Inc()
		logrus.Debugf("Email %s did not look event-like, skipping extraction", res.email.ID)
		p.markProcessed(res.email.ID, "dropped")

	case statusDeferred:
		summary.Deferred++
		if !res.extracted {
			p.metrics.BudgetDeferred.Inc()
		} else {
			p.metrics.ExtractorErrors.Inc()
		}
		logrus.Infof("Email %s deferred to a future run", res.email.ID)

	case statusDropped:
		summary.Dropped++
		p.metrics.EventsDropped.Inc()
		if res.malformed {
			summary.Malformed++
			p.metrics.MalformedOutput.Inc()
			logrus.Warnf("Extractor returned malformed output for %s, treating as no event", res.email.ID)
		} else {
			logrus.Infof("No event in email %s (%s)", res.email.ID, res.reason)
		}
		p.markProcessed(res.email.ID, "dropped")

	case statusEvent:
		p.applyLearning(res.event, res.candidate)

		canonical, merged := dedup.Add(res.event)
		res.canonical = canonical
		if merged {
			summary.Merged++
			p.metrics.EventsMerged.Inc()
			logrus.Infof("Merged duplicate event %q from %s into existing record", res.event.Title, res.email.ID)
			if canonical.ID != 0 {
				if err := p.store.UpdateEvent(canonical); err != nil {
					logrus.Warnf("Failed to persist merged event: %v", err)
				}
			}
		} else {
			summary.Parsed++
			p.metrics.EventsParsed.Inc()
			if err := p.store.CreateEvent(canonical); err != nil {
				logrus.Warnf("Failed to persist event %q: %v", canonical.Title, err)
			}
			logrus.Infof("Parsed event %q on %s from %s", canonical.Title, canonical.DateStart, res.email.ID)
		}
		p.markProcessed(res.email.ID, "event")
	}
}

// applyLearning backfills an unset cuisine from the learning store and
// teaches the store from a confident extractor label.
func (p *Pipeline) applyLearning(ev *models.Event, cand *models.CandidateEvent) {
	if ev.FoodType == nil {
		return
	}
	if ev.FoodCuisine == nil {
		if category, conf, ok := p.learn.Lookup(*ev.FoodType); ok {
			ev.FoodCuisine = &category
			logrus.Debugf("Using learned cuisine %q (%.3f) for %q", category, conf, *ev.FoodType)
		}
		return
	}
	confidence := 1.0
	if cand != nil && cand.Confidence.Cuisine != nil {
		confidence = *cand.Confidence.Cuisine
	}
	p.learn.Observe(*ev.FoodType, *ev.FoodCuisine, confidence)
}

func (p *Pipeline) markProcessed(messageID, outcome string) {
	if err := p.store.MarkEmailProcessed(messageID, outcome); err != nil {
		logrus.Warnf("Failed to mark email %s as processed: %v", messageID, err)
	}
}

// orderedRunEvents collects the canonical events touched by this run and
// sorts them for the dashboard-facing output.
func orderedRunEvents(results []itemResult) []models.Event {
	seen := make(map[*models.Event]struct{})
	var out []models.Event
	for i := range results {
		ev := results[i].canonical
		if results[i].status != statusEvent || ev == nil {
			continue
		}
		if _, ok := seen[ev]; ok {
			continue
		}
		seen[ev] = struct{}{}
		out = append(out, *ev)
	}
	SortEvents(out)
	return out
}

// SortEvents orders events by date, then start time with absent times
// sorted last, then title for stability.
func SortEvents(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.DateStart != b.DateStart {
			return a.DateStart < b.DateStart
		}
		switch {
		case a.TimeStart == nil && b.TimeStart == nil:
			return a.Title < b.Title
		case a.TimeStart == nil:
			return false
		case b.TimeStart == nil:
			return true
		case *a.TimeStart != *b.TimeStart:
			return *a.TimeStart < *b.TimeStart
		}
		return a.Title < b.Title
	})
}
