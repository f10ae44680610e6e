package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-event-digest/internal/cache"
	"email-event-digest/internal/config"
	"email-event-digest/internal/extractor"
	"email-event-digest/internal/gate"
	"email-event-digest/internal/guard"
	"email-event-digest/internal/learn"
	"email-event-digest/internal/metrics"
	"email-event-digest/internal/models"
	"email-event-digest/internal/resolve"
)

// Prometheus collectors register globally, so the whole test binary
// shares one Metrics instance.
var testMetrics = metrics.NewMetrics()

func strPtr(s string) *string { return &s }

type memStore struct {
	mu        sync.Mutex
	events    []models.Event
	processed map[string]string
	nextID    uint
}

func newMemStore() *memStore {
	return &memStore{processed: make(map[string]string)}
}

func (m *memStore) CreateEvent(ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	m.events = append(m.events, *ev)
	return nil
}

func (m *memStore) UpdateEvent(ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == ev.ID {
			m.events[i] = *ev
		}
	}
	return nil
}

func (m *memStore) ListAllEvents() ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Event{}, m.events...), nil
}

func (m *memStore) IsEmailProcessed(messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[messageID]
	return ok, nil
}

func (m *memStore) MarkEmailProcessed(messageID, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[messageID] = outcome
	return nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(models.EmailMessage) (extractor.Result, error)
}

func (f *fakeExtractor) Extract(_ context.Context, email models.EmailMessage) (extractor.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(email)
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Timezone:           "America/New_York",
		Workers:            2,
		CacheTTL:           24 * time.Hour,
		Categories:         []string{"social", "talk", "study_break"},
		Cuisines:           []string{"thai", "italian", "american"},
		RecruitingPatterns: []string{"apply now", "we are hiring"},
		Gate: config.GateConfig{
			MinBodyLength:    80,
			ScoreThreshold:   2,
			Keywords:         []string{"event", "join us", "rsvp", "resume"},
			KeywordWeight:    1,
			SubjectBonus:     2,
			TimePatterns:     []string{`\b\d{1,2}(:\d{2})?\s*(am|pm)\b`, `\b(tonight|tomorrow|today)\b`},
			TimeWeight:       1,
			LocationKeywords: []string{"room", "hall", "jcr", "d-hall"},
			LocationWeight:   1,
			MaxCallsPerRun:   10,
		},
		Learning: config.LearningConfig{
			Alpha:            0.3,
			ObserveThreshold: 0.6,
			LookupThreshold:  0.7,
			CleanupFloor:     0.4,
			RetentionDays:    90,
		},
		Resolver: config.ResolverConfig{PastGraceDays: 90},
		Dedupe:   config.DedupeConfig{Similarity: 0.85, WindowDays: 1},
	}
}

func buildPipeline(t *testing.T, cfg config.EngineConfig, ex extractor.EventExtractor, store *memStore) (*Pipeline, *learn.Store) {
	t.Helper()

	g, err := gate.New(cfg.Gate)
	require.NoError(t, err)

	c := cache.New(cache.NewMemoryBackend(), cfg.CacheTTL)
	require.NoError(t, c.Load())

	ls := learn.New(learn.NewMemoryBackend(), cfg.Learning)
	require.NoError(t, ls.Load())

	loc, err := time.LoadLocation(cfg.Timezone)
	require.NoError(t, err)

	r := resolve.New(loc, cfg.Resolver.PastGraceDays)
	gd := guard.New(cfg.RecruitingPatterns, cfg.Categories, cfg.Cuisines, cfg.Timezone)

	return New(cfg, g, c, ex, r, gd, ls, store, testMetrics), ls
}

func receivedAt(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2025, 9, 18, 17, 0, 0, 0, loc)
}

func tableEmail(t *testing.T, id string) models.EmailMessage {
	return models.EmailMessage{
		ID:      id,
		Subject: "[pfoho-open] Resume Review Table *9-10 Tonight!*",
		From:    "committee@example.edu",
		Body: "Come by the upper d-hall TONIGHT from 9-10 to get your resume " +
			"reviewed by upperclassmen. Free pizza while it lasts! RSVP at forms.gle/xyz",
		ReceivedAt: receivedAt(t),
	}
}

func TestRunExtractsAndPersistsEvent(t *testing.T) {
	ex := &fakeExtractor{fn: func(models.EmailMessage) (extractor.Result, error) {
		return extractor.Result{Candidate: &models.CandidateEvent{
			Title:    "Resume Review Table",
			Location: strPtr("upper d-hall"),
			FoodType: strPtr("pizza"),
			URLs:     []string{"forms.gle/xyz"},
		}}, nil
	}}
	store := newMemStore()
	p, _ := buildPipeline(t, testEngineConfig(), ex, store)

	summary, err := p.Run(context.Background(), []models.EmailMessage{tableEmail(t, "m1")})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Parsed)
	assert.Equal(t, 0, summary.Dropped)
	assert.Equal(t, 0, summary.Deferred)
	assert.Equal(t, 1, summary.ExtractorCalls)
	require.Len(t, summary.Events, 1)

	ev := summary.Events[0]
	assert.Equal(t, "Resume Review Table", ev.Title)
	assert.Equal(t, "2025-09-18", ev.DateStart)
	require.NotNil(t, ev.TimeStart)
	assert.Equal(t, "21:00", *ev.TimeStart)
	require.NotNil(t, ev.TimeEnd)
	assert.Equal(t, "22:00", *ev.TimeEnd)
	assert.Equal(t, "upper d-hall", *ev.Location)
	assert.Equal(t, []string{"https://forms.gle/xyz"}, ev.URLs)
	assert.Equal(t, []string{"pfoho-open"}, ev.MailingLists)
	assert.True(t, ev.HasFood())

	// Persisted and marked processed
	persisted, err := store.ListAllEvents()
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
	assert.Equal(t, "event", store.processed["m1"])
}

func TestRunDropsOnSentinel(t *testing.T) {
	ex := &fakeExtractor{fn: func(models.EmailMessage) (extractor.Result, error) {
		return extractor.Result{Dropped: true}, nil
	}}
	store := newMemStore()
	p, _ := buildPipeline(t, testEngineConfig(), ex, store)

	email := models.EmailMessage{
		ID:      "m1",
		Subject: "Consulting club recruiting",
		Body: "We are hiring analysts for next semester. Apply now via our form. " +
			"Info about the resume drop and rsvp process is on our site tonight.",
		ReceivedAt: receivedAt(t),
	}
	summary, err := p.Run(context.Background(), []models.EmailMessage{email})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Parsed)
	assert.Equal(t, 1, summary.Dropped)
	assert.Empty(t, summary.Events)
	assert.Equal(t, "dropped", store.processed["m1"])
}

func TestRunGatesOutNonEventEmail(t *testing.T) {
	ex := &fakeExtractor{fn: func(models.EmailMessage) (extractor.Result, error) {
		t.Fatal("extractor must not be called for gated-out email")
		return extractor.Result{}, nil
	}}
	store := newMemStore()
	p, _ := buildPipeline(t, testEngineConfig(), ex, store)

	email := models.EmailMessage{
		ID:      "m1",
		Subject: "Meeting minutes",
		Body: "Attached are the minutes from last week's board discussion. " +
			"Please review the budget figures before our next sync and send corrections.",
		ReceivedAt: receivedAt(t),
	}
	summary, err := p.Run(context.Background(), []models.EmailMessage{email})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.GatedOut)
	assert.Equal(t, 0, ex.callCount())
}

func TestRunCachesAcrossRuns(t *testing.T) {
	ex := &fakeExtractor{fn: func(models.EmailMessage) (extractor.Result, error) {
		return extractor.Result{Candidate: &models.CandidateEvent{
			Title:    "Resume Review Table",
			Location: strPtr("upper d-hall"),
		}}, nil
	}}
	store := newMemStore()
	p, _ := buildPipeline(t, testEngineConfig(), ex, store)

	_, err := p.Run(context.Background(), []models.EmailMessage{tableEmail(t, "m1")})
	require.NoError(t, err)
	assert.Equal(t, 1, ex.callCount())

	// Same content under a new message ID: cache hit, no second call,
	// and the event merges into the persisted record.
	summary, err := p.Run(context.Background(), []models.EmailMessage{tableEmail(t, "m2")})
	require.NoError(t, err)

	assert.Equal(t, 1, ex.callCount())
	assert.Equal(t, 1, summary.CacheHits)
	assert.Equal(t, 1, summary.Merged)
	assert.Equal(t, 0, summary.Parsed)

	persisted, err := store.ListAllEvents()
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestRunSkipsAlreadyProcessed(t *testing.T) {
	ex := &fakeExtractor{fn: func(models.EmailMessage) (extractor.Result, error) {
		t.Fatal("extractor must not be called for processed email")
		return extractor.Result{}, nil
	}}
	store := newMemStore()
	require.NoError(t, store.MarkEmailProcessed("m1", "event"))
	p, _ := buildPipeline(t, testEngineConfig(), ex, store)

	summary, err := p.Run(context.Background(), []models.EmailMessage{tableEmail(t, "m1")})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AlreadyDone)
	assert.Equal(t, 0, ex.callCount())
}

func TestRunDefersOnBudgetExhaustion(t *testing.T) {
	ex := &fakeExtractor{fn: func(models.EmailMessage) (extractor.Result, error) {
		return extractor.Result{Dropped: true}, nil
	}}
	store := newMemStore()
	cfg := testEngineConfig()
	cfg.Gate.MaxCallsPerRun = 1
	p, _ := buildPipeline(t, cfg, ex, store)

	emails := []models.EmailMessage{tableEmail(t, "m1"), tableEmail(t, "m2")}
	// Distinct bodies so the second cannot hit the first one's cache entry
	emails[1].Body += " Bring a printed copy if you can."

	summary, err := p.Run(context.Background(), emails)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ExtractorCalls)
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, 1, summary.Deferred)
	// The deferred email stays unprocessed so a future run retries it
	assert.Len(t, store.processed, 1)
}

func TestRunDefersOnExtractorFailure(t *testing.T) {
	ex := &fakeExtractor{fn: func(models.EmailMessage) (extractor.Result, error) {
		return extractor.Result{}, errors.New("gateway timeout")
	}}
	store := newMemStore()
	p, _ := buildPipeline(t, testEngineConfig(), ex, store)

	summary, err := p.Run(context.Background(), []models.EmailMessage{tableEmail(t, "m1")})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Deferred)
	assert.Empty(t, store.processed)
}

func TestRunMalformedOutputNotCached(t *testing.T) {
	ex := &fakeExtractor{fn: func(models.EmailMessage) (extractor.Result, error) {
		return extractor.Result{Malformed: true}, nil
	}}
	store := newMemStore()
	p, _ := buildPipeline(t, testEngineConfig(), ex, store)

	summary, err := p.Run(context.Background(), []models.EmailMessage{tableEmail(t, "m1")})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, "dropped", store.processed["m1"])

	_, _, entries := p.CacheStats()
	assert.Equal(t, 0, entries)
}

func TestRunLearnsAndBackfillsCuisine(t *testing.T) {
	conf := 0.9
	ex := &fakeExtractor{fn: func(email models.EmailMessage) (extractor.Result, error) {
		cand := &models.CandidateEvent{
			Title:    "Thai Dinner Night",
			FoodType: strPtr("pad thai"),
		}
		if email.ID == "labeled-msg" {
			cand.FoodCuisine = strPtr("thai")
			cand.Confidence.Cuisine = &conf
		}
		return extractor.Result{Candidate: cand}, nil
	}}
	store := newMemStore()
	p, ls := buildPipeline(t, testEngineConfig(), ex, store)

	// First email carries the cuisine label and teaches the store
	first := tableEmail(t, "labeled-msg")
	summary, err := p.Run(context.Background(), []models.EmailMessage{first})
	require.NoError(t, err)
	require.Len(t, summary.Events, 1)
	assert.Equal(t, "thai", *summary.Events[0].FoodCuisine)

	category, _, ok := ls.Lookup("pad thai")
	require.True(t, ok)
	assert.Equal(t, "thai", category)

	// Second email omits the cuisine; the learned alias backfills it
	// A week out so it stays a distinct event rather than merging
	second := tableEmail(t, "unlabeled-msg")
	second.Subject = "[pfoho-open] Thai Dinner Night Sept 26!"
	second.Body = "Join us Sept 26 at 6pm in the d-hall for a thai dinner night. " +
		"Plenty of pad thai to go around, rsvp so we can plan portions."
	summary, err = p.Run(context.Background(), []models.EmailMessage{second})
	require.NoError(t, err)
	require.Len(t, summary.Events, 1)
	require.NotNil(t, summary.Events[0].FoodCuisine)
	assert.Equal(t, "thai", *summary.Events[0].FoodCuisine)
}

func TestSortEvents(t *testing.T) {
	events := []models.Event{
		{Title: "b untimed", DateStart: "2025-09-18"},
		{Title: "late", DateStart: "2025-09-18", TimeStart: strPtr("21:00")},
		{Title: "early", DateStart: "2025-09-18", TimeStart: strPtr("09:00")},
		{Title: "next day", DateStart: "2025-09-19", TimeStart: strPtr("08:00")},
		{Title: "a untimed", DateStart: "2025-09-18"},
	}
	SortEvents(events)

	titles := make([]string, len(events))
	for i, ev := range events {
		titles[i] = ev.Title
	}
	assert.Equal(t, []string{"early", "late", "a untimed", "b untimed", "next day"}, titles)
}
