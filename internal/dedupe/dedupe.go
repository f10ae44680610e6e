// Package dedupe detects exact and fuzzy duplicate events across the
// accumulated event set and merges them. The earlier-seen event is the
// canonical record; merging unions URLs and mailing-list tags and
// backfills unset fields, but never overwrites a set field, so no source
// information is silently discarded.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"email-event-digest/internal/config"
	"email-event-digest/internal/models"
	"email-event-digest/internal/normalize"
)

// Deduplicator tracks canonical events and folds duplicates into them.
type Deduplicator struct {
	cfg    config.DedupeConfig
	mu     sync.Mutex
	byKey  map[string]*models.Event
	events []*models.Event
}

// New creates a Deduplicator with the given similarity tuning.
func New(cfg config.DedupeConfig) *Deduplicator {
	return &Deduplicator{
		cfg:   cfg,
		byKey: make(map[string]*models.Event),
	}
}

// Key builds the exact-match dedupe key: a hash over the normalized
// title, date, start time, and location.
func Key(title, dateStart string, timeStart *string, location *string) string {
	ts := ""
	if timeStart != nil {
		ts = *timeStart
	}
	loc := ""
	if location != nil {
		loc = normalize.Key(*location)
	}
	base := strings.Join([]string{normalize.Key(title), dateStart, ts, loc}, "|")
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// Seed preloads previously persisted events so new candidates dedupe
// against the full accumulated set, not just this run's.
func (d *Deduplicator) Seed(events []models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range events {
		ev := events[i]
		if ev.DedupeKey == "" {
			ev.DedupeKey = Key(ev.Title, ev.DateStart, ev.TimeStart, ev.Location)
		}
		rec := ev
		d.byKey[rec.DedupeKey] = &rec
		d.events = append(d.events, &rec)
	}
}

// Add registers an event, merging it into an existing record when it is
// an exact or probable duplicate. It returns the canonical record and
// whether a merge happened.
func (d *Deduplicator) Add(ev *models.Event) (*models.Event, bool) {
	key := Key(ev.Title, ev.DateStart, ev.TimeStart, ev.Location)

	d.mu.Lock()
	defer d.mu.Unlock()

	if canonical, ok := d.byKey[key]; ok {
		merge(canonical, ev)
		return canonical, true
	}

	for _, existing := range d.events {
		if d.isProbableDuplicate(existing, ev) {
			merge(existing, ev)
			return existing, true
		}
	}

	ev.DedupeKey = key
	d.byKey[key] = ev
	d.events = append(d.events, ev)
	return ev, false
}

// isProbableDuplicate combines token-sort title similarity with a date
// proximity window, and requires locations to agree when both are set.
func (d *Deduplicator) isProbableDuplicate(a, b *models.Event) bool {
	if TokenSortRatio(a.Title, b.Title) < d.cfg.Similarity {
		return false
	}
	da, errA := time.Parse("2006-01-02", a.DateStart)
	db, errB := time.Parse("2006-01-02", b.DateStart)
	if errA != nil || errB != nil {
		return false
	}
	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Duration(d.cfg.WindowDays)*24*time.Hour {
		return false
	}
	if a.Location != nil && b.Location != nil {
		if TokenSortRatio(*a.Location, *b.Location) < 0.8 {
			return false
		}
	}
	return true
}

// merge folds incoming into canonical: URL and mailing-list union, and
// unset-only backfill for every other field.
func merge(canonical, incoming *models.Event) {
	canonical.URLs = normalize.MergeURLs(canonical.URLs, incoming.URLs)
	canonical.MailingLists = mergeStrings(canonical.MailingLists, incoming.MailingLists)

	if canonical.Organizer == nil {
		canonical.Organizer = incoming.Organizer
	}
	if canonical.Location == nil {
		canonical.Location = incoming.Location
	}
	if canonical.Description == nil {
		canonical.Description = incoming.Description
	}
	if canonical.TimeStart == nil {
		canonical.TimeStart = incoming.TimeStart
		canonical.TimeEnd = incoming.TimeEnd
	} else if canonical.TimeEnd == nil && incoming.TimeStart != nil &&
		*incoming.TimeStart == *canonical.TimeStart {
		canonical.TimeEnd = incoming.TimeEnd
	}
	if canonical.FoodType == nil {
		canonical.FoodType = incoming.FoodType
	}
	if canonical.FoodQuantityHint == nil {
		canonical.FoodQuantityHint = incoming.FoodQuantityHint
	}
	if canonical.FoodCuisine == nil {
		canonical.FoodCuisine = incoming.FoodCuisine
	}
	if canonical.Category == nil {
		canonical.Category = incoming.Category
	}
	if len(canonical.Contacts) == 0 {
		canonical.Contacts = incoming.Contacts
	}
}

func mergeStrings(base, incoming []string) []string {
	seen := make(map[string]struct{}, len(base))
	out := append([]string{}, base...)
	for _, s := range base {
		seen[s] = struct{}{}
	}
	for _, s := range incoming {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Events returns the canonical set in insertion order.
func (d *Deduplicator) Events() []*models.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*models.Event{}, d.events...)
}

// TokenSortRatio is a token-order-insensitive similarity in [0, 1]:
// both strings are normalized, their tokens sorted and rejoined, and the
// result scored by Levenshtein distance over the longer length.
func TokenSortRatio(a, b string) float64 {
	as := tokenSort(a)
	bs := tokenSort(b)
	if as == bs {
		return 1
	}
	longer := len(as)
	if len(bs) > longer {
		longer = len(bs)
	}
	if longer == 0 {
		return 1
	}
	return 1 - float64(levenshtein(as, bs))/float64(longer)
}

func tokenSort(s string) string {
	tokens := strings.Fields(normalize.Key(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
