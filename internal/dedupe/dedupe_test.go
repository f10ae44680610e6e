package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-event-digest/internal/config"
	"email-event-digest/internal/models"
)

func strPtr(s string) *string { return &s }

func testConfig() config.DedupeConfig {
	return config.DedupeConfig{Similarity: 0.85, WindowDays: 1}
}

func TestKeyNormalizesComponents(t *testing.T) {
	a := Key("Resume Review Table", "2025-09-18", strPtr("21:00"), strPtr("Upper  D-Hall"))
	b := Key("  RESUME   review table ", "2025-09-18", strPtr("21:00"), strPtr("upper d-hall"))
	c := Key("Resume Review Table", "2025-09-19", strPtr("21:00"), strPtr("upper d-hall"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAddExactDuplicateMerges(t *testing.T) {
	d := New(testConfig())

	first := &models.Event{
		Title:        "Resume Review Table",
		DateStart:    "2025-09-18",
		TimeStart:    strPtr("21:00"),
		Location:     strPtr("upper d-hall"),
		URLs:         []string{"https://example.com/a"},
		MailingLists: []string{"pfoho-open"},
	}
	canonical, merged := d.Add(first)
	assert.False(t, merged)
	assert.Same(t, first, canonical)

	second := &models.Event{
		Title:        "resume review table",
		DateStart:    "2025-09-18",
		TimeStart:    strPtr("21:00"),
		TimeEnd:      strPtr("22:00"),
		Location:     strPtr("Upper D-Hall"),
		URLs:         []string{"https://example.com/b", "https://example.com/a"},
		MailingLists: []string{"pfoho-open", "eliot-list"},
		Organizer:    strPtr("House Committee"),
	}
	canonical, merged = d.Add(second)
	assert.True(t, merged)
	assert.Same(t, first, canonical)

	// URL and list union, unset-only backfill
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, canonical.URLs)
	assert.Equal(t, []string{"pfoho-open", "eliot-list"}, canonical.MailingLists)
	assert.Equal(t, "House Committee", *canonical.Organizer)
	// Same start time lets the end time backfill
	require.NotNil(t, canonical.TimeEnd)
	assert.Equal(t, "22:00", *canonical.TimeEnd)

	assert.Len(t, d.Events(), 1)
}

func TestMergeNeverOverwrites(t *testing.T) {
	d := New(testConfig())

	first := &models.Event{
		Title:     "Game Night",
		DateStart: "2025-09-20",
		Location:  strPtr("JCR"),
	}
	d.Add(first)

	second := &models.Event{
		Title:     "Game Night",
		DateStart: "2025-09-20",
		Location:  strPtr("JCR"),
		TimeStart: strPtr("19:00"),
	}
	canonical, merged := d.Add(second)
	assert.True(t, merged)
	assert.Equal(t, "JCR", *canonical.Location)
	// Unset start time backfills
	require.NotNil(t, canonical.TimeStart)
	assert.Equal(t, "19:00", *canonical.TimeStart)
}

func TestAddFuzzyDuplicateWithinWindow(t *testing.T) {
	d := New(testConfig())

	first := &models.Event{
		Title:     "Annual Fall Career Fair",
		DateStart: "2025-09-18",
	}
	d.Add(first)

	// Reordered title, one day off: still the same event
	second := &models.Event{
		Title:     "Fall Career Fair Annual",
		DateStart: "2025-09-19",
	}
	canonical, merged := d.Add(second)
	assert.True(t, merged)
	assert.Same(t, first, canonical)
}

func TestAddOutsideDateWindowIsDistinct(t *testing.T) {
	d := New(testConfig())

	d.Add(&models.Event{Title: "Weekly Study Break", DateStart: "2025-09-18"})
	_, merged := d.Add(&models.Event{Title: "Weekly Study Break", DateStart: "2025-09-25", TimeStart: strPtr("20:00")})

	assert.False(t, merged)
	assert.Len(t, d.Events(), 2)
}

func TestConflictingLocationsStayDistinct(t *testing.T) {
	d := New(testConfig())

	d.Add(&models.Event{Title: "Office Hours", DateStart: "2025-09-18", Location: strPtr("Sever 113")})
	_, merged := d.Add(&models.Event{Title: "Office Hours", DateStart: "2025-09-18", Location: strPtr("Science Center B")})

	assert.False(t, merged)
	assert.Len(t, d.Events(), 2)
}

func TestSeedDedupesAgainstPersistedEvents(t *testing.T) {
	d := New(testConfig())

	persisted := models.Event{
		ID:        42,
		Title:     "Resume Review Table",
		DateStart: "2025-09-18",
		TimeStart: strPtr("21:00"),
		Location:  strPtr("upper d-hall"),
	}
	d.Seed([]models.Event{persisted})

	incoming := &models.Event{
		Title:     "Resume Review Table",
		DateStart: "2025-09-18",
		TimeStart: strPtr("21:00"),
		Location:  strPtr("upper d-hall"),
	}
	canonical, merged := d.Add(incoming)
	assert.True(t, merged)
	assert.Equal(t, uint(42), canonical.ID)
}

func TestTokenSortRatio(t *testing.T) {
	assert.Equal(t, 1.0, TokenSortRatio("Fall Career Fair", "career fair FALL"))
	assert.Equal(t, 1.0, TokenSortRatio("", ""))

	high := TokenSortRatio("Resume Review Table", "Resume Review Tables")
	assert.Greater(t, high, 0.9)

	low := TokenSortRatio("Resume Review Table", "Organic Chemistry Midterm")
	assert.Less(t, low, 0.5)
}
