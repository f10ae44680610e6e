package gate

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-event-digest/internal/config"
)

func testConfig() config.GateConfig {
	return config.GateConfig{
		MinBodyLength:    100,
		ScoreThreshold:   2,
		Keywords:         []string{"event", "join us", "rsvp", "study break", "free food"},
		KeywordWeight:    1,
		SubjectBonus:     2,
		TimePatterns:     []string{`\b\d{1,2}(:\d{2})?\s*(am|pm)\b`, `\b(tonight|tomorrow|today)\b`},
		TimeWeight:       1,
		LocationKeywords: []string{"room", "hall", "jcr", "d-hall"},
		LocationWeight:   1,
		MaxCallsPerRun:   3,
	}
}

func pad(s string) string {
	return s + " " + strings.Repeat("lorem ipsum ", 20)
}

func TestScoreWeights(t *testing.T) {
	g, err := New(testConfig())
	require.NoError(t, err)

	// Subject keyword earns the bonus
	assert.Equal(t, 3, g.Score("Spring Event", "nothing else here"))

	// Body keyword earns the base weight only
	assert.Equal(t, 1, g.Score("hello", "please rsvp by friday"))

	// Keyword + time + location stack; only the first keyword hit counts
	score := g.Score("Study Break!", "join us tonight at 8pm in the JCR")
	assert.Equal(t, 3, score)

	// No signal at all
	assert.Equal(t, 0, g.Score("minutes", "attached are last week's meeting notes"))
}

func TestShouldExtract(t *testing.T) {
	g, err := New(testConfig())
	require.NoError(t, err)

	// Scoring email with a full body passes
	assert.True(t, g.ShouldExtract("Study Break!", pad("join us tonight at 8pm in the JCR")))

	// Too-short body never passes, whatever the score
	assert.False(t, g.ShouldExtract("Study Break!", "join us tonight at 8pm"))

	// Below the score threshold
	assert.False(t, g.ShouldExtract("weekly digest", pad("assorted campus announcements with no particulars")))

	// A short footer-only unsubscribe blast is filtered
	footer := "you are receiving this because you are subscribed to the mailing list. " +
		"to unsubscribe visit the list page. rsvp archives available online."
	assert.False(t, g.ShouldExtract("list admin notice", footer))
}

func TestBudget(t *testing.T) {
	g, err := New(testConfig())
	require.NoError(t, err)

	assert.Equal(t, 3, g.Remaining())
	assert.True(t, g.TryAcquire())
	assert.True(t, g.TryAcquire())
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
	assert.Equal(t, 0, g.Remaining())

	g.Reset()
	assert.Equal(t, 3, g.Remaining())
	assert.True(t, g.TryAcquire())
}

func TestBudgetConcurrentAcquire(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCallsPerRun = 10
	g, err := New(cfg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.Equal(t, 0, g.Remaining())
}

func TestInvalidTimePattern(t *testing.T) {
	cfg := testConfig()
	cfg.TimePatterns = []string{"("}
	_, err := New(cfg)
	assert.Error(t, err)
}
