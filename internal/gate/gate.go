// Package gate is the cheap pre-extraction filter: a weighted pattern
// score decides whether an email is worth an extractor call at all, and
// a shared per-run budget caps how many calls a batch may spend. Budget
// exhaustion defers emails instead of dropping them.
package gate

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"email-event-digest/internal/config"
	"email-event-digest/internal/normalize"
)

// Gate scores emails for event-likeness and meters extractor calls.
type Gate struct {
	cfg     config.GateConfig
	timeRes []*regexp.Regexp
	mu      sync.Mutex
	used    int
}

// New compiles the configured time patterns and returns a ready gate.
func New(cfg config.GateConfig) (*Gate, error) {
	g := &Gate{cfg: cfg}
	for _, p := range cfg.TimePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid gate time pattern %q: %w", p, err)
		}
		g.timeRes = append(g.timeRes, re)
	}
	return g, nil
}

// Score computes the weighted pattern score for an email. Keyword hits in
// the subject earn a bonus on top of the keyword weight since mailing
// list subjects are the more reliable signal.
func (g *Gate) Score(subject, body string) int {
	subjectKey := normalize.Key(subject)
	bodyKey := normalize.Key(body)
	score := 0

	for _, kw := range g.cfg.Keywords {
		k := strings.ToLower(kw)
		if strings.Contains(subjectKey, k) {
			score += g.cfg.KeywordWeight + g.cfg.SubjectBonus
			break
		}
		if strings.Contains(bodyKey, k) {
			score += g.cfg.KeywordWeight
			break
		}
	}

	for _, re := range g.timeRes {
		if re.MatchString(bodyKey) || re.MatchString(subjectKey) {
			score += g.cfg.TimeWeight
			break
		}
	}

	for _, kw := range g.cfg.LocationKeywords {
		if strings.Contains(bodyKey, strings.ToLower(kw)) {
			score += g.cfg.LocationWeight
			break
		}
	}

	return score
}

// ShouldExtract decides whether an email passes the likelihood gate.
// Short bodies that are nothing but a mailing-list footer never pass.
func (g *Gate) ShouldExtract(subject, body string) bool {
	normalized := normalize.Key(body)
	if len(normalized) < g.cfg.MinBodyLength {
		return false
	}
	if len(normalized) < 2*g.cfg.MinBodyLength && strings.Contains(normalized, "mailing list") &&
		!strings.Contains(normalize.Key(subject), "event") {
		return false
	}
	return g.Score(subject, body) >= g.cfg.ScoreThreshold
}

// TryAcquire consumes one unit of the shared per-run call budget.
// It returns false once the budget is exhausted; callers must then defer
// the email to a future run rather than dropping it.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used >= g.cfg.MaxCallsPerRun {
		return false
	}
	g.used++
	return true
}

// Remaining reports how much budget is left in the current run.
func (g *Gate) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if left := g.cfg.MaxCallsPerRun - g.used; left > 0 {
		return left
	}
	return 0
}

// Reset restores the full budget at the start of a run.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.used = 0
}
