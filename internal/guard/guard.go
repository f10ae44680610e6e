// Package guard enforces the strict output contract on extractor
// candidates and decides between a validated event and an intentional
// drop. A drop is an expected, non-error outcome and is always carried
// with a reason so it can never be mistaken for a pipeline failure.
package guard

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"email-event-digest/internal/models"
	"email-event-digest/internal/normalize"
	"email-event-digest/internal/resolve"
)

// DropReason classifies why a candidate did not become an event.
type DropReason string

const (
	// DropNoEvent is the extractor's intentional abstention.
	DropNoEvent DropReason = "no_event"
	// DropMalformed marks extractor output that was neither the sentinel
	// nor a schema-shaped object.
	DropMalformed DropReason = "malformed_output"
	// DropNoDate means no calendar date could be resolved.
	DropNoDate DropReason = "no_date"
	// DropRecruiting marks dateless recruiting/ongoing-application text.
	DropRecruiting DropReason = "recruiting_no_date"
	// DropBadShape marks an unrecoverable shape violation.
	DropBadShape DropReason = "bad_shape"
)

// Outcome is the guardrail's two-variant result: exactly one of Event or
// Reason is set.
type Outcome struct {
	Event  *models.Event
	Reason DropReason
}

// Dropped reports whether the outcome is a drop.
func (o Outcome) Dropped() bool {
	return o.Event == nil
}

// Accept wraps a validated event.
func Accept(ev *models.Event) Outcome {
	return Outcome{Event: ev}
}

// Drop wraps a drop reason.
func Drop(reason DropReason) Outcome {
	return Outcome{Reason: reason}
}

var (
	dateShapeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeShapeRe = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

const maxTitleLen = 140

// Guard validates candidates against the output contract.
type Guard struct {
	validate   *validator.Validate
	recruiting []string
	categories map[string]struct{}
	cuisines   map[string]struct{}
	timezone   string
}

// New creates a Guard. recruitingPatterns downrank dateless candidates;
// categories and cuisines whitelist the extractor's labels.
func New(recruitingPatterns, categories, cuisines []string, timezone string) *Guard {
	g := &Guard{
		validate:   validator.New(),
		timezone:   timezone,
		categories: make(map[string]struct{}, len(categories)),
		cuisines:   make(map[string]struct{}, len(cuisines)),
	}
	for _, p := range recruitingPatterns {
		g.recruiting = append(g.recruiting, strings.ToLower(p))
	}
	for _, c := range categories {
		g.categories[strings.ToLower(c)] = struct{}{}
	}
	for _, c := range cuisines {
		g.cuisines[strings.ToLower(c)] = struct{}{}
	}
	return g
}

// Check assembles and validates an event from the extractor candidate,
// the resolver's output, and the source email. The resolver's date wins
// over the candidate's; a shape-valid candidate date is kept only when
// the resolver found nothing.
func (g *Guard) Check(cand *models.CandidateEvent, res resolve.Resolution, email models.EmailMessage) Outcome {
	date := res.Date
	if date == "" && cand.DateStart != nil && dateShapeRe.MatchString(*cand.DateStart) {
		date = *cand.DateStart
	}
	if date == "" {
		if g.looksLikeRecruiting(email.Subject + " " + email.Body) {
			return Drop(DropRecruiting)
		}
		return Drop(DropNoDate)
	}
	if !dateShapeRe.MatchString(date) {
		return Drop(DropBadShape)
	}

	title := normalize.Text(cand.Title)
	if title == "" || normalize.IsPlaceholder(title) {
		return Drop(DropBadShape)
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		title = strings.TrimSpace(string([]rune(title)[:maxTitleLen]))
	}

	timeStart, timeEnd := g.pickTimes(cand, res)

	listTag, _ := normalize.ListTag(email.Subject)
	var lists []string
	if listTag != "" {
		lists = []string{listTag}
	}

	ev := &models.Event{
		Title:            title,
		Organizer:        normalize.OptionalPtr(cand.Organizer),
		Contacts:         g.cleanContacts(cand.Contacts),
		DateStart:        date,
		TimeStart:        timeStart,
		TimeEnd:          timeEnd,
		Timezone:         g.timezone,
		Location:         normalize.OptionalPtr(cand.Location),
		Description:      normalize.OptionalPtr(cand.Description),
		URLs:             normalize.URLs(cand.URLs),
		FoodType:         normalize.OptionalPtr(cand.FoodType),
		FoodQuantityHint: normalize.OptionalPtr(cand.FoodQuantityHint),
		FoodCuisine:      g.allowLabel(cand.FoodCuisine, g.cuisines),
		Category:         g.allowLabel(cand.Category, g.categories),
		SourceMessageID:  email.ID,
		SourceSubject:    email.Subject,
		MailingLists:     lists,
	}

	if err := g.validate.Struct(ev); err != nil {
		return Drop(DropBadShape)
	}
	return Accept(ev)
}

// pickTimes prefers resolver times and falls back to shape-valid
// candidate times. The result is always absent, start-only, or an
// ordered pair.
func (g *Guard) pickTimes(cand *models.CandidateEvent, res resolve.Resolution) (*string, *string) {
	start, end := res.TimeStart, res.TimeEnd
	if start == nil && cand.TimeStart != nil && timeShapeRe.MatchString(*cand.TimeStart) {
		start = cand.TimeStart
		if cand.TimeEnd != nil && timeShapeRe.MatchString(*cand.TimeEnd) {
			end = cand.TimeEnd
		}
	}
	if start == nil {
		return nil, nil
	}
	if end != nil && *end <= *start {
		end = nil
	}
	return start, end
}

// cleanContacts drops placeholder names, invalidates malformed emails,
// and removes contacts with neither field left.
func (g *Guard) cleanContacts(contacts []models.Contact) []models.Contact {
	var out []models.Contact
	for _, c := range contacts {
		name := normalize.OptionalPtr(c.Name)
		email := normalize.OptionalPtr(c.Email)
		if email != nil && g.validate.Var(*email, "email") != nil {
			email = nil
		}
		if name == nil && email == nil {
			continue
		}
		out = append(out, models.Contact{Name: name, Email: email})
	}
	return out
}

// allowLabel keeps an extractor label only when it is in the configured
// whitelist; anything else becomes unset rather than a junk string.
func (g *Guard) allowLabel(label *string, allowed map[string]struct{}) *string {
	v := normalize.OptionalPtr(label)
	if v == nil {
		return nil
	}
	if _, ok := allowed[strings.ToLower(*v)]; !ok {
		return nil
	}
	return v
}

// looksLikeRecruiting reports whether text matches the configured
// recruiting/ongoing-application patterns.
func (g *Guard) looksLikeRecruiting(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range g.recruiting {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
