// Package resolve turns relative and partial date/time language into
// concrete calendar dates and 24-hour times, measured against an anchor
// timestamp (the email's received time in the engine's fixed timezone).
//
// The grammar is deliberately small with explicit precedence: an explicit
// date beats a weekday name, which beats a relative term; an explicit
// meridiem beats contextual inference, which beats unset. Resolution
// never fails; an unresolvable date is signaled by an empty Date and is
// the caller's drop trigger.
package resolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Explicitness levels for date candidates, highest wins on fallback.
const (
	explicitRelative = iota
	explicitWeekday
	explicitMonthDay
	explicitFull
)

var (
	relativeRe = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow)\b`)
	weekdayRe  = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	monthDayRe = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s*(\d{4}))?\b`)
	numericRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	isoRe      = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

	timeRangeRe  = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\s*(?:-|to|until)\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	timeSingleRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)

	pmContextRe = regexp.MustCompile(`(?i)\b(tonight|evening|late)\b`)
	amContextRe = regexp.MustCompile(`(?i)\b(morning|breakfast)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Resolution is the outcome of resolving one text against an anchor.
// Date is empty when nothing resolved; times are nil when absent, which
// is not an error condition.
type Resolution struct {
	Date      string // YYYY-MM-DD
	TimeStart *string
	TimeEnd   *string
}

// Resolver resolves relative/partial dates and 12h/24h time ranges.
type Resolver struct {
	loc           *time.Location
	pastGraceDays int
}

// New creates a Resolver anchored to loc. pastGraceDays is how far in the
// past a year-less month/day may land before it rolls to the next year.
func New(loc *time.Location, pastGraceDays int) *Resolver {
	if pastGraceDays <= 0 {
		pastGraceDays = 90
	}
	return &Resolver{loc: loc, pastGraceDays: pastGraceDays}
}

// Resolve extracts a calendar date and optional time range from text,
// using anchor as the reference for relative language.
func (r *Resolver) Resolve(text string, anchor time.Time) Resolution {
	anchor = anchor.In(r.loc)
	res := Resolution{Date: r.resolveDate(text, anchor)}
	res.TimeStart, res.TimeEnd = r.resolveTimes(text)
	return res
}

type dateCandidate struct {
	date         time.Time
	explicitness int
}

// resolveDate finds all date candidates and picks the earliest one that
// is on or after the anchor date. When every candidate is in the past it
// falls back to the most fully-specified candidate found.
func (r *Resolver) resolveDate(text string, anchor time.Time) string {
	anchorDate := truncateToDay(anchor)
	var candidates []dateCandidate

	for _, m := range isoRe.FindAllStringSubmatch(text, -1) {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if dt, ok := r.makeDate(y, time.Month(mo), d); ok {
			candidates = append(candidates, dateCandidate{dt, explicitFull})
		}
	}

	for _, m := range numericRe.FindAllStringSubmatch(text, -1) {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		if m[3] != "" {
			y, _ := strconv.Atoi(m[3])
			if y < 100 {
				y += 2000
			}
			if dt, ok := r.makeDate(y, time.Month(mo), d); ok {
				candidates = append(candidates, dateCandidate{dt, explicitFull})
			}
			continue
		}
		if dt, ok := r.inferYear(time.Month(mo), d, anchorDate); ok {
			candidates = append(candidates, dateCandidate{dt, explicitMonthDay})
		}
	}

	for _, m := range monthDayRe.FindAllStringSubmatch(text, -1) {
		mo, ok := months[strings.ToLower(m[1])[:3]]
		if !ok {
			continue
		}
		d, _ := strconv.Atoi(m[2])
		if m[3] != "" {
			y, _ := strconv.Atoi(m[3])
			if dt, ok := r.makeDate(y, mo, d); ok {
				candidates = append(candidates, dateCandidate{dt, explicitFull})
			}
			continue
		}
		if dt, ok := r.inferYear(mo, d, anchorDate); ok {
			candidates = append(candidates, dateCandidate{dt, explicitMonthDay})
		}
	}

	for _, m := range weekdayRe.FindAllStringSubmatch(text, -1) {
		wd := weekdays[strings.ToLower(m[1])]
		// Next occurrence on or after the anchor; the anchor's own
		// weekday counts as the occurrence.
		delta := (int(wd) - int(anchorDate.Weekday()) + 7) % 7
		candidates = append(candidates, dateCandidate{anchorDate.AddDate(0, 0, delta), explicitWeekday})
	}

	for _, m := range relativeRe.FindAllStringSubmatch(text, -1) {
		switch strings.ToLower(m[1]) {
		case "today", "tonight":
			candidates = append(candidates, dateCandidate{anchorDate, explicitRelative})
		case "tomorrow":
			candidates = append(candidates, dateCandidate{anchorDate.AddDate(0, 0, 1), explicitRelative})
		}
	}

	if len(candidates) == 0 {
		return ""
	}

	var best *dateCandidate
	for i := range candidates {
		c := &candidates[i]
		if c.date.Before(anchorDate) {
			continue
		}
		if best == nil || c.date.Before(best.date) {
			best = c
		}
	}
	if best == nil {
		// Nothing future-or-present; keep the most explicit candidate.
		best = &candidates[0]
		for i := range candidates {
			if candidates[i].explicitness > best.explicitness {
				best = &candidates[i]
			}
		}
	}
	return best.date.Format("2006-01-02")
}

// inferYear places a year-less month/day in the anchor's year, rolling
// forward to the next year when the result lands more than the grace
// window in the past.
func (r *Resolver) inferYear(mo time.Month, d int, anchorDate time.Time) (time.Time, bool) {
	dt, ok := r.makeDate(anchorDate.Year(), mo, d)
	if !ok {
		return time.Time{}, false
	}
	if anchorDate.Sub(dt) > time.Duration(r.pastGraceDays)*24*time.Hour {
		dt, ok = r.makeDate(anchorDate.Year()+1, mo, d)
	}
	return dt, ok
}

// makeDate builds a calendar-valid date; overflow like Feb 30 is rejected
// rather than normalized.
func (r *Resolver) makeDate(y int, mo time.Month, d int) (time.Time, bool) {
	if d < 1 || d > 31 || mo < time.January || mo > time.December {
		return time.Time{}, false
	}
	dt := time.Date(y, mo, d, 0, 0, 0, 0, r.loc)
	if dt.Month() != mo || dt.Day() != d {
		return time.Time{}, false
	}
	return dt, true
}

// resolveTimes extracts a start and optional end time. Date-like tokens
// are blanked out first so "2025-09-18" is never misread as a range.
func (r *Resolver) resolveTimes(text string) (*string, *string) {
	scrubbed := isoRe.ReplaceAllString(text, " ")
	scrubbed = numericRe.ReplaceAllString(scrubbed, " ")

	for _, m := range timeRangeRe.FindAllStringSubmatch(scrubbed, -1) {
		if start, end := r.resolveRange(m, text); start != nil {
			return start, end
		}
	}

	for _, m := range timeSingleRe.FindAllStringSubmatch(scrubbed, -1) {
		start, ok := toClock(m[1], m[2], meridiemFor(m[3], text))
		if !ok {
			continue
		}
		return &start, nil
	}
	return nil, nil
}

// resolveRange applies meridiem sharing and contextual inference to a
// matched start/end token pair.
func (r *Resolver) resolveRange(m []string, context string) (*string, *string) {
	startMer, endMer := strings.ToLower(m[3]), strings.ToLower(m[6])

	// One stated meridiem covers both ends.
	if startMer == "" && endMer != "" {
		startMer = endMer
	}
	if endMer == "" && startMer != "" {
		endMer = startMer
	}
	if startMer == "" {
		inferred := contextMeridiem(context)
		if inferred == "" {
			// No cue at all: refuse to guess.
			return nil, nil
		}
		startMer, endMer = inferred, inferred
	}

	start, okS := toClock(m[1], m[2], startMer)
	end, okE := toClock(m[4], m[5], endMer)
	if !okS {
		return nil, nil
	}
	if !okE || end <= start {
		return &start, nil
	}
	return &start, &end
}

// meridiemFor resolves a token's meridiem: stated beats context, and a
// bare number with no cue stays unresolved.
func meridiemFor(stated, context string) string {
	if stated != "" {
		return strings.ToLower(stated)
	}
	return contextMeridiem(context)
}

func contextMeridiem(text string) string {
	if pmContextRe.MatchString(text) {
		return "pm"
	}
	if amContextRe.MatchString(text) {
		return "am"
	}
	return ""
}

// toClock converts hour/minute strings plus a meridiem into HH:MM 24h.
// A bare number with an empty meridiem only converts when it already
// reads as a 24-hour time with stated minutes.
func toClock(hourStr, minStr, meridiem string) (string, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return "", false
	}
	minute := 0
	if minStr != "" {
		minute, err = strconv.Atoi(minStr)
		if err != nil {
			return "", false
		}
	}
	if minute > 59 {
		return "", false
	}

	switch meridiem {
	case "am":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		// Unambiguous only as an explicit 24-hour clock reading.
		if minStr == "" || hour > 23 {
			return "", false
		}
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
