// Package normalize provides the text and URL canonicalization applied
// before and after extraction. All transforms are pure and never fail;
// unparseable input degrades to the unset marker (nil) or an empty list.
package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	fancyDashRe  = regexp.MustCompile(`[\x{2013}\x{2014}]`) // en dash, em dash
	whitespaceRe = regexp.MustCompile(`\s+`)
	schemeRe     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
	domainLikeRe = regexp.MustCompile(`^[\w.-]+\.[a-zA-Z]{2,}(/.*)?$`)
	trackingRe   = regexp.MustCompile(`[?&](utm_[^&]*|fbclid|gclid|ref)=[^&]*`)
	trailingSep  = regexp.MustCompile(`[?&]$`)
	listTagRe    = regexp.MustCompile(`^\[([^\]]+)\]\s*(.*)$`)
	fwdListTagRe = regexp.MustCompile(`\[([^\]]+)\]`)
)

// Placeholder values the extractor emits for absent fields.
var placeholders = map[string]struct{}{
	"":     {},
	"tbd":  {},
	"n/a":  {},
	"-":    {},
	"null": {},
	"none": {},
}

// Text canonicalizes free text: trims, replaces en/em dashes with "-",
// and collapses repeated interior whitespace to single spaces.
func Text(s string) string {
	s = fancyDashRe.ReplaceAllString(s, "-")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Key produces a casefolded comparison key for dedupe keys and learned
// tokens: NFKC normalization, lowercase, collapsed whitespace.
func Key(s string) string {
	s = norm.NFKC.String(s)
	return Text(strings.ToLower(s))
}

// IsPlaceholder reports whether s is one of the literal placeholder
// values that stand in for an absent field.
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Optional canonicalizes s and maps placeholder values to the explicit
// unset marker (nil).
func Optional(s string) *string {
	if IsPlaceholder(s) {
		return nil
	}
	t := Text(s)
	if t == "" {
		return nil
	}
	return &t
}

// OptionalPtr is Optional lifted over an already-optional input.
func OptionalPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return Optional(*s)
}

// URL normalizes a single URL-ish string. A scheme-prefixed string passes
// through (minus tracking parameters); a domain-like string is rewritten
// with an https:// prefix; anything else is unset. The second return is
// false when the input does not normalize to a usable URL.
func URL(u string) (string, bool) {
	u = strings.TrimSpace(u)
	if u == "" || IsPlaceholder(u) {
		return "", false
	}
	if !schemeRe.MatchString(u) {
		if !domainLikeRe.MatchString(u) {
			return "", false
		}
		u = "https://" + u
	}
	u = trackingRe.ReplaceAllString(u, "")
	u = trailingSep.ReplaceAllString(u, "")
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	return u, true
}

// URLs normalizes a list of URLs, preserving first-seen order, dropping
// entries without a network-authority component, and removing exact
// duplicates.
func URLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, u := range urls {
		v, ok := URL(u)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// MergeURLs unions two URL lists, keeping the base list's order and
// appending unseen entries from the incoming list in their order.
func MergeURLs(base, incoming []string) []string {
	return URLs(append(append([]string{}, base...), incoming...))
}

// ListTag extracts a mailing-list tag from a "[TAG] subject" prefix,
// handling Fwd:/Re: wrappers. Returns the tag and the subject with the
// tag and wrapper removed; the tag is empty when no tag is present.
func ListTag(subject string) (string, string) {
	subject = strings.TrimSpace(subject)
	trimmed := subject
	for {
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "fwd:") {
			trimmed = strings.TrimSpace(trimmed[4:])
			continue
		}
		if strings.HasPrefix(lower, "re:") {
			trimmed = strings.TrimSpace(trimmed[3:])
			continue
		}
		break
	}
	if m := listTagRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	// Forwarded subjects sometimes bury the tag mid-string.
	if trimmed != subject {
		if m := fwdListTagRe.FindStringSubmatch(trimmed); m != nil {
			clean := strings.TrimSpace(strings.Replace(trimmed, m[0], "", 1))
			return strings.TrimSpace(m[1]), clean
		}
	}
	return "", trimmed
}
