package guardrail

import (
	"regexp"
	"strings"
)

// Patterns holds the deterministic rule sets, evaluated cheapest first.
type Patterns struct {
	// Blocked are lower-case substrings rejected outright.
	Blocked []string
	// Suspicious are lower-case substrings that send a query to moderation.
	Suspicious []string
	Injection  []*regexp.Regexp
	Allowlist  []*regexp.Regexp
	OffTopic   []*regexp.Regexp
}

var defaultBlocked = []string{
	"password", "passwd", "ssn", "social security", "credit card", "cvv",
	"private key", "api key", "token", "bearer token", "salary", "payroll", "medical record",
}

var defaultSuspicious = []string{
	"hack", "exploit", "bypass", "weapon", "bomb", "kill", "attack",
	"harass", "threat", "suicide", "drugs", "hate",
}

var defaultInjection = []string{
	`ignore (all|previous|earlier|these) instructions`,
	`disregard (your|the) (goal|rules|instructions)`,
	`forget (everything|what i said|your task)`,
	`you are now an? (assistant|model|agent) that`,
	`change your role`,
	`reveal (system|developer) prompt|show (hidden|internal) rules`,
}

var defaultAllowlist = []string{
	`\b(RFI|request for information|submittal|transmittal|spec(?:ification)?s?)\b`,
	`\b(drawing|sheet|detail|mark-?up|markup|plan check|permit)\b`,
	`\b(calc(?:ulation)?s?|spreadsheet|excel|log|register)\b`,
	`\b(ACI|ASCE|AISC|IBC|LATB(?:SDC)?|FEMA|NIST|OSHPD|DSA|LADBS)\b`,
	`\b(318-14|318-19|318-22|41-17|41-23|7-10|7-16|7-22)\b`,
	`\b(concrete|steel|seismic|shear|moment|drift|ductility|foundation|slab|wall|column|beam|girder|coupling beam|core)\b`,
	`\b(project|proposal|A250|scope|fee|RFQ|RFP)\b`,
	`\b(NYA|NYASE)\b`,
	`\b([A-Z]{2,}-\d{2,}|\d{4}-\d{3,})\b`,
}

var defaultOffTopic = []string{
	`\b(weather|forecast|news|headlines|stock|bitcoin|crypto|price|market|sports|nba|nfl|ipl)\b`,
	`\b(netflix|trailer|celebrity|horoscope|astrology|tarot)\b`,
	`\b(travel|flight|hotel|itinerary|visa interview date)\b`,
	`\b(poem|song|lyrics|rap|joke|story|fanfic|game|riddle|puzzle)\b`,
	`\b(translate|translation)\b`,
}

// DefaultPatterns returns the rule sets for the engineering request domain.
func DefaultPatterns() Patterns {
	return Patterns{
		Blocked:    append([]string(nil), defaultBlocked...),
		Suspicious: append([]string(nil), defaultSuspicious...),
		Injection:  MustCompile(defaultInjection...),
		Allowlist:  MustCompile(defaultAllowlist...),
		OffTopic:   MustCompile(defaultOffTopic...),
	}
}

// MustCompile compiles case-insensitive patterns.
func MustCompile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

var spaceRe = regexp.MustCompile(`\s+`)

// Normalize collapses whitespace and lower-cases; it is the cache key.
func Normalize(q string) string {
	return spaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(q)), " ")
}

func containsAny(s string, terms []string) (string, bool) {
	for _, t := range terms {
		if t != "" && strings.Contains(s, t) {
			return t, true
		}
	}
	return "", false
}

func matchAny(s string, res []*regexp.Regexp) (string, bool) {
	for _, re := range res {
		if m := re.FindString(s); m != "" {
			return m, true
		}
	}
	return "", false
}
