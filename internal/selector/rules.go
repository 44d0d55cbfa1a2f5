package selector

import (
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	exactMatchBonus       = 100.0
	candidateContainsName = 40.0
	nameContainsCandidate = 25.0
	tokenOverlapWeight    = 50.0
	surpriseTokenPenalty  = 15.0
	charSimilarityWeight  = 10.0
)

var (
	nonAlnum     = regexp.MustCompile(`[^a-z0-9]+`)
	versionToken = regexp.MustCompile(`^v?\d+[a-z]?$`)
)

// Rule is one scoring contribution. Rules are summed in order.
type Rule struct {
	Name  string
	Score func(candidate, target *subject) float64
}

// subject is a filename or declared name in the forms the rules compare
type subject struct {
	raw        string
	normalized string
	tokens     map[string]bool
}

func newSubject(raw, extension string) *subject {
	stem := raw
	if extension != "" && strings.HasSuffix(strings.ToLower(stem), extension) {
		stem = stem[:len(stem)-len(extension)]
	}
	lower := strings.ToLower(stem)
	return &subject{
		raw:        raw,
		normalized: nonAlnum.ReplaceAllString(lower, ""),
		tokens:     tokenize(lower, extension),
	}
}

// tokenize splits into alphanumeric runs, dropping version numbers and the format token
func tokenize(s, extension string) map[string]bool {
	format := strings.TrimPrefix(extension, ".")
	tokens := make(map[string]bool)
	for _, t := range nonAlnum.Split(s, -1) {
		if t == "" || t == format || t == "ipa" || versionToken.MatchString(t) {
			continue
		}
		tokens[t] = true
	}
	return tokens
}

// DefaultRules returns the scoring rules in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		{Name: "exact", Score: scoreExact},
		{Name: "containment", Score: scoreContainment},
		{Name: "tokens", Score: scoreTokens},
		{Name: "characters", Score: scoreCharacters},
	}
}

func scoreExact(c, t *subject) float64 {
	if c.normalized != "" && c.normalized == t.normalized {
		return exactMatchBonus
	}
	return 0
}

func scoreContainment(c, t *subject) float64 {
	if c.normalized == "" || t.normalized == "" || c.normalized == t.normalized {
		return 0
	}
	switch {
	case strings.Contains(c.normalized, t.normalized):
		return candidateContainsName
	case strings.Contains(t.normalized, c.normalized):
		return nameContainsCandidate
	}
	return 0
}

// scoreTokens adds the Jaccard index of the token sets and subtracts a
// penalty for every candidate token the declared name does not mention.
func scoreTokens(c, t *subject) float64 {
	if len(c.tokens) == 0 && len(t.tokens) == 0 {
		return 0
	}

	shared, surprise := 0, 0
	for tok := range c.tokens {
		if t.tokens[tok] {
			shared++
		} else {
			surprise++
		}
	}
	union := len(c.tokens) + len(t.tokens) - shared

	score := 0.0
	if union > 0 {
		score = tokenOverlapWeight * float64(shared) / float64(union)
	}
	return score - surpriseTokenPenalty*float64(surprise)
}

func scoreCharacters(c, t *subject) float64 {
	longest := max(len(c.normalized), len(t.normalized))
	if longest == 0 {
		return 0
	}
	dmp := diffmatchpatch.New()
	distance := dmp.DiffLevenshtein(dmp.DiffMain(c.normalized, t.normalized, false))
	return charSimilarityWeight * (1 - float64(distance)/float64(longest))
}
