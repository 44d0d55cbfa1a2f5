// Package selector picks the one asset that best represents a package
// among the binaries an upstream release or CI run offers.
package selector

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ralt/altsource/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoCandidates is returned when nothing carries the expected extension
	ErrNoCandidates = errors.New("no candidate assets")
	// ErrLowConfidence is returned when the best heuristic score is under MinScore
	ErrLowConfidence = errors.New("no confident asset match")
)

// DefaultMinScore is the low-water mark under which a heuristic winner is rejected
const DefaultMinScore = 15.0

// Hints carries what the maintainer declared about the package
type Hints struct {
	Name     string
	Override string
}

// Selector scores candidate assets against the declared package name
type Selector struct {
	Extension string
	MinScore  float64
	Rules     []Rule
}

// New creates a selector filtering on extension (empty keeps every candidate)
func New(extension string) *Selector {
	return &Selector{
		Extension: strings.ToLower(extension),
		MinScore:  DefaultMinScore,
		Rules:     DefaultRules(),
	}
}

// Scored is a candidate together with its total and per-rule scores
type Scored struct {
	Asset  models.Asset
	Total  float64
	ByRule map[string]float64
}

// Select returns the asset that best represents the package
func (s *Selector) Select(candidates []models.Asset, hints Hints) (models.Asset, error) {
	filtered := s.filter(candidates)
	if len(filtered) == 0 {
		return models.Asset{}, ErrNoCandidates
	}

	if override := s.matchOverride(filtered, hints.Override); len(override) > 0 {
		if len(override) == 1 {
			return override[0], nil
		}
		return s.Rank(override, hints.Name)[0].Asset, nil
	}

	if len(filtered) == 1 {
		return filtered[0], nil
	}

	ranked := s.Rank(filtered, hints.Name)
	best := ranked[0]
	logrus.Debugf("Selected %s for %s with score %.1f", best.Asset.Name, hints.Name, best.Total)
	if best.Total < s.MinScore {
		return models.Asset{}, fmt.Errorf("%w: best candidate %s scored %.1f", ErrLowConfidence, best.Asset.Name, best.Total)
	}
	return best.Asset, nil
}

// Rank scores every candidate and orders them best first. Ties break on the
// shorter filename, then lexicographically.
func (s *Selector) Rank(candidates []models.Asset, name string) []Scored {
	target := newSubject(name, s.Extension)

	scored := make([]Scored, 0, len(candidates))
	for _, a := range candidates {
		c := newSubject(a.Name, s.Extension)
		entry := Scored{Asset: a, ByRule: make(map[string]float64, len(s.Rules))}
		for _, rule := range s.Rules {
			v := rule.Score(c, target)
			entry.ByRule[rule.Name] = v
			entry.Total += v
		}
		scored = append(scored, entry)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if len(a.Asset.Name) != len(b.Asset.Name) {
			return len(a.Asset.Name) < len(b.Asset.Name)
		}
		return a.Asset.Name < b.Asset.Name
	})
	return scored
}

func (s *Selector) filter(candidates []models.Asset) []models.Asset {
	if s.Extension == "" {
		return candidates
	}
	var out []models.Asset
	for _, a := range candidates {
		if strings.HasSuffix(strings.ToLower(a.Name), s.Extension) {
			out = append(out, a)
		}
	}
	return out
}

// matchOverride returns the candidates matching the override pattern. An
// invalid pattern is logged and ignored.
func (s *Selector) matchOverride(candidates []models.Asset, pattern string) []models.Asset {
	pattern = models.CleanOptional(pattern)
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logrus.Warnf("Ignoring invalid asset pattern %q: %v", pattern, err)
		return nil
	}

	var out []models.Asset
	for _, a := range candidates {
		if re.MatchString(a.Name) {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		logrus.Warnf("Asset pattern %q matched nothing, falling back to name scoring", pattern)
	}
	return out
}
