// Package ledger maintains the deduplicated, newest-first version history of
// a catalog entry.
package ledger

import (
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/ralt/altsource/internal/models"
)

// Merge prepends incoming to existing, removes duplicates and returns the
// result sorted newest first. Neither input is modified.
//
// Records sharing a content hash collapse to one, preferring a meaningful
// version string. Survivors then collapse by version string, first seen wins.
func Merge(existing []models.VersionRecord, incoming models.VersionRecord) []models.VersionRecord {
	all := make([]models.VersionRecord, 0, len(existing)+1)
	all = append(all, incoming)
	all = append(all, existing...)

	merged := dedupeByVersion(dedupeByHash(all))
	Sort(merged)
	return merged
}

func dedupeByHash(records []models.VersionRecord) []models.VersionRecord {
	out := make([]models.VersionRecord, 0, len(records))
	index := make(map[string]int)

	for _, r := range records {
		if r.SHA256 == "" {
			out = append(out, r)
			continue
		}
		i, seen := index[r.SHA256]
		if !seen {
			index[r.SHA256] = len(out)
			out = append(out, r)
			continue
		}
		if IsMeaningless(out[i].Version) && !IsMeaningless(r.Version) {
			out[i] = r
		}
	}
	return out
}

func dedupeByVersion(records []models.VersionRecord) []models.VersionRecord {
	out := make([]models.VersionRecord, 0, len(records))
	seen := make(map[string]bool)

	for _, r := range records {
		if seen[r.Version] {
			continue
		}
		seen[r.Version] = true
		out = append(out, r)
	}
	return out
}

// Sort orders records by date descending. Same-day records fall back to
// semantic version order, then the raw strings, so the result never depends
// on input order.
func Sort(records []models.VersionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if c := compareVersions(a.Version, b.Version); c != 0 {
			return c > 0
		}
		if a.Version != b.Version {
			return a.Version > b.Version
		}
		return a.SHA256 > b.SHA256
	})
}

// compareVersions compares two version strings semantically. Unparseable
// strings compare equal so the caller falls through to the next key.
func compareVersions(a, b string) int {
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// SameVersion reports whether two version strings name the same release,
// ignoring a leading "v" and trailing zero segments ("v1.2" and "1.2.0").
func SameVersion(a, b string) bool {
	a, b = trimV(a), trimV(b)
	if a == b {
		return true
	}
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	if errA != nil || errB != nil {
		return false
	}
	return va.Equal(vb)
}

func trimV(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') {
		return v[1:]
	}
	return v
}
