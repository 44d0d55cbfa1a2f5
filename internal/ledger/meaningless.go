package ledger

import (
	"regexp"
	"strings"
)

// genericVersions are placeholders that say nothing about the build
var genericVersions = map[string]bool{
	"latest":     true,
	"nightly":    true,
	"stable":     true,
	"beta":       true,
	"alpha":      true,
	"dev":        true,
	"debug":      true,
	"release":    true,
	"continuous": true,
	"snapshot":   true,
	"main":       true,
	"master":     true,
	"0.0.0":      true,
	"0":          true,
}

var (
	digitsNightly = regexp.MustCompile(`^\d+\.nightly$`)
	selfReference = regexp.MustCompile(`^(.+)-(nightly|beta|alpha|dev)\.(.+)$`)
)

// IsMeaningless reports whether a version string is a placeholder such as
// "nightly", or repeats itself around a channel keyword like
// "2.3.1-nightly.2.3.1".
func IsMeaningless(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	v = strings.TrimPrefix(v, "v")
	if v == "" || genericVersions[v] {
		return true
	}
	if digitsNightly.MatchString(v) {
		return true
	}
	if m := selfReference.FindStringSubmatch(v); m != nil && m[1] == m[3] {
		return true
	}
	return false
}
