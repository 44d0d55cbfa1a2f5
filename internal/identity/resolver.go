// Package identity derives per-variant bundle identifiers so that several
// builds of one upstream project never collide on a device.
package identity

import (
	"regexp"
	"strings"
)

// Keyword is a variant marker and the display-name tokens that select it
type Keyword struct {
	Suffix  string
	Aliases []string
}

// Keywords is the canonical suffix order. Suffixes are always appended in
// this order regardless of where they appear in the display name.
var Keywords = []Keyword{
	{Suffix: "nightly", Aliases: []string{"nightly"}},
	{Suffix: "beta", Aliases: []string{"beta"}},
	{Suffix: "alpha", Aliases: []string{"alpha"}},
	{Suffix: "dev", Aliases: []string{"dev", "development"}},
	{Suffix: "preview", Aliases: []string{"preview", "prerelease"}},
	{Suffix: "experimental", Aliases: []string{"experimental"}},
	{Suffix: "hv", Aliases: []string{"hv", "hypervisor"}},
	{Suffix: "jit", Aliases: []string{"jit"}},
	{Suffix: "se", Aliases: []string{"se"}},
	{Suffix: "trollstore", Aliases: []string{"trollstore"}},
	{Suffix: "sideload", Aliases: []string{"sideload", "sideloading", "sideloaded"}},
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Resolution is the outcome of deriving a variant identifier
type Resolution struct {
	Identifier string
	Suffixes   []string
	// Repackage is true when the binary's embedded identifier must be rewritten
	Repackage bool
}

// Normalize lowercases s and strips everything but letters and digits
func Normalize(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

// Resolve derives the final identifier for displayName from the binary's
// base identifier and the upstream project name.
func Resolve(base, displayName, repoName string) Resolution {
	res := Resolution{Identifier: base}

	components := make(map[string]bool)
	for _, c := range strings.Split(strings.ToLower(base), ".") {
		components[c] = true
	}

	for _, suffix := range Suffixes(displayName, repoName) {
		res.Suffixes = append(res.Suffixes, suffix)
		if components[suffix] {
			continue
		}
		res.Identifier += "." + suffix
		components[suffix] = true
	}

	res.Repackage = res.Identifier != base
	return res
}

// Suffixes returns the variant suffixes displayName calls for, in canonical
// order. Nothing is returned when the display name is the project name.
func Suffixes(displayName, repoName string) []string {
	if Normalize(displayName) == Normalize(repoName) {
		return nil
	}

	nameTokens := tokens(displayName)
	repoTokens := tokens(repoName)

	var out []string
	for _, kw := range Keywords {
		for _, alias := range kw.Aliases {
			if nameTokens[alias] && !repoTokens[alias] {
				out = append(out, kw.Suffix)
				break
			}
		}
	}
	return out
}

// PendingCorrection reports whether identifier is missing a suffix the
// display name calls for, meaning an earlier repackaging did not happen.
func PendingCorrection(identifier, displayName, repoName string) bool {
	components := make(map[string]bool)
	for _, c := range strings.Split(strings.ToLower(identifier), ".") {
		components[c] = true
	}
	for _, suffix := range Suffixes(displayName, repoName) {
		if !components[suffix] {
			return true
		}
	}
	return false
}

// tokens splits s into lowercase alphanumeric runs. Adjacent pairs are also
// joined so that "pre-release" yields "prerelease".
func tokens(s string) map[string]bool {
	parts := nonAlnum.Split(strings.ToLower(s), -1)
	set := make(map[string]bool, len(parts)*2)
	prev := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		set[p] = true
		if prev != "" {
			set[prev+p] = true
		}
		prev = p
	}
	return set
}
