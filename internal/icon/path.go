package icon

import (
	"path"
	"strings"
)

// imageExtensions are the file types considered as icon candidates
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".svg"}

type pathRule struct {
	pattern string
	score   int
	inName  bool
}

// folder hints, first match wins
var folderRules = []pathRule{
	{pattern: "appicon.appiconset", score: 100},
	{pattern: "ios/", score: 50},
	{pattern: "assets/", score: 20},
	{pattern: "public/", score: 10},
}

// file name hints, first match wins
var nameRules = []pathRule{
	{pattern: "icon", score: 30, inName: true},
	{pattern: "logo", score: 25, inName: true},
	{pattern: "app", score: 10, inName: true},
}

// resolution hints, first match wins
var sizeRules = []pathRule{
	{pattern: "1024", score: 50, inName: true},
	{pattern: "512", score: 40, inName: true},
	{pattern: "256", score: 30, inName: true},
	{pattern: "120", score: 10, inName: true},
	{pattern: "marketing", score: 45, inName: true},
}

// penalties for files that are likely not the main icon or are pre-masked, all apply
var penaltyRules = []pathRule{
	{pattern: "android", score: -60},
	{pattern: "small", score: -20, inName: true},
	{pattern: "toolbar", score: -30, inName: true},
	{pattern: "preview", score: -40, inName: true},
	{pattern: "mask", score: -50, inName: true},
	{pattern: "rounded", score: -50, inName: true},
	{pattern: "circle", score: -50, inName: true},
	{pattern: "notification", score: -50, inName: true},
	{pattern: "tabbar", score: -40, inName: true},
	{pattern: "watch", score: -30},
	{pattern: "macos", score: -10},
	{pattern: "tvos", score: -20},
}

// IsImage reports whether p has an image extension
func IsImage(p string) bool {
	lower := strings.ToLower(p)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ScorePath rates a repository path or URL for its likelihood of being the
// application icon.
func ScorePath(p string) int {
	lower := strings.ToLower(p)
	name := path.Base(lower)

	score := firstMatch(folderRules, lower, name) +
		firstMatch(nameRules, lower, name)

	if strings.Contains(name, "square") {
		score += 20
	}
	score += firstMatch(sizeRules, lower, name)

	for _, r := range penaltyRules {
		if r.matches(lower, name) {
			score += r.score
		}
	}

	switch {
	case strings.Contains(lower, "raw.githubusercontent.com"):
		score += 20
	case strings.Contains(lower, "github.com") && strings.Contains(lower, "/raw/"):
		score += 15
	}
	return score
}

func (r pathRule) matches(full, name string) bool {
	if r.inName {
		return strings.Contains(name, r.pattern)
	}
	return strings.Contains(full, r.pattern)
}

func firstMatch(rules []pathRule, full, name string) int {
	for _, r := range rules {
		if r.matches(full, name) {
			return r.score
		}
	}
	return 0
}
