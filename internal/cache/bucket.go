// Package cache re-hosts binaries in dated buckets, prereleases of a
// repository owned by the catalog maintainer, so that download links never
// expire or rotate.
package cache

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultTagPrefix prefixes the YYYYMMDD bucket date
	DefaultTagPrefix = "cache-"
	// DefaultLegacyTag is the fixed-name bucket used before dated buckets
	DefaultLegacyTag = "ipa-cache"

	dayLayout = "20060102"
)

var unsafeRef = regexp.MustCompile(`[^A-Za-z0-9.]+`)

// TagFor returns the bucket tag for day
func TagFor(prefix string, day time.Time) string {
	return prefix + day.UTC().Format(dayLayout)
}

// ParseTag returns the bucket day encoded in tag
func ParseTag(prefix, tag string) (time.Time, bool) {
	if !strings.HasPrefix(tag, prefix) {
		return time.Time{}, false
	}
	day, err := time.Parse(dayLayout, strings.TrimPrefix(tag, prefix))
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// AssetName is the cached file name of a binary: the bundle identifier and
// the upstream reference (commit sha7 or release tag) joined by '-'.
func AssetName(bundleID, ref string) string {
	return fmt.Sprintf("%s-%s.ipa", bundleID, unsafeRef.ReplaceAllString(ref, "_"))
}

// PackageKey returns the bundle identifier part of a cached asset name
func PackageKey(assetName string) string {
	name := strings.TrimSuffix(assetName, ".ipa")
	if i := strings.LastIndex(name, "-"); i > 0 {
		return name[:i]
	}
	return name
}

// DownloadURL is the public URL of a cached asset
func DownloadURL(repo, tag, name string) string {
	return fmt.Sprintf("https://github.com/%s/releases/download/%s/%s", repo, tag, name)
}

// InBucket reports whether downloadURL points into the bucket tag of repo
func InBucket(downloadURL, repo, tag string) bool {
	return strings.HasPrefix(downloadURL, fmt.Sprintf("https://github.com/%s/releases/download/%s/", repo, tag))
}

// BucketOf returns the bucket tag downloadURL points into, if it is in repo
func BucketOf(downloadURL, repo string) (string, bool) {
	prefix := fmt.Sprintf("https://github.com/%s/releases/download/", repo)
	if !strings.HasPrefix(downloadURL, prefix) {
		return "", false
	}
	tag, _, found := strings.Cut(strings.TrimPrefix(downloadURL, prefix), "/")
	return tag, found
}
