// Package retention prunes the dated cache buckets written by the pipeline.
package retention

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ralt/altsource/internal/cache"
	"github.com/ralt/altsource/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetentionDays = 7
	DefaultKeepBuckets   = 7
	DefaultRollbackDays  = 3

	day = 24 * time.Hour
)

// API is the subset of the remote client used to prune buckets
type API interface {
	ListReleases(ctx context.Context, repo string) ([]*models.Release, error)
	DeleteRelease(ctx context.Context, repo string, release *models.Release) error
	DeleteAsset(ctx context.Context, repo string, assetID int64) error
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Policy configures what a Manager keeps
type Policy struct {
	TagPrefix     string
	LegacyTag     string
	RetentionDays int
	KeepBuckets   int
	RollbackDays  int
	DryRun        bool
}

// Report lists what a prune removed
type Report struct {
	DeletedBuckets []string
	DeletedAssets  []string
	KeptBuckets    int
}

// Manager applies a Policy to the cache repository
type Manager struct {
	api    API
	repo   string
	policy Policy
	clock  Clock
}

// NewManager creates a retention manager for repo. A nil clock uses the
// system time.
func NewManager(api API, repo string, policy Policy, clock Clock) *Manager {
	if policy.TagPrefix == "" {
		policy.TagPrefix = cache.DefaultTagPrefix
	}
	if policy.RetentionDays <= 0 {
		policy.RetentionDays = DefaultRetentionDays
	}
	if policy.KeepBuckets <= 0 {
		policy.KeepBuckets = DefaultKeepBuckets
	}
	if policy.RollbackDays <= 0 {
		policy.RollbackDays = DefaultRollbackDays
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Manager{api: api, repo: repo, policy: policy, clock: clock}
}

type bucket struct {
	release *models.Release
	day     time.Time
	age     int
}

// Prune deletes expired buckets, superseded binaries and the legacy bucket.
// referenced holds the download URLs currently published in the catalogs;
// nothing they point to is ever deleted.
func (m *Manager) Prune(ctx context.Context, referenced []string) (*Report, error) {
	releases, err := m.api.ListReleases(ctx, m.repo)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache buckets: %w", err)
	}

	refURLs := make(map[string]bool, len(referenced))
	refTags := make(map[string]bool)
	for _, u := range referenced {
		refURLs[u] = true
		if tag, ok := cache.BucketOf(u, m.repo); ok {
			refTags[tag] = true
		}
	}

	today := m.clock.Now().UTC().Truncate(day)
	var buckets []bucket
	var legacy *models.Release
	for _, r := range releases {
		if m.policy.LegacyTag != "" && r.TagName == m.policy.LegacyTag {
			legacy = r
			continue
		}
		d, ok := cache.ParseTag(m.policy.TagPrefix, r.TagName)
		if !ok {
			continue
		}
		buckets = append(buckets, bucket{release: r, day: d, age: int(today.Sub(d) / day)})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].day.After(buckets[j].day)
	})

	report := &Report{}
	var kept []bucket
	for i, b := range buckets {
		tag := b.release.TagName
		switch {
		case i < m.policy.KeepBuckets:
			kept = append(kept, b)
		case b.age < m.policy.RetentionDays:
			kept = append(kept, b)
		case refTags[tag]:
			logrus.Warnf("Keeping expired bucket %s, it is still referenced", tag)
			kept = append(kept, b)
		default:
			if err := m.deleteRelease(ctx, b.release); err != nil {
				return report, err
			}
			report.DeletedBuckets = append(report.DeletedBuckets, tag)
		}
	}
	report.KeptBuckets = len(kept)

	if err := m.pruneSuperseded(ctx, kept, refURLs, report); err != nil {
		return report, err
	}

	if legacy != nil {
		if refTags[legacy.TagName] {
			logrus.Warnf("Legacy bucket %s is still referenced, keeping it until entries migrate", legacy.TagName)
		} else {
			if err := m.deleteRelease(ctx, legacy); err != nil {
				return report, err
			}
			report.DeletedBuckets = append(report.DeletedBuckets, legacy.TagName)
		}
	}

	logrus.Infof("Retention: kept %d buckets, deleted %d buckets and %d assets",
		report.KeptBuckets, len(report.DeletedBuckets), len(report.DeletedAssets))
	return report, nil
}

type cachedAsset struct {
	asset  models.Asset
	bucket bucket
	url    string
}

// pruneSuperseded removes older binaries of a package once a newer one is
// cached. Same-bucket duplicates go at once; older buckets keep them for the
// rollback window.
func (m *Manager) pruneSuperseded(ctx context.Context, kept []bucket, refURLs map[string]bool, report *Report) error {
	byPackage := make(map[string][]cachedAsset)
	var keys []string
	for _, b := range kept {
		for _, a := range b.release.Assets {
			key := cache.PackageKey(a.Name)
			if _, seen := byPackage[key]; !seen {
				keys = append(keys, key)
			}
			byPackage[key] = append(byPackage[key], cachedAsset{
				asset:  a,
				bucket: b,
				url:    cache.DownloadURL(m.repo, b.release.TagName, a.Name),
			})
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		assets := byPackage[key]
		if len(assets) < 2 {
			continue
		}
		sort.SliceStable(assets, func(i, j int) bool {
			if !assets[i].bucket.day.Equal(assets[j].bucket.day) {
				return assets[i].bucket.day.After(assets[j].bucket.day)
			}
			return assets[i].asset.UpdatedAt.After(assets[j].asset.UpdatedAt)
		})

		newest := assets[0]
		for _, old := range assets[1:] {
			sameBucket := old.bucket.release.TagName == newest.bucket.release.TagName
			switch {
			case refURLs[old.url]:
				continue
			case !sameBucket && old.bucket.age < m.policy.RollbackDays:
				continue
			}
			if err := m.deleteAsset(ctx, old); err != nil {
				return err
			}
			report.DeletedAssets = append(report.DeletedAssets, old.url)
		}
	}
	return nil
}

func (m *Manager) deleteRelease(ctx context.Context, r *models.Release) error {
	if m.policy.DryRun {
		logrus.Infof("Would delete bucket %s", r.TagName)
		return nil
	}
	logrus.Infof("Deleting bucket %s", r.TagName)
	if err := m.api.DeleteRelease(ctx, m.repo, r); err != nil {
		return fmt.Errorf("failed to delete bucket %s: %w", r.TagName, err)
	}
	return nil
}

func (m *Manager) deleteAsset(ctx context.Context, a cachedAsset) error {
	if m.policy.DryRun {
		logrus.Infof("Would delete %s from %s", a.asset.Name, a.bucket.release.TagName)
		return nil
	}
	logrus.Infof("Deleting superseded %s from %s", a.asset.Name, a.bucket.release.TagName)
	if err := m.api.DeleteAsset(ctx, m.repo, a.asset.ID); err != nil {
		return fmt.Errorf("failed to delete asset %s: %w", a.asset.Name, err)
	}
	return nil
}
