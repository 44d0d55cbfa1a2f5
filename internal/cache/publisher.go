package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ralt/altsource/internal/github"
	"github.com/ralt/altsource/internal/models"
	"github.com/sirupsen/logrus"
)

// API is the subset of the remote client used to manage buckets
type API interface {
	GetReleaseByTag(ctx context.Context, repo, tag string) (*models.Release, error)
	CreateRelease(ctx context.Context, repo, tag, name, body string, prerelease bool) (*models.Release, error)
	UploadAsset(ctx context.Context, repo string, releaseID int64, path, name string) (*models.Asset, error)
	DeleteAsset(ctx context.Context, repo string, assetID int64) error
}

// Publisher uploads binaries into the bucket of the current day
type Publisher struct {
	api       API
	repo      string
	tagPrefix string

	// mu serializes bucket creation so concurrent packages share one release
	mu sync.Mutex
}

// NewPublisher creates a publisher for the cache repository repo
func NewPublisher(api API, repo, tagPrefix string) *Publisher {
	if tagPrefix == "" {
		tagPrefix = DefaultTagPrefix
	}
	return &Publisher{api: api, repo: repo, tagPrefix: tagPrefix}
}

// Repo returns the cache repository
func (p *Publisher) Repo() string {
	return p.repo
}

// Publish uploads the file at path as name into the bucket for day,
// replacing any same-named asset, and returns the hosted asset.
func (p *Publisher) Publish(ctx context.Context, path, name string, day time.Time) (*models.Asset, error) {
	bucket, err := p.bucket(ctx, day)
	if err != nil {
		return nil, err
	}

	for _, a := range bucket.Assets {
		if a.Name != name {
			continue
		}
		logrus.Debugf("Replacing cached asset %s in %s", name, bucket.TagName)
		if err := p.api.DeleteAsset(ctx, p.repo, a.ID); err != nil {
			return nil, err
		}
	}

	asset, err := p.api.UploadAsset(ctx, p.repo, bucket.ID, path, name)
	if err != nil {
		return nil, err
	}
	if asset.DownloadURL == "" {
		asset.DownloadURL = DownloadURL(p.repo, bucket.TagName, asset.Name)
	}
	return asset, nil
}

// bucket returns the release for day, creating it when missing
func (p *Publisher) bucket(ctx context.Context, day time.Time) (*models.Release, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tag := TagFor(p.tagPrefix, day)
	release, err := p.api.GetReleaseByTag(ctx, p.repo, tag)
	if err == nil {
		return release, nil
	}
	if !errors.Is(err, github.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up bucket %s: %w", tag, err)
	}

	logrus.Infof("Creating cache bucket %s in %s", tag, p.repo)
	release, err = p.api.CreateRelease(ctx, p.repo, tag, "IPA cache "+day.UTC().Format("2006-01-02"),
		"Re-hosted binaries for the sideload catalog.", true)
	if err != nil {
		return nil, err
	}
	return release, nil
}
