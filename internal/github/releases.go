package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/ralt/altsource/internal/models"
	"github.com/sirupsen/logrus"
)

const releasesPerPage = 100

type apiAsset struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Size               int64     `json:"size"`
	BrowserDownloadURL string    `json:"browser_download_url"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type apiRelease struct {
	ID          int64      `json:"id"`
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	Body        string     `json:"body"`
	Draft       bool       `json:"draft"`
	Prerelease  bool       `json:"prerelease"`
	PublishedAt time.Time  `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	Assets      []apiAsset `json:"assets"`
}

func (a apiAsset) toModel() models.Asset {
	return models.Asset{
		ID:          a.ID,
		Name:        a.Name,
		Size:        a.Size,
		DownloadURL: a.BrowserDownloadURL,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (r apiRelease) toModel() *models.Release {
	published := r.PublishedAt
	if published.IsZero() {
		published = r.CreatedAt
	}
	rel := &models.Release{
		ID:          r.ID,
		TagName:     r.TagName,
		Name:        r.Name,
		Body:        r.Body,
		Draft:       r.Draft,
		Prerelease:  r.Prerelease,
		PublishedAt: published,
		Assets:      make([]models.Asset, 0, len(r.Assets)),
	}
	for _, a := range r.Assets {
		rel.Assets = append(rel.Assets, a.toModel())
	}
	return rel
}

// ListReleases returns every release of repo, newest first as served by the API
func (c *Client) ListReleases(ctx context.Context, repo string) ([]*models.Release, error) {
	var out []*models.Release
	for page := 1; ; page++ {
		var batch []apiRelease
		u := c.repoURL(repo, fmt.Sprintf("/releases?per_page=%d&page=%d", releasesPerPage, page))
		if err := c.getJSON(ctx, u, &batch); err != nil {
			return nil, fmt.Errorf("failed to list releases of %s: %w", repo, err)
		}
		for _, r := range batch {
			out = append(out, r.toModel())
		}
		if len(batch) < releasesPerPage {
			return out, nil
		}
	}
}

// GetLatestRelease returns the release a package should track. ErrNotFound
// is returned when no release qualifies.
func (c *Client) GetLatestRelease(ctx context.Context, repo string, preferPrerelease bool, tagRegex string) (*models.Release, error) {
	var batch []apiRelease
	u := c.repoURL(repo, fmt.Sprintf("/releases?per_page=%d", releasesPerPage))
	if err := c.getJSON(ctx, u, &batch); err != nil {
		return nil, fmt.Errorf("failed to list releases of %s: %w", repo, err)
	}

	releases := make([]*models.Release, 0, len(batch))
	for _, r := range batch {
		releases = append(releases, r.toModel())
	}

	latest := PickLatestRelease(releases, preferPrerelease, tagRegex)
	if latest == nil {
		return nil, fmt.Errorf("%w: no eligible release in %s", ErrNotFound, repo)
	}
	return latest, nil
}

// PickLatestRelease applies the release discovery rules: drafts are ignored,
// tagRegex (case-insensitive, searched anywhere in the tag) filters tags and
// an invalid pattern is ignored. With preferPrerelease the newest prerelease
// wins when it is at least as new as the newest stable release. Otherwise
// the newest stable release wins, falling back to the newest of any kind.
func PickLatestRelease(releases []*models.Release, preferPrerelease bool, tagRegex string) *models.Release {
	var filter *regexp.Regexp
	if pattern := models.CleanOptional(tagRegex); pattern != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			logrus.Warnf("Ignoring invalid tag pattern %q: %v", pattern, err)
		} else {
			filter = re
		}
	}

	var active []*models.Release
	for _, r := range releases {
		if r.Draft {
			continue
		}
		if filter != nil && !filter.MatchString(r.TagName) {
			continue
		}
		active = append(active, r)
	}
	if len(active) == 0 {
		return nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].PublishedAt.After(active[j].PublishedAt)
	})

	var stable, pre *models.Release
	for _, r := range active {
		if r.Prerelease && pre == nil {
			pre = r
		}
		if !r.Prerelease && stable == nil {
			stable = r
		}
	}

	if preferPrerelease && pre != nil {
		if stable == nil || !pre.PublishedAt.Before(stable.PublishedAt) {
			return pre
		}
	}
	if stable != nil {
		return stable
	}
	return active[0]
}

// GetReleaseByTag returns the release for tag, or ErrNotFound
func (c *Client) GetReleaseByTag(ctx context.Context, repo, tag string) (*models.Release, error) {
	var r apiRelease
	if err := c.getJSON(ctx, c.repoURL(repo, "/releases/tags/", url.PathEscape(tag)), &r); err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

// CreateRelease creates a release for tag, creating the tag on the default branch if needed
func (c *Client) CreateRelease(ctx context.Context, repo, tag, name, body string, prerelease bool) (*models.Release, error) {
	payload := map[string]interface{}{
		"tag_name":   tag,
		"name":       name,
		"body":       body,
		"prerelease": prerelease,
	}
	var r apiRelease
	if err := c.sendJSON(ctx, http.MethodPost, c.repoURL(repo, "/releases"), payload, &r); err != nil {
		return nil, fmt.Errorf("failed to create release %s: %w", tag, err)
	}
	return r.toModel(), nil
}

// DeleteRelease removes a release and its tag
func (c *Client) DeleteRelease(ctx context.Context, repo string, release *models.Release) error {
	u := c.repoURL(repo, fmt.Sprintf("/releases/%d", release.ID))
	if err := c.do(ctx, request{method: http.MethodDelete, url: u}, nil); err != nil {
		return fmt.Errorf("failed to delete release %s: %w", release.TagName, err)
	}

	ref := c.repoURL(repo, "/git/refs/tags/", url.PathEscape(release.TagName))
	if err := c.do(ctx, request{method: http.MethodDelete, url: ref}, nil); err != nil && !errors.Is(err, ErrNotFound) {
		logrus.Warnf("Failed to delete tag %s: %v", release.TagName, err)
	}
	return nil
}

// UploadAsset uploads the file at path to release under name
func (c *Client) UploadAsset(ctx context.Context, repo string, releaseID int64, path, name string) (*models.Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	u := fmt.Sprintf("%s/repos/%s/releases/%d/assets?name=%s", c.uploadsURL, repo, releaseID, url.QueryEscape(name))
	req := request{
		method:      http.MethodPost,
		url:         u,
		contentType: "application/octet-stream",
		timeout:     c.downloadTimeout,
		body: func() (io.ReadCloser, int64, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, 0, err
			}
			return f, info.Size(), nil
		},
	}

	var a apiAsset
	err = c.do(ctx, req, func(resp *http.Response) error {
		return decodeJSON(resp, &a)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	asset := a.toModel()
	return &asset, nil
}

// DeleteAsset removes a release asset
func (c *Client) DeleteAsset(ctx context.Context, repo string, assetID int64) error {
	u := c.repoURL(repo, fmt.Sprintf("/releases/assets/%d", assetID))
	if err := c.do(ctx, request{method: http.MethodDelete, url: u}, nil); err != nil {
		return fmt.Errorf("failed to delete asset %d: %w", assetID, err)
	}
	return nil
}

// DownloadAsset downloads a release asset to destPath and returns the byte count
func (c *Client) DownloadAsset(ctx context.Context, asset models.Asset, destPath string) (int64, error) {
	n, err := c.download(ctx, asset.DownloadURL, destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", asset.Name, err)
	}
	return n, nil
}
