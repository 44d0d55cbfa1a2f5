// Package icon discovers an application icon in an upstream repository and
// derives the catalog tint colour from it.
package icon

import (
	"context"
	"fmt"
	"sort"

	"github.com/ralt/altsource/internal/github"
	"github.com/ralt/altsource/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultImprovementThreshold is the score an automatically found icon
	// must gain over the current one before it replaces it.
	DefaultImprovementThreshold = 30
	// DefaultMaxCandidates bounds how many images are downloaded and decoded
	DefaultMaxCandidates = 5

	maxImageBytes = 8 << 20
)

// API is the subset of the remote client the resolver uses
type API interface {
	GetRepoInfo(ctx context.Context, repo string) (*models.RepoInfo, error)
	GetGitTree(ctx context.Context, repo, ref string) ([]github.TreeEntry, error)
	Fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error)
}

// Choice is a scored icon URL
type Choice struct {
	URL   string
	Score int
}

// Resolver finds icons and tint colours
type Resolver struct {
	api                  API
	ImprovementThreshold int
	MaxCandidates        int
}

// NewResolver creates a resolver backed by api
func NewResolver(api API, threshold, maxCandidates int) *Resolver {
	if threshold <= 0 {
		threshold = DefaultImprovementThreshold
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Resolver{api: api, ImprovementThreshold: threshold, MaxCandidates: maxCandidates}
}

// FindCandidates returns raw URLs of likely icons in repo, best path score
// first. The owner avatar is returned when the tree has no candidate.
func (r *Resolver) FindCandidates(ctx context.Context, repo string) ([]Choice, error) {
	info, err := r.api.GetRepoInfo(ctx, repo)
	if err != nil {
		return nil, err
	}

	tree, err := r.api.GetGitTree(ctx, repo, "")
	if err != nil {
		logrus.Warnf("Failed to fetch tree of %s: %v", repo, err)
	}

	var scored []Choice
	for _, entry := range tree {
		if entry.Type != "blob" || !IsImage(entry.Path) {
			continue
		}
		if s := ScorePath(entry.Path); s > 0 {
			scored = append(scored, Choice{URL: entry.Path, Score: s})
		}
	}

	if len(scored) == 0 {
		if info.OwnerAvatar == "" {
			return nil, nil
		}
		return []Choice{{URL: info.OwnerAvatar}}, nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].URL < scored[j].URL
	})
	if len(scored) > r.MaxCandidates {
		scored = scored[:r.MaxCandidates]
	}

	branch := info.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	for i := range scored {
		scored[i].URL = fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", repo, branch, scored[i].URL)
		scored[i].Score = ScorePath(scored[i].URL)
	}
	return scored, nil
}

// Best returns the highest scoring icon of repo combining path and image
// quality. Candidates that cannot be fetched or decoded keep their path score.
func (r *Resolver) Best(ctx context.Context, repo string) (*Choice, error) {
	candidates, err := r.FindCandidates(ctx, repo)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var best *Choice
	for _, c := range candidates {
		c.Score = r.Evaluate(ctx, c.URL)
		if best == nil || c.Score > best.Score {
			choice := c
			best = &choice
		}
	}
	return best, nil
}

// Evaluate scores an icon URL by path and, when it can be decoded, image quality
func (r *Resolver) Evaluate(ctx context.Context, url string) int {
	score := ScorePath(url)
	data, err := r.api.Fetch(ctx, url, maxImageBytes)
	if err != nil {
		logrus.Debugf("Failed to fetch icon %s: %v", url, err)
		return score
	}
	q, err := ScoreImage(data)
	if err != nil {
		logrus.Debugf("Failed to score icon %s: %v", url, err)
		return score
	}
	return score + q.Score
}

// Improve returns a replacement for the automatically chosen current icon
// when the best candidate beats it by the improvement threshold.
func (r *Resolver) Improve(ctx context.Context, repo, current string) (*Choice, error) {
	best, err := r.Best(ctx, repo)
	if err != nil || best == nil {
		return nil, err
	}
	if current == "" {
		return best, nil
	}
	if best.URL == current {
		return nil, nil
	}

	existing := r.Evaluate(ctx, current)
	if best.Score-existing < r.ImprovementThreshold {
		return nil, nil
	}
	logrus.Infof("Replacing icon of %s (%d -> %d)", repo, existing, best.Score)
	return best, nil
}

// Tint extracts the dominant colour of the icon at url
func (r *Resolver) Tint(ctx context.Context, url string) (string, error) {
	data, err := r.api.Fetch(ctx, url, maxImageBytes)
	if err != nil {
		return "", err
	}
	return DominantColor(data)
}
