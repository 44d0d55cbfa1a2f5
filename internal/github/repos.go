package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v5"
	"github.com/ralt/altsource/internal/models"
)

// TreeEntry is one path of a repository tree
type TreeEntry struct {
	Path string
	Type string
}

// GetRepoInfo returns the repository description, default branch and owner avatar
func (c *Client) GetRepoInfo(ctx context.Context, repo string) (*models.RepoInfo, error) {
	var resp struct {
		Description   string `json:"description"`
		DefaultBranch string `json:"default_branch"`
		Owner         struct {
			AvatarURL string `json:"avatar_url"`
		} `json:"owner"`
	}
	if err := c.getJSON(ctx, c.repoURL(repo), &resp); err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", repo, err)
	}
	return &models.RepoInfo{
		Description:   resp.Description,
		DefaultBranch: resp.DefaultBranch,
		OwnerAvatar:   resp.Owner.AvatarURL,
	}, nil
}

// GetGitTree lists every path in the repository at ref. When the recursive
// tree is unavailable the root directory listing is returned instead.
func (c *Client) GetGitTree(ctx context.Context, repo, ref string) ([]TreeEntry, error) {
	if ref == "" {
		ref = "HEAD"
	}

	var resp struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	err := c.getJSON(ctx, c.repoURL(repo, "/git/trees/", url.PathEscape(ref), "?recursive=1"), &resp)
	if err == nil {
		out := make([]TreeEntry, 0, len(resp.Tree))
		for _, e := range resp.Tree {
			out = append(out, TreeEntry{Path: e.Path, Type: e.Type})
		}
		return out, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get tree of %s: %w", repo, err)
	}

	var contents []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := c.getJSON(ctx, c.repoURL(repo, "/contents/"), &contents); err != nil {
		return nil, fmt.Errorf("failed to list contents of %s: %w", repo, err)
	}
	out := make([]TreeEntry, 0, len(contents))
	for _, e := range contents {
		kind := "tree"
		if e.Type == "file" {
			kind = "blob"
		}
		out = append(out, TreeEntry{Path: e.Name, Type: kind})
	}
	return out, nil
}

// Fetch downloads an arbitrary URL into memory, bounded by limit bytes
func (c *Client) Fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	var data []byte
	err := c.do(ctx, request{method: http.MethodGet, url: rawURL, accept: "*/*"}, func(resp *http.Response) error {
		body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rawURL, err)
		}
		if int64(len(body)) > limit {
			return backoff.Permanent(fmt.Errorf("%s exceeds %d bytes", rawURL, limit))
		}
		data = body
		return nil
	})
	return data, err
}
