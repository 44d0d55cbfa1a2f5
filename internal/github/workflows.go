package github

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ralt/altsource/internal/models"
)

type apiRun struct {
	ID         int64     `json:"id"`
	HeadSHA    string    `json:"head_sha"`
	HeadBranch string    `json:"head_branch"`
	CreatedAt  time.Time `json:"created_at"`
	HeadCommit struct {
		Message string `json:"message"`
	} `json:"head_commit"`
}

type apiArtifact struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SizeInBytes        int64     `json:"size_in_bytes"`
	Expired            bool      `json:"expired"`
	ArchiveDownloadURL string    `json:"archive_download_url"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// GetLatestWorkflowRun returns the newest successful run of workflow,
// optionally restricted to branch. ErrNotFound is returned when none exists.
func (c *Client) GetLatestWorkflowRun(ctx context.Context, repo, workflow, branch string) (*models.WorkflowRun, error) {
	q := url.Values{}
	q.Set("status", "success")
	q.Set("per_page", "1")
	if branch != "" {
		q.Set("branch", branch)
	}

	var resp struct {
		WorkflowRuns []apiRun `json:"workflow_runs"`
	}
	u := c.repoURL(repo, "/actions/workflows/", url.PathEscape(workflow), "/runs?", q.Encode())
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("failed to list runs of %s: %w", workflow, err)
	}
	if len(resp.WorkflowRuns) == 0 {
		return nil, fmt.Errorf("%w: no successful run of %s in %s", ErrNotFound, workflow, repo)
	}

	r := resp.WorkflowRuns[0]
	return &models.WorkflowRun{
		ID:            r.ID,
		HeadSHA:       r.HeadSHA,
		HeadBranch:    r.HeadBranch,
		CommitMessage: r.HeadCommit.Message,
		CreatedAt:     r.CreatedAt,
	}, nil
}

// ListRunArtifacts returns the unexpired artifacts of a run
func (c *Client) ListRunArtifacts(ctx context.Context, repo string, runID int64) ([]models.Asset, error) {
	var resp struct {
		Artifacts []apiArtifact `json:"artifacts"`
	}
	u := c.repoURL(repo, fmt.Sprintf("/actions/runs/%d/artifacts?per_page=100", runID))
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("failed to list artifacts of run %d: %w", runID, err)
	}

	out := make([]models.Asset, 0, len(resp.Artifacts))
	for _, a := range resp.Artifacts {
		if a.Expired {
			continue
		}
		out = append(out, models.Asset{
			ID:          a.ID,
			Name:        a.Name,
			Size:        a.SizeInBytes,
			DownloadURL: a.ArchiveDownloadURL,
			UpdatedAt:   a.UpdatedAt,
		})
	}
	return out, nil
}

// DownloadArtifact downloads the zip archive of an artifact to destPath
func (c *Client) DownloadArtifact(ctx context.Context, repo string, artifactID int64, destPath string) (int64, error) {
	u := c.repoURL(repo, fmt.Sprintf("/actions/artifacts/%d/zip", artifactID))
	n, err := c.download(ctx, u, destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to download artifact %d: %w", artifactID, err)
	}
	return n, nil
}
