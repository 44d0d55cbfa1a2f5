package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ralt/altsource/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Options{
		APIURL:        server.URL,
		UploadsURL:    server.URL,
		Token:         "test-token",
		Retries:       3,
		RetryInterval: time.Millisecond,
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to write response: %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, map[string]interface{}{
			"description":    "An emulator",
			"default_branch": "main",
			"owner":          map[string]string{"avatar_url": "https://avatars.example.com/u/1"},
		})
	})

	info, err := client.GetRepoInfo(context.Background(), "owner/repo")
	if err != nil {
		t.Fatalf("Failed to get repo info: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if info.DefaultBranch != "main" || info.OwnerAvatar != "https://avatars.example.com/u/1" {
		t.Errorf("Unexpected repo info: %+v", info)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetRepoInfo(context.Background(), "owner/repo")
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected a 429 StatusError, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	})

	_, err := client.GetReleaseByTag(context.Background(), "owner/cache", "cache-20240101")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 attempt, got %d", calls)
	}
}

func TestHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected Authorization: %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != DefaultUserAgent {
			t.Errorf("unexpected User-Agent: %q", got)
		}
		writeJSON(t, w, []interface{}{})
	})

	if _, err := client.ListReleases(context.Background(), "owner/repo"); err != nil {
		t.Fatalf("Failed to list releases: %v", err)
	}
}

func TestGetLatestRelease(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/releases" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeJSON(t, w, []map[string]interface{}{
			{"id": 3, "tag_name": "v2.0.0", "draft": true, "published_at": "2024-03-01T00:00:00Z"},
			{"id": 2, "tag_name": "v1.2.0", "published_at": "2024-02-01T10:00:00Z", "body": "notes",
				"assets": []map[string]interface{}{{"id": 7, "name": "App.ipa", "size": 1000, "browser_download_url": "https://example.com/App.ipa"}}},
			{"id": 1, "tag_name": "v1.1.0", "published_at": "2024-01-01T10:00:00Z"},
		})
	})

	rel, err := client.GetLatestRelease(context.Background(), "owner/repo", false, "")
	if err != nil {
		t.Fatalf("Failed to get latest release: %v", err)
	}
	if rel.TagName != "v1.2.0" {
		t.Errorf("TagName = %s, want v1.2.0", rel.TagName)
	}
	if len(rel.Assets) != 1 || rel.Assets[0].DownloadURL != "https://example.com/App.ipa" {
		t.Errorf("Unexpected assets: %+v", rel.Assets)
	}

	_, err = client.GetLatestRelease(context.Background(), "owner/repo", false, "^nomatch")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a filter matching nothing, got %v", err)
	}
}

func TestPickLatestRelease(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	releases := []*models.Release{
		{TagName: "v1.0.0", PublishedAt: day(1)},
		{TagName: "v1.1.0-beta", Prerelease: true, PublishedAt: day(5)},
		{TagName: "v1.1.0", PublishedAt: day(3)},
		{TagName: "nightly-5", Prerelease: true, PublishedAt: day(2)},
		{TagName: "v2.0.0", Draft: true, PublishedAt: day(9)},
	}

	tests := []struct {
		name       string
		prerelease bool
		tagRegex   string
		input      []*models.Release
		want       string
	}{
		{name: "stable", input: releases, want: "v1.1.0"},
		{name: "prerelease newer than stable", prerelease: true, input: releases, want: "v1.1.0-beta"},
		{name: "tag filter", prerelease: true, tagRegex: "NIGHTLY", input: releases, want: "nightly-5"},
		{name: "invalid filter ignored", tagRegex: "([", input: releases, want: "v1.1.0"},
		{name: "only prereleases", input: releases[3:4], want: "nightly-5"},
		{
			name:       "stable newer than prerelease",
			prerelease: true,
			input:      []*models.Release{releases[2], releases[3]},
			want:       "v1.1.0",
		},
		{name: "only drafts", input: releases[4:], want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickLatestRelease(tt.input, tt.prerelease, tt.tagRegex)
			name := ""
			if got != nil {
				name = got.TagName
			}
			if name != tt.want {
				t.Errorf("got %q, want %q", name, tt.want)
			}
		})
	}
}

func TestGetLatestWorkflowRun(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/actions/workflows/build.yml/runs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "success" || q.Get("per_page") != "1" || q.Get("branch") != "develop" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		writeJSON(t, w, map[string]interface{}{
			"workflow_runs": []map[string]interface{}{{
				"id":          42,
				"head_sha":    "abcdef0123456789",
				"head_branch": "develop",
				"created_at":  "2024-05-01T12:00:00Z",
				"head_commit": map[string]string{"message": "Fix crash"},
			}},
		})
	})

	run, err := client.GetLatestWorkflowRun(context.Background(), "owner/repo", "build.yml", "develop")
	if err != nil {
		t.Fatalf("Failed to get workflow run: %v", err)
	}
	if run.ID != 42 || run.ShortSHA() != "abcdef0" || run.CommitMessage != "Fix crash" {
		t.Errorf("Unexpected run: %+v", run)
	}
}

func TestListRunArtifactsSkipsExpired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"artifacts": []map[string]interface{}{
				{"id": 1, "name": "App", "size_in_bytes": 10, "archive_download_url": "u1"},
				{"id": 2, "name": "App-old", "expired": true},
			},
		})
	})

	artifacts, err := client.ListRunArtifacts(context.Background(), "owner/repo", 42)
	if err != nil {
		t.Fatalf("Failed to list artifacts: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Name != "App" {
		t.Errorf("Unexpected artifacts: %+v", artifacts)
	}
}

func TestDownloadAsset(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Accept") != "application/octet-stream" {
			t.Errorf("unexpected Accept: %s", r.Header.Get("Accept"))
		}
		w.Write([]byte("binary content"))
	})

	dest := filepath.Join(t.TempDir(), "sub", "App.ipa")
	asset := models.Asset{Name: "App.ipa", DownloadURL: client.apiURL + "/download/App.ipa"}
	n, err := client.DownloadAsset(context.Background(), asset, dest)
	if err != nil {
		t.Fatalf("Failed to download asset: %v", err)
	}

	content, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("Failed to read download: %v", err)
	}
	if string(content) != "binary content" || n != int64(len(content)) {
		t.Errorf("Unexpected download: %q (%d bytes)", content, n)
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file was left behind")
	}
}

func TestUploadAsset(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/owner/cache/releases/9/assets" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("name") != "com.example.app-abcdef0.ipa" {
			t.Errorf("unexpected name: %s", r.URL.Query().Get("name"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("unexpected body: %q", body)
		}
		writeJSON(t, w, map[string]interface{}{
			"id":                   11,
			"name":                 "com.example.app-abcdef0.ipa",
			"size":                 7,
			"browser_download_url": "https://github.com/owner/cache/releases/download/cache-20240501/com.example.app-abcdef0.ipa",
		})
	})

	path := filepath.Join(t.TempDir(), "App.ipa")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	asset, err := client.UploadAsset(context.Background(), "owner/cache", 9, path, "com.example.app-abcdef0.ipa")
	if err != nil {
		t.Fatalf("Failed to upload asset: %v", err)
	}
	if asset.ID != 11 || asset.Size != 7 {
		t.Errorf("Unexpected asset: %+v", asset)
	}
}

func TestGetGitTreeFallsBackToContents(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/owner/repo/git/trees/HEAD":
			http.NotFound(w, r)
		case "/repos/owner/repo/contents/":
			writeJSON(t, w, []map[string]string{
				{"name": "icon.png", "type": "file"},
				{"name": "Sources", "type": "dir"},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	tree, err := client.GetGitTree(context.Background(), "owner/repo", "")
	if err != nil {
		t.Fatalf("Failed to get tree: %v", err)
	}
	if len(tree) != 2 || tree[0].Type != "blob" || tree[1].Type != "tree" {
		t.Errorf("Unexpected tree: %+v", tree)
	}
}

func TestFetchLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64))
	})

	if _, err := client.Fetch(context.Background(), client.apiURL+"/img.png", 16); err == nil {
		t.Error("Expected an error for an oversized response")
	}
	data, err := client.Fetch(context.Background(), client.apiURL+"/img.png", 64)
	if err != nil || len(data) != 64 {
		t.Errorf("Fetch = %d bytes, %v", len(data), err)
	}
}
