package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ralt/altsource/internal/icon"
	"github.com/ralt/altsource/internal/models"
	"github.com/ralt/altsource/internal/pipeline"
)

// fakeRunner bumps the version of every package it is given, finishing the
// packages in reverse order.
type fakeRunner struct {
	mu       sync.Mutex
	seen     map[string]*models.PackageEntry
	skip     map[string]bool
	fail     map[string]bool
	active   int32
	peak     int32
	total    int
	suggests []models.ConfigSuggestion
}

func (f *fakeRunner) Run(ctx context.Context, cfg models.PackageConfig, previous *models.PackageEntry) pipeline.Outcome {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	f.mu.Lock()
	f.seen[cfg.Name] = previous
	idx := f.total
	f.total++
	f.mu.Unlock()
	time.Sleep(time.Duration(10-idx%10) * time.Millisecond)

	switch {
	case f.skip[cfg.Name]:
		return pipeline.Outcome{Kind: pipeline.Skipped, Entry: previous, Reason: "already up to date"}
	case f.fail[cfg.Name]:
		return pipeline.Outcome{Kind: pipeline.Failed, Entry: previous, Reason: "TransferFailure", Err: errors.New("boom")}
	}

	entry := previous.Clone()
	if entry == nil {
		entry = &models.PackageEntry{BundleIdentifier: "com.example." + strings.ToLower(cfg.Name)}
	}
	entry.Name = cfg.Name
	entry.GitHubRepo = cfg.GitHubRepo
	entry.Versions = append([]models.VersionRecord{{Version: "2.0", DownloadURL: "https://example.com/" + cfg.Name}}, entry.Versions...)
	entry.ApplyLatest()
	return pipeline.Outcome{Kind: pipeline.Updated, Entry: entry, Suggestions: f.suggests}
}

func newRunner() *fakeRunner {
	return &fakeRunner{seen: map[string]*models.PackageEntry{}, skip: map[string]bool{}, fail: map[string]bool{}}
}

func names(c *models.Catalog) []string {
	var out []string
	for _, e := range c.Apps {
		out = append(out, e.Name)
	}
	return out
}

func TestMatchEntries(t *testing.T) {
	exact := &models.PackageEntry{Name: "App", GitHubRepo: "owner/app"}
	legacy := &models.PackageEntry{Name: "Tool", DeveloperName: "owner"}
	renamed := &models.PackageEntry{Name: "Old Name", GitHubRepo: "owner/renamed"}
	shared1 := &models.PackageEntry{Name: "A", GitHubRepo: "owner/shared"}
	shared2 := &models.PackageEntry{Name: "B", GitHubRepo: "owner/shared"}
	entries := []*models.PackageEntry{shared2, renamed, legacy, exact, shared1}

	apps := []models.PackageConfig{
		{Name: "App", GitHubRepo: "owner/app"},
		{Name: "Tool", GitHubRepo: "owner/tool"},
		{Name: "New Name", GitHubRepo: "owner/renamed"},
		{Name: "C", GitHubRepo: "owner/shared"},
		{Name: "A", GitHubRepo: "owner/shared"},
		{Name: "Tool", GitHubRepo: "someone/tool"},
	}

	got := MatchEntries(entries, apps)
	want := []*models.PackageEntry{exact, legacy, renamed, shared2, shared1, nil}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("app %d (%s): expected %+v, got %+v", i, apps[i].Name, want[i], got[i])
		}
	}
}

func TestMatchEntriesAmbiguousRename(t *testing.T) {
	entries := []*models.PackageEntry{
		{Name: "X", GitHubRepo: "owner/repo"},
		{Name: "Y", GitHubRepo: "owner/repo"},
	}
	got := MatchEntries(entries, []models.PackageConfig{{Name: "Z", GitHubRepo: "owner/repo"}})
	if got[0] != nil {
		t.Errorf("Expected no match with two candidates, got %+v", got[0])
	}
}

func TestAssembleOrderAndFilter(t *testing.T) {
	previous := models.NewCatalog("Source", "io.example.source")
	previous.Apps = []*models.PackageEntry{
		{Name: "Gone", GitHubRepo: "owner/gone"},
		{Name: "Beta", GitHubRepo: "owner/beta", Version: "1.0", Permissions: json.RawMessage(`{"x":1}`)},
	}

	var apps []models.PackageConfig
	for _, n := range []string{"Zeta", "Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Eta"} {
		apps = append(apps, models.PackageConfig{Name: n, GitHubRepo: "owner/" + strings.ToLower(n)})
	}

	runner := newRunner()
	runner.fail["Gamma"] = true
	a := NewAssembler(runner, Options{Concurrency: 3})
	res := a.Assemble(context.Background(), "main", previous, apps)

	want := []string{"Zeta", "Alpha", "Beta", "Delta", "Epsilon", "Eta"}
	if diff := cmp.Diff(want, names(res.Catalog)); diff != "" {
		t.Errorf("Catalog order mismatch (-want +got):\n%s", diff)
	}
	if res.Updated != 6 || res.Failed != 1 || res.Skipped != 0 {
		t.Errorf("Unexpected counts: %d updated, %d skipped, %d failed", res.Updated, res.Skipped, res.Failed)
	}
	if peak := atomic.LoadInt32(&runner.peak); peak > 3 {
		t.Errorf("Expected at most 3 concurrent packages, saw %d", peak)
	}
	if runner.seen["Beta"] != previous.Apps[1] {
		t.Error("Expected Beta to receive its previous entry")
	}

	beta := res.Catalog.Apps[2]
	if beta.Permissions != nil {
		t.Error("Expected permissions to be dropped")
	}
	if previous.Apps[1].Permissions == nil || previous.Apps[1].Version != "1.0" {
		t.Error("Previous catalog must not be modified")
	}
	if res.Catalog.Name != "Source" || res.Catalog.News == nil {
		t.Errorf("Unexpected catalog header: %+v", res.Catalog)
	}
}

func TestAssembleKeepsPreviousOnFailure(t *testing.T) {
	prev := &models.PackageEntry{Name: "App", GitHubRepo: "owner/app", Version: "1.0", ScreenshotURLs: []string{}, Versions: []models.VersionRecord{}}
	previous := models.NewCatalog("Source", "io.example.source")
	previous.Apps = []*models.PackageEntry{prev}

	runner := newRunner()
	runner.fail["App"] = true
	res := NewAssembler(runner, Options{}).Assemble(context.Background(), "main", previous,
		[]models.PackageConfig{{Name: "App", GitHubRepo: "owner/app"}})

	if diff := cmp.Diff(prev, res.Catalog.Apps[0]); diff != "" {
		t.Errorf("Failed package must keep its entry (-want +got):\n%s", diff)
	}
}

func TestAssembleAppliesConfig(t *testing.T) {
	previous := models.NewCatalog("Source", "io.example.source")
	previous.Apps = []*models.PackageEntry{
		{Name: "App", GitHubRepo: "owner/app", IconURL: "https://example.com/old.png", TintColor: "#111111"},
	}
	apps := []models.PackageConfig{{
		Name: "App", GitHubRepo: "owner/app",
		IconURL: "https://example.com/new.png", TintColor: "#222222",
	}}

	runner := newRunner()
	runner.skip["App"] = true
	res := NewAssembler(runner, Options{}).Assemble(context.Background(), "main", previous, apps)

	e := res.Catalog.Apps[0]
	if e.IconURL != "https://example.com/new.png" || e.TintColor != "#222222" {
		t.Errorf("Expected configured presentation, got icon %q tint %q", e.IconURL, e.TintColor)
	}
	if e.ScreenshotURLs == nil || e.Versions == nil {
		t.Error("Expected empty arrays instead of null")
	}
}

type fakeIcons struct {
	best  *icon.Choice
	tint  string
	calls int32
}

func (f *fakeIcons) Best(ctx context.Context, repo string) (*icon.Choice, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.best, nil
}

func (f *fakeIcons) Improve(ctx context.Context, repo, current string) (*icon.Choice, error) {
	return nil, nil
}

func (f *fakeIcons) Tint(ctx context.Context, url string) (string, error) {
	return f.tint, nil
}

func TestAssembleRefreshesSkippedPresentation(t *testing.T) {
	previous := models.NewCatalog("Source", "io.example.source")
	previous.Apps = []*models.PackageEntry{
		{Name: "App", GitHubRepo: "owner/app", TintColor: "#000000"},
		{Name: "Done", GitHubRepo: "owner/done", IconURL: "https://example.com/done.png", TintColor: "#ABCDEF"},
	}
	apps := []models.PackageConfig{
		{Name: "App", GitHubRepo: "owner/app"},
		{Name: "Done", GitHubRepo: "owner/done"},
	}

	runner := newRunner()
	runner.skip["App"] = true
	runner.skip["Done"] = true
	icons := &fakeIcons{best: &icon.Choice{URL: "https://example.com/found.png", Score: 120}, tint: "#445566"}

	res := NewAssembler(runner, Options{Icons: icons}).Assemble(context.Background(), "main", previous, apps)

	e := res.Catalog.Apps[0]
	if e.IconURL != "https://example.com/found.png" || e.TintColor != "#445566" {
		t.Errorf("Expected refreshed presentation, got icon %q tint %q", e.IconURL, e.TintColor)
	}
	if icons.calls != 1 {
		t.Errorf("Expected one icon lookup, got %d", icons.calls)
	}
	want := []models.ConfigSuggestion{
		{GitHubRepo: "owner/app", Name: "App", Field: "icon_url", Value: "https://example.com/found.png"},
		{GitHubRepo: "owner/app", Name: "App", Field: "tint_color", Value: "#445566"},
	}
	if diff := cmp.Diff(want, res.Suggestions); diff != "" {
		t.Errorf("Suggestions mismatch (-want +got):\n%s", diff)
	}
	if previous.Apps[0].IconURL != "" {
		t.Error("Previous catalog must not be modified")
	}
}

func TestAssembleDeterministic(t *testing.T) {
	previous := models.NewCatalog("Source", "io.example.source")
	var apps []models.PackageConfig
	for _, n := range []string{"C", "A", "B", "E", "D", "F", "H", "G"} {
		apps = append(apps, models.PackageConfig{Name: n, GitHubRepo: "owner/" + strings.ToLower(n)})
	}

	var outputs []string
	for i := 0; i < 3; i++ {
		res := NewAssembler(newRunner(), Options{Concurrency: 4}).Assemble(context.Background(), "main", previous, apps)
		data, err := Encode(res.Catalog)
		if err != nil {
			t.Fatalf("Failed to encode: %v", err)
		}
		outputs = append(outputs, string(data))
	}
	if outputs[0] != outputs[1] || outputs[1] != outputs[2] {
		t.Error("Expected byte-identical catalogs across runs")
	}
}

type fakeSigner struct{ calls int }

func (s *fakeSigner) SignDetached(data []byte) ([]byte, error) {
	s.calls++
	return []byte("-----BEGIN PGP SIGNATURE-----\n"), nil
}

func TestStoreLoadMissing(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "source.json"), Name: "Source", Identifier: "io.example.source"}
	c, err := s.Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if c.Name != "Source" || c.Identifier != "io.example.source" || c.Apps == nil || c.News == nil {
		t.Errorf("Expected empty shell, got %+v", c)
	}
}

func TestStoreLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := (&Store{Path: path}).Load()
	var se *models.SyncError
	if !errors.As(err, &se) || se.Type != models.ErrPersistence {
		t.Errorf("Expected PersistenceFailure, got %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.json")
	if err := os.WriteFile(path, []byte(`{"name":"Old","identifier":"old","apps":[{"name":"App","permissions":{"a":1}}]}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	sig := &fakeSigner{}
	s := &Store{Path: path, Name: "Source", Identifier: "io.example.source", Signer: sig}
	c, err := s.Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if c.Name != "Source" || len(c.Apps) != 1 || c.Apps[0].Permissions == nil {
		t.Errorf("Unexpected catalog: %+v", c)
	}

	c.Apps[0].LocalizedDescription = "Tools & <things>"
	changed, err := s.Save(c)
	if err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if !changed || sig.calls != 1 {
		t.Errorf("Expected write and signature, got changed=%v signs=%d", changed, sig.calls)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read catalog: %v", err)
	}
	if !strings.Contains(string(data), `"localizedDescription": "Tools & <things>"`) {
		t.Errorf("Expected unescaped, indented output:\n%s", data)
	}
	if !strings.HasSuffix(string(data), "}\n") {
		t.Error("Expected trailing newline")
	}

	changed, err = s.Save(c)
	if err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if changed || sig.calls != 1 {
		t.Errorf("Expected no-op save, got changed=%v signs=%d", changed, sig.calls)
	}

	if err := os.Remove(path + SignatureSuffix); err != nil {
		t.Fatalf("Failed to remove signature: %v", err)
	}
	if _, err := s.Save(c); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if sig.calls != 2 {
		t.Errorf("Expected missing signature to be recreated, signs=%d", sig.calls)
	}
}

func TestStoreKeepsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.json")
	doc := `{
  "name": "Source",
  "identifier": "io.example.source",
  "subtitle": "Curated <apps>",
  "website": "https://example.com",
  "featuredApps": ["com.example.app"],
  "apps": [
    {
      "name": "App",
      "githubRepo": "owner/app",
      "bundleIdentifier": "com.example.app",
      "subtitle": "keep me",
      "category": "games",
      "permissions": {"entitlements": []},
      "versions": [
        {"version": "1.0", "date": "2024-01-01", "downloadURL": "https://example.com/1.0", "size": 1, "absoluteVersion": "1.0.0"}
      ]
    },
    {
      "name": "Other",
      "githubRepo": "owner/other",
      "bundleIdentifier": "com.example.other",
      "category": "utilities"
    }
  ],
  "news": []
}
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	s := &Store{Path: path, Name: "Source", Identifier: "io.example.source"}
	previous, err := s.Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	runner := newRunner()
	runner.skip["Other"] = true
	res := NewAssembler(runner, Options{}).Assemble(context.Background(), "main", previous, []models.PackageConfig{
		{Name: "App", GitHubRepo: "owner/app"},
		{Name: "Other", GitHubRepo: "owner/other"},
	})
	if _, err := s.Save(res.Catalog); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read catalog: %v", err)
	}
	var saved struct {
		Subtitle     string   `json:"subtitle"`
		Website      string   `json:"website"`
		FeaturedApps []string `json:"featuredApps"`
		Apps         []map[string]json.RawMessage
	}
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("Failed to decode catalog: %v", err)
	}

	if saved.Subtitle != "Curated <apps>" || saved.Website != "https://example.com" ||
		len(saved.FeaturedApps) != 1 || saved.FeaturedApps[0] != "com.example.app" {
		t.Errorf("Source-level keys were not kept:\n%s", data)
	}
	if len(saved.Apps) != 2 {
		t.Fatalf("Expected 2 apps, got %d", len(saved.Apps))
	}

	app := saved.Apps[0]
	if string(app["subtitle"]) != `"keep me"` || string(app["category"]) != `"games"` {
		t.Errorf("App-level keys were not kept:\n%s", data)
	}
	if _, ok := app["permissions"]; ok {
		t.Error("Expected permissions to be dropped")
	}
	if !strings.Contains(string(data), `"absoluteVersion": "1.0.0"`) {
		t.Errorf("Version-level keys were not kept:\n%s", data)
	}
	if string(saved.Apps[1]["category"]) != `"utilities"` {
		t.Errorf("Skipped app lost its keys:\n%s", data)
	}
	if !strings.Contains(string(data), `"subtitle": "Curated <apps>"`) {
		t.Errorf("Expected unescaped, indented output:\n%s", data)
	}

	reloaded, err := s.Load()
	if err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	changed, err := s.Save(reloaded)
	if err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if changed {
		t.Error("Expected reloading and saving to be a no-op")
	}
}

func TestCurrentDownloads(t *testing.T) {
	c := models.NewCatalog("Source", "id")
	c.Apps = []*models.PackageEntry{
		{DownloadURL: "https://a", Versions: []models.VersionRecord{{DownloadURL: "https://a"}, {DownloadURL: "https://old"}}},
		{},
	}
	if diff := cmp.Diff([]string{"https://a"}, CurrentDownloads(c)); diff != "" {
		t.Errorf("Downloads mismatch (-want +got):\n%s", diff)
	}
}
