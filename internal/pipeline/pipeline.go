// Package pipeline synchronizes one catalog entry with its upstream source.
//
// A run walks FETCH_SOURCE, SELECT_ASSET, CHECK_UP_TO_DATE, DOWNLOAD,
// EXTRACT_METADATA, RESOLVE_IDENTITY, MERGE_VERSION and PUBLISH_CACHE. Any
// step may end the run early as SKIPPED or FAILED; both return the previous
// entry untouched. Runs share no mutable state and may execute concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralt/altsource/internal/archive"
	"github.com/ralt/altsource/internal/cache"
	"github.com/ralt/altsource/internal/github"
	"github.com/ralt/altsource/internal/icon"
	"github.com/ralt/altsource/internal/identity"
	"github.com/ralt/altsource/internal/ipa"
	"github.com/ralt/altsource/internal/ledger"
	"github.com/ralt/altsource/internal/models"
	"github.com/ralt/altsource/internal/selector"
	"github.com/ralt/altsource/internal/utils"
	"github.com/sirupsen/logrus"
)

// RemoteAPI is the upstream repository API the pipeline consumes
type RemoteAPI interface {
	GetLatestRelease(ctx context.Context, repo string, preferPrerelease bool, tagRegex string) (*models.Release, error)
	GetLatestWorkflowRun(ctx context.Context, repo, workflow, branch string) (*models.WorkflowRun, error)
	ListRunArtifacts(ctx context.Context, repo string, runID int64) ([]models.Asset, error)
	DownloadArtifact(ctx context.Context, repo string, artifactID int64, destPath string) (int64, error)
	DownloadAsset(ctx context.Context, asset models.Asset, destPath string) (int64, error)
	GetRepoInfo(ctx context.Context, repo string) (*models.RepoInfo, error)
	Fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error)
}

// Publisher re-hosts binaries in the dated cache buckets
type Publisher interface {
	Repo() string
	Publish(ctx context.Context, path, name string, day time.Time) (*models.Asset, error)
}

// IconFinder discovers icons and tint colours
type IconFinder interface {
	Best(ctx context.Context, repo string) (*icon.Choice, error)
	Improve(ctx context.Context, repo, current string) (*icon.Choice, error)
	Tint(ctx context.Context, url string) (string, error)
}

// Options configures a Pipeline
type Options struct {
	// WorkDir holds the per-run scratch directories, os.TempDir() when empty
	WorkDir string
	// LegacyTag is the fixed-name cache bucket of the previous hosting scheme
	LegacyTag string
	Now       func() time.Time
	Log       *logrus.Entry
}

// Pipeline runs the per-package state machine
type Pipeline struct {
	api              RemoteAPI
	publisher        Publisher
	icons            IconFinder
	releaseSelector  *selector.Selector
	artifactSelector *selector.Selector
	workDir          string
	legacyTag        string
	now              func() time.Time
	log              *logrus.Entry
}

// New creates a pipeline. publisher and icons may be nil, in which case CI
// sources fail and icon discovery is skipped.
func New(api RemoteAPI, publisher Publisher, icons IconFinder, opts Options) *Pipeline {
	p := &Pipeline{
		api:              api,
		publisher:        publisher,
		icons:            icons,
		releaseSelector:  selector.New(".ipa"),
		artifactSelector: selector.New(""),
		workDir:          opts.WorkDir,
		legacyTag:        opts.LegacyTag,
		now:              opts.Now,
		log:              opts.Log,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return p
}

// Run synchronizes one package. previous is the package's current catalog
// entry, or nil for a new package; it is never modified.
func (p *Pipeline) Run(ctx context.Context, cfg models.PackageConfig, previous *models.PackageEntry) Outcome {
	start := time.Now()

	r := &syncRun{
		p:     p,
		cfg:   cfg,
		prev:  previous,
		entry: previous.Clone(),
		log: p.log.WithFields(logrus.Fields{
			"app":  cfg.Name,
			"repo": cfg.GitHubRepo,
		}),
	}

	out := r.execute(ctx)
	out.Config = cfg
	out.Duration = time.Since(start)
	r.report(out)
	return out
}

// syncRun carries the state of one package's run through the steps
type syncRun struct {
	p     *Pipeline
	cfg   models.PackageConfig
	prev  *models.PackageEntry
	entry *models.PackageEntry
	log   *logrus.Entry

	step        State
	dir         string
	source      *models.UpstreamSource
	asset       models.Asset
	binary      string
	meta        *ipa.Metadata
	bundleID    string
	repackaged  bool
	record      models.VersionRecord
	suggestions []models.ConfigSuggestion
}

func (r *syncRun) execute(ctx context.Context) Outcome {
	steps := []struct {
		state State
		run   func(context.Context) *Outcome
	}{
		{StateFetchSource, r.fetchSource},
		{StateSelectAsset, r.selectAsset},
		{StateCheckUpToDate, r.checkUpToDate},
		{StateDownload, r.download},
		{StateExtractMetadata, r.extractMetadata},
		{StateResolveIdentity, r.resolveIdentity},
		{StateMergeVersion, r.mergeVersion},
		{StatePublishCache, r.publishCache},
	}

	defer func() {
		if r.dir != "" {
			os.RemoveAll(r.dir)
		}
	}()

	for _, s := range steps {
		r.step = s.state
		if err := ctx.Err(); err != nil {
			return *r.fail(models.ErrTransfer, err)
		}
		if out := s.run(ctx); out != nil {
			return *out
		}
	}

	return Outcome{
		Kind:        Updated,
		Entry:       r.entry,
		State:       StateDone,
		Step:        StateDone,
		Source:      r.source.Kind,
		Suggestions: r.suggestions,
	}
}

func (r *syncRun) fetchSource(ctx context.Context) *Outcome {
	repo := r.cfg.GitHubRepo

	if r.cfg.UsesWorkflow() {
		run, err := r.p.api.GetLatestWorkflowRun(ctx, repo, r.cfg.GitHubWorkflow, models.CleanOptional(r.cfg.WorkflowBranch))
		if err != nil {
			return r.sourceError(err)
		}
		artifacts, err := r.p.api.ListRunArtifacts(ctx, repo, run.ID)
		if err != nil {
			return r.sourceError(err)
		}
		r.source = &models.UpstreamSource{Kind: models.SourceWorkflow, Run: run, Assets: artifacts}
		r.log.Debugf("Latest run %d at %s", run.ID, run.ShortSHA())
		return nil
	}

	release, err := r.p.api.GetLatestRelease(ctx, repo, r.cfg.PreRelease, r.cfg.TagRegex)
	if err != nil {
		return r.sourceError(err)
	}
	r.source = &models.UpstreamSource{Kind: models.SourceRelease, Release: release, Assets: release.Assets}
	r.log.Debugf("Latest release %s", release.TagName)
	return nil
}

func (r *syncRun) sourceError(err error) *Outcome {
	if errors.Is(err, github.ErrNotFound) {
		return r.skip(models.ErrSourceNotFound, err)
	}
	return r.fail(models.ErrTransfer, err)
}

func (r *syncRun) selectAsset(ctx context.Context) *Outcome {
	sel := r.p.releaseSelector
	hints := selector.Hints{Name: r.cfg.Name, Override: r.cfg.IPARegex}
	if r.source.Kind == models.SourceWorkflow {
		sel = r.p.artifactSelector
		hints.Override = r.cfg.ArtifactName
	}

	asset, err := sel.Select(r.source.Assets, hints)
	if err != nil {
		return r.skip(models.ErrNoAssetMatch, err)
	}
	r.asset = asset
	return nil
}

// checkUpToDate ends the run before any download when the newest ledger
// record already is the discovered build.
func (r *syncRun) checkUpToDate(ctx context.Context) *Outcome {
	if r.entry == nil {
		return nil
	}
	latest := r.entry.Latest()
	if latest == nil {
		return nil
	}

	switch {
	case !r.isStableReference(latest.DownloadURL):
		return nil
	case !r.versionAgrees(latest.Version):
		return nil
	case ledger.IsMeaningless(latest.Version):
		r.log.Debugf("Version %q is a placeholder, checking content", latest.Version)
		return nil
	case r.correctionPending():
		r.log.Infof("Identifier %s needs a variant correction", r.entry.BundleIdentifier)
		return nil
	case r.inLegacyBucket(latest.DownloadURL):
		r.log.Infof("Migrating %s out of the legacy cache", latest.Version)
		return nil
	}
	return r.unchanged("already up to date")
}

// isStableReference reports whether url is the direct link of the selected
// asset or the cached copy of the same upstream build.
func (r *syncRun) isStableReference(url string) bool {
	if r.source.Kind == models.SourceRelease && url == r.asset.DownloadURL {
		return true
	}
	return path.Base(url) == cache.AssetName(r.entry.BundleIdentifier, r.upstreamRef())
}

// versionAgrees compares against the release tag. CI runs carry no version.
func (r *syncRun) versionAgrees(current string) bool {
	if r.source.Kind == models.SourceWorkflow {
		return true
	}
	return ledger.SameVersion(r.source.Release.TagName, current)
}

func (r *syncRun) correctionPending() bool {
	if override := models.CleanOptional(r.cfg.BundleID); override != "" {
		return r.entry.BundleIdentifier != override
	}
	return identity.PendingCorrection(r.entry.BundleIdentifier, r.cfg.Name, r.cfg.RepoName())
}

func (r *syncRun) inLegacyBucket(url string) bool {
	if r.p.legacyTag == "" || r.p.publisher == nil {
		return false
	}
	return cache.InBucket(url, r.p.publisher.Repo(), r.p.legacyTag)
}

// upstreamRef identifies the upstream build: the commit for CI, the tag otherwise
func (r *syncRun) upstreamRef() string {
	if r.source.Kind == models.SourceWorkflow {
		return r.source.Run.ShortSHA()
	}
	return r.source.Release.TagName
}

func (r *syncRun) download(ctx context.Context) *Outcome {
	dir, err := os.MkdirTemp(r.p.workDir, "altsource-*")
	if err != nil {
		return r.fail(models.ErrTransfer, fmt.Errorf("failed to create work directory: %w", err))
	}
	r.dir = dir
	r.binary = filepath.Join(dir, "package.ipa")

	r.log.Infof("Downloading %s", r.asset.Name)

	if r.source.Kind == models.SourceWorkflow {
		artifact := filepath.Join(dir, "artifact.zip")
		if _, err := r.p.api.DownloadArtifact(ctx, r.cfg.GitHubRepo, r.asset.ID, artifact); err != nil {
			return r.fail(models.ErrTransfer, err)
		}
		if err := r.unpackArtifact(artifact); err != nil {
			return r.skip(models.ErrNoAssetMatch, fmt.Errorf("artifact %s: %w", r.asset.Name, err))
		}
		return nil
	}

	if _, err := r.p.api.DownloadAsset(ctx, r.asset, r.binary); err != nil {
		return r.fail(models.ErrTransfer, err)
	}
	return r.verifySignature(ctx)
}

// unpackArtifact extracts the IPA from a CI artifact, descending into one
// nested tarball when the artifact wraps the IPA in one.
func (r *syncRun) unpackArtifact(src string) error {
	current := src
	for depth := 0; depth < 2; depth++ {
		dest := filepath.Join(r.dir, fmt.Sprintf("member-%d", depth))
		member, err := archive.ExtractMember(current, dest, r.chooseMember)
		if err != nil {
			return err
		}
		if !archive.IsTarball(member.Name) {
			return os.Rename(dest, r.binary)
		}
		current = dest
	}
	return archive.ErrNoMember
}

// chooseMember prefers the IPA best matching the package name, then a tarball
func (r *syncRun) chooseMember(members []archive.Member) (archive.Member, bool) {
	var ipas []models.Asset
	for _, m := range members {
		if strings.HasSuffix(strings.ToLower(m.Name), ".ipa") {
			ipas = append(ipas, models.Asset{Name: m.Name, Size: m.Size})
		}
	}
	if len(ipas) > 0 {
		best := r.p.releaseSelector.Rank(ipas, r.cfg.Name)[0].Asset
		return archive.Member{Name: best.Name, Size: best.Size}, true
	}

	for _, m := range members {
		if archive.IsTarball(m.Name) {
			return m, true
		}
	}
	return archive.Member{}, false
}

func (r *syncRun) extractMetadata(ctx context.Context) *Outcome {
	meta, err := ipa.ParsePackage(r.binary)
	if err != nil {
		if meta == nil {
			return r.fail(models.ErrMalformedPackage, err)
		}
		if r.source.Kind == models.SourceWorkflow {
			return r.skip(models.ErrMalformedPackage, err)
		}
		r.log.Warnf("Failed to parse IPA metadata, using fallback: %v", err)
		meta.Version = strings.TrimPrefix(r.source.Release.TagName, "v")
		meta.BundleIdentifier = placeholderIdentifier(r.cfg.Name)
	}

	if meta.BundleIdentifier == "" {
		meta.BundleIdentifier = placeholderIdentifier(r.cfg.Name)
	}
	if meta.Version == "" {
		if r.source.Kind == models.SourceWorkflow {
			meta.Version = r.source.Run.ShortSHA()
		} else {
			meta.Version = strings.TrimPrefix(r.source.Release.TagName, "v")
		}
	}

	r.meta = meta
	return nil
}

func placeholderIdentifier(name string) string {
	return "com.placeholder." + strings.ReplaceAll(strings.ToLower(name), " ", "")
}

// resolveIdentity derives the variant identifier and rewrites the binary when
// it differs from the embedded one. A failed rewrite publishes the original
// binary under its embedded identifier, leaving the correction pending.
func (r *syncRun) resolveIdentity(ctx context.Context) *Outcome {
	base := r.meta.BundleIdentifier

	var res identity.Resolution
	if override := models.CleanOptional(r.cfg.BundleID); override != "" {
		res = identity.Resolution{Identifier: override, Repackage: override != base}
	} else {
		res = identity.Resolve(base, r.cfg.Name, r.cfg.RepoName())
	}

	r.bundleID = res.Identifier
	if !res.Repackage {
		return nil
	}

	repacked := filepath.Join(r.dir, "repackaged.ipa")
	err := ipa.Repackage(r.binary, repacked, res.Identifier)
	var checksum *utils.Checksum
	if err == nil {
		checksum, err = utils.CalculateChecksum(repacked)
	}
	if err != nil {
		r.log.WithError(models.NewSyncError(models.ErrRepackage, r.cfg.Name, err)).
			Warnf("Publishing original binary as %s, %s stays pending", base, res.Identifier)
		r.bundleID = base
		return nil
	}

	r.log.Infof("Repackaged %s as %s", base, res.Identifier)
	r.binary = repacked
	r.meta.SHA256 = checksum.SHA256
	r.meta.Size = checksum.Size
	r.repackaged = true
	return nil
}

func (r *syncRun) mergeVersion(ctx context.Context) *Outcome {
	if r.entry != nil {
		latest := r.entry.Latest()
		if latest != nil && latest.SHA256 == r.meta.SHA256 && r.entry.BundleIdentifier == r.bundleID {
			return r.unchanged("content unchanged")
		}
	}

	r.record = models.VersionRecord{
		Version:              r.meta.Version,
		Date:                 r.source.Date(),
		LocalizedDescription: r.versionDescription(),
		DownloadURL:          r.asset.DownloadURL,
		Size:                 r.meta.Size,
		SHA256:               r.meta.SHA256,
		MinOSVersion:         r.meta.MinOSVersion,
	}
	if r.meta.Build != "" && r.meta.Build != r.meta.Version {
		r.record.BuildVersion = r.meta.Build
	}

	description := "No description available."
	info, err := r.p.api.GetRepoInfo(ctx, r.cfg.GitHubRepo)
	if err != nil {
		r.log.Warnf("Failed to get repository info: %v", err)
	} else if info.Description != "" {
		description = info.Description
	}

	entry := r.entry
	if entry == nil {
		r.log.Infof("Adding new app %s", r.meta.Version)
		entry = &models.PackageEntry{
			DeveloperName:  r.cfg.Owner(),
			ScreenshotURLs: []string{},
		}
	} else {
		r.log.Infof("New version %s detected", r.meta.Version)
	}
	if err == nil || entry.LocalizedDescription == "" {
		entry.LocalizedDescription = description
	}

	entry.Name = r.cfg.Name
	entry.GitHubRepo = r.cfg.GitHubRepo
	entry.BundleIdentifier = r.bundleID
	entry.Permissions = nil
	entry.Versions = ledger.Merge(entry.Versions, r.record)
	entry.ApplyLatest()

	r.entry = entry
	r.resolvePresentation(ctx)
	return nil
}

func (r *syncRun) versionDescription() string {
	if r.source.Kind == models.SourceWorkflow {
		if msg := strings.TrimSpace(r.source.Run.CommitMessage); msg != "" {
			return msg
		}
		return fmt.Sprintf("Build %s@%s", r.source.Run.HeadBranch, r.source.Run.ShortSHA())
	}
	if body := strings.TrimSpace(r.source.Release.Body); body != "" {
		return body
	}
	return "Update"
}

// resolvePresentation fills the icon and tint of the entry. Configured
// values always win; discovered ones are suggested back to the config.
func (r *syncRun) resolvePresentation(ctx context.Context) {
	entry := r.entry
	iconChanged := false

	if configured := r.cfg.ConfiguredIcon(); configured != "" {
		iconChanged = entry.IconURL != configured
		entry.IconURL = configured
	} else if r.p.icons != nil {
		var choice *icon.Choice
		var err error
		if entry.IconURL == "" {
			choice, err = r.p.icons.Best(ctx, r.cfg.GitHubRepo)
		} else {
			choice, err = r.p.icons.Improve(ctx, r.cfg.GitHubRepo, entry.IconURL)
		}
		if err != nil {
			r.log.Warnf("Icon discovery failed: %v", err)
		}
		if choice != nil && choice.URL != entry.IconURL {
			entry.IconURL = choice.URL
			iconChanged = true
			r.suggest("icon_url", choice.URL)
		}
	}

	if tint := models.CleanOptional(r.cfg.TintColor); tint != "" {
		entry.TintColor = tint
		return
	}
	if entry.TintColor != "" && entry.TintColor != icon.DefaultTint && !iconChanged {
		return
	}

	if r.p.icons != nil && entry.IconURL != "" {
		tint, err := r.p.icons.Tint(ctx, entry.IconURL)
		if err != nil {
			r.log.Debugf("Could not extract colour from %s: %v", entry.IconURL, err)
		} else {
			entry.TintColor = tint
			r.suggest("tint_color", tint)
			return
		}
	}
	if entry.TintColor == "" {
		entry.TintColor = icon.DefaultTint
	}
}

func (r *syncRun) suggest(field, value string) {
	r.suggestions = append(r.suggestions, models.ConfigSuggestion{
		GitHubRepo: r.cfg.GitHubRepo,
		Name:       r.cfg.Name,
		Field:      field,
		Value:      value,
	})
}

// publishCache re-hosts CI builds, whose links expire, and repackaged
// binaries, whose bytes differ from upstream.
func (r *syncRun) publishCache(ctx context.Context) *Outcome {
	if r.source.Kind != models.SourceWorkflow && !r.repackaged {
		return nil
	}
	if r.p.publisher == nil {
		return r.fail(models.ErrTransfer, errors.New("no cache repository configured"))
	}

	name := cache.AssetName(r.bundleID, r.upstreamRef())
	asset, err := r.p.publisher.Publish(ctx, r.binary, name, r.p.now())
	if err != nil {
		return r.fail(models.ErrTransfer, err)
	}

	for i := range r.entry.Versions {
		v := &r.entry.Versions[i]
		if v.SHA256 == r.record.SHA256 && v.Version == r.record.Version {
			v.DownloadURL = asset.DownloadURL
		}
	}
	r.entry.ApplyLatest()
	r.log.Infof("Cached as %s", asset.DownloadURL)
	return nil
}

func (r *syncRun) skip(t models.ErrorType, err error) *Outcome {
	return &Outcome{
		Kind:   Skipped,
		Entry:  r.prev,
		State:  StateSkipped,
		Step:   r.step,
		Reason: t.String(),
		Err:    models.NewSyncError(t, r.cfg.Name, err),
		Source: r.sourceKind(),
	}
}

func (r *syncRun) unchanged(reason string) *Outcome {
	return &Outcome{
		Kind:   Skipped,
		Entry:  r.prev,
		State:  StateSkipped,
		Step:   r.step,
		Reason: reason,
		Source: r.sourceKind(),
	}
}

func (r *syncRun) fail(t models.ErrorType, err error) *Outcome {
	return &Outcome{
		Kind:   Failed,
		Entry:  r.prev,
		State:  StateFailed,
		Step:   r.step,
		Reason: t.String(),
		Err:    models.NewSyncError(t, r.cfg.Name, err),
		Source: r.sourceKind(),
	}
}

func (r *syncRun) sourceKind() models.SourceKind {
	if r.cfg.UsesWorkflow() {
		return models.SourceWorkflow
	}
	return models.SourceRelease
}

// report writes the one structured line per package outcome
func (r *syncRun) report(out Outcome) {
	log := r.log.WithFields(logrus.Fields{
		"outcome":  out.Kind.String(),
		"state":    out.Step.String(),
		"duration": out.Duration.Round(time.Millisecond).String(),
	})
	if out.Reason != "" {
		log = log.WithField("reason", out.Reason)
	}

	switch out.Kind {
	case Updated:
		log.Infof("Synchronized %s", out.Entry.Version)
	case Skipped:
		if out.Err != nil {
			log.Warnf("Skipped: %v", out.Err)
		} else {
			log.Info("Skipped")
		}
	default:
		log.Errorf("Failed: %v", out.Err)
	}
}
