// Package catalog builds sideload-source catalogs: it runs the package
// pipelines on a bounded worker pool, merges their outcomes in configuration
// order and persists the result.
package catalog

import (
	"context"

	"github.com/ralt/altsource/internal/icon"
	"github.com/ralt/altsource/internal/metrics"
	"github.com/ralt/altsource/internal/models"
	"github.com/ralt/altsource/internal/pipeline"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the number of packages synchronized at once
const DefaultConcurrency = 5

// Runner synchronizes one package
type Runner interface {
	Run(ctx context.Context, cfg models.PackageConfig, previous *models.PackageEntry) pipeline.Outcome
}

// Options configures an Assembler
type Options struct {
	Concurrency int
	// Icons fills in missing icons and tints of entries whose upstream did
	// not change. Optional.
	Icons pipeline.IconFinder
	// Metrics is optional
	Metrics *metrics.Recorder
	Log     *logrus.Entry
}

// Assembler produces a new catalog from the previous one and a package list
type Assembler struct {
	runner      Runner
	concurrency int
	icons       pipeline.IconFinder
	metrics     *metrics.Recorder
	log         *logrus.Entry
}

// Result is the outcome of assembling one catalog
type Result struct {
	Catalog *models.Catalog
	// Outcomes is index-aligned with the package list
	Outcomes    []pipeline.Outcome
	Suggestions []models.ConfigSuggestion
	Updated     int
	Skipped     int
	Failed      int
}

// NewAssembler creates an assembler running packages through runner
func NewAssembler(runner Runner, opts Options) *Assembler {
	a := &Assembler{
		runner:      runner,
		concurrency: opts.Concurrency,
		icons:       opts.Icons,
		metrics:     opts.Metrics,
		log:         opts.Log,
	}
	if a.concurrency < 1 {
		a.concurrency = DefaultConcurrency
	}
	if a.log == nil {
		a.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return a
}

type indexedOutcome struct {
	index   int
	outcome pipeline.Outcome
}

// Assemble synchronizes every package of apps and returns the new catalog.
// previous is not modified. The order of the new catalog follows apps and
// entries of packages no longer configured are dropped.
func (a *Assembler) Assemble(ctx context.Context, source string, previous *models.Catalog, apps []models.PackageConfig) *Result {
	entries := MatchEntries(previous.Apps, apps)

	results := make(chan indexedOutcome, len(apps))
	go func() {
		var g errgroup.Group
		g.SetLimit(a.concurrency)
		for i := range apps {
			g.Go(func() error {
				out := a.runner.Run(ctx, apps[i], entries[i])
				if out.Kind != pipeline.Updated && out.Entry != nil && a.icons != nil {
					a.refreshPresentation(ctx, apps[i], &out)
				}
				results <- indexedOutcome{index: i, outcome: out}
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	// Single collector: only this goroutine touches the result.
	res := &Result{Outcomes: make([]pipeline.Outcome, len(apps))}
	for r := range results {
		res.Outcomes[r.index] = r.outcome
	}

	catalog := &models.Catalog{
		Name:       previous.Name,
		Identifier: previous.Identifier,
		Apps:       []*models.PackageEntry{},
		News:       previous.News,
		Extra:      previous.Extra,
	}
	for i, cfg := range apps {
		out := res.Outcomes[i]
		switch out.Kind {
		case pipeline.Updated:
			res.Updated++
		case pipeline.Skipped:
			res.Skipped++
		default:
			res.Failed++
		}
		res.Suggestions = append(res.Suggestions, out.Suggestions...)

		if a.metrics != nil {
			a.metrics.ObservePackage(source, out.Kind.String(), out.Reason, out.Duration)
		}
		if out.Entry == nil {
			continue
		}
		catalog.Apps = append(catalog.Apps, applyConfig(out.Entry, cfg))
	}
	res.Catalog = catalog

	if a.metrics != nil {
		a.metrics.SetCatalogSize(source, len(catalog.Apps))
	}
	a.log.WithField("source", source).Infof("%d updated, %d skipped, %d failed, %d apps",
		res.Updated, res.Skipped, res.Failed, len(catalog.Apps))
	return res
}

// MatchEntries finds the previous entry of every package. An entry matches
// on repository and name, then as a legacy entry without repository by
// owner and name, then as the only unclaimed entry of the repository, which
// covers renamed packages. Each entry is claimed at most once.
func MatchEntries(entries []*models.PackageEntry, apps []models.PackageConfig) []*models.PackageEntry {
	matched := make([]*models.PackageEntry, len(apps))
	claimed := make(map[*models.PackageEntry]bool)

	claim := func(i int, pred func(e *models.PackageEntry) bool) {
		for _, e := range entries {
			if !claimed[e] && pred(e) {
				matched[i] = e
				claimed[e] = true
				return
			}
		}
	}

	for i, cfg := range apps {
		claim(i, func(e *models.PackageEntry) bool {
			return e.GitHubRepo == cfg.GitHubRepo && e.Name == cfg.Name
		})
	}
	for i, cfg := range apps {
		if matched[i] != nil {
			continue
		}
		claim(i, func(e *models.PackageEntry) bool {
			return e.GitHubRepo == "" && e.DeveloperName == cfg.Owner() && e.Name == cfg.Name
		})
	}
	for i, cfg := range apps {
		if matched[i] != nil {
			continue
		}
		var candidate *models.PackageEntry
		count := 0
		for _, e := range entries {
			if !claimed[e] && e.GitHubRepo == cfg.GitHubRepo {
				candidate = e
				count++
			}
		}
		if count == 1 {
			logrus.Infof("Matched %q to renamed entry %q", cfg.Name, candidate.Name)
			matched[i] = candidate
			claimed[candidate] = true
		}
	}
	return matched
}

// applyConfig refreshes the fields the package list declares. It returns a
// copy; entry itself is left alone.
func applyConfig(entry *models.PackageEntry, cfg models.PackageConfig) *models.PackageEntry {
	e := entry.Clone()
	e.Name = cfg.Name
	e.GitHubRepo = cfg.GitHubRepo
	e.Permissions = nil
	if configured := cfg.ConfiguredIcon(); configured != "" {
		e.IconURL = configured
	}
	if tint := models.CleanOptional(cfg.TintColor); tint != "" {
		e.TintColor = tint
	}
	if e.ScreenshotURLs == nil {
		e.ScreenshotURLs = []string{}
	}
	if e.Versions == nil {
		e.Versions = []models.VersionRecord{}
	}
	return e
}

// refreshPresentation fills a missing icon or tint of an entry whose
// upstream did not change.
func (a *Assembler) refreshPresentation(ctx context.Context, cfg models.PackageConfig, out *pipeline.Outcome) {
	needIcon := cfg.ConfiguredIcon() == "" && out.Entry.IconURL == ""
	needTint := models.CleanOptional(cfg.TintColor) == "" &&
		(out.Entry.TintColor == "" || out.Entry.TintColor == icon.DefaultTint)
	if !needIcon && !needTint {
		return
	}

	entry := out.Entry.Clone()
	log := a.log.WithField("app", cfg.Name)

	if needIcon {
		choice, err := a.icons.Best(ctx, cfg.GitHubRepo)
		if err != nil {
			log.Warnf("Icon discovery failed: %v", err)
		}
		if choice != nil {
			entry.IconURL = choice.URL
			out.Suggestions = append(out.Suggestions, suggestion(cfg, "icon_url", choice.URL))
		}
	}

	iconURL := entry.IconURL
	if configured := cfg.ConfiguredIcon(); configured != "" {
		iconURL = configured
	}
	if needTint && iconURL != "" {
		tint, err := a.icons.Tint(ctx, iconURL)
		if err != nil {
			log.Debugf("Could not extract colour from %s: %v", iconURL, err)
		} else if tint != entry.TintColor {
			entry.TintColor = tint
			out.Suggestions = append(out.Suggestions, suggestion(cfg, "tint_color", tint))
		}
	}
	if entry.TintColor == "" {
		entry.TintColor = icon.DefaultTint
	}

	out.Entry = entry
}

func suggestion(cfg models.PackageConfig, field, value string) models.ConfigSuggestion {
	return models.ConfigSuggestion{GitHubRepo: cfg.GitHubRepo, Name: cfg.Name, Field: field, Value: value}
}
