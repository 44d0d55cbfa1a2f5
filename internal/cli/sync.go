package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ralt/altsource/internal/cache"
	"github.com/ralt/altsource/internal/catalog"
	"github.com/ralt/altsource/internal/config"
	"github.com/ralt/altsource/internal/github"
	"github.com/ralt/altsource/internal/icon"
	"github.com/ralt/altsource/internal/metrics"
	"github.com/ralt/altsource/internal/models"
	"github.com/ralt/altsource/internal/pipeline"
	"github.com/ralt/altsource/internal/signer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewSyncCmd creates the sync command
func NewSyncCmd(opts *globalOptions) *cobra.Command {
	var sourceName string
	var skipPrune bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize catalogs with their upstream projects",
		Long: `Synchronizes every configured source, or only the one given with
--source, then prunes expired cache buckets. Individual packages that fail
keep their previous catalog entry; only a catalog that cannot be read or
written makes the command fail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			sources := cfg.Sources
			if sourceName != "" {
				src, err := cfg.Source(sourceName)
				if err != nil {
					return err
				}
				sources = []config.SourceConfig{src}
			}

			return runSync(cmd.Context(), cfg, sources, skipPrune)
		},
	}

	cmd.Flags().StringVarP(&sourceName, "source", "s", "", "Only synchronize the named source")
	cmd.Flags().BoolVar(&skipPrune, "skip-prune", false, "Do not prune the cache repository afterwards")

	return cmd
}

func runSync(ctx context.Context, cfg *config.Config, sources []config.SourceConfig, skipPrune bool) error {
	runID := uuid.NewString()
	log := logrus.WithField("run", runID)
	log.Infof("Starting sync of %d sources", len(sources))

	client := github.NewClient(cfg.ClientOptions())
	icons := icon.NewResolver(client, cfg.Icon.ImprovementThreshold, cfg.Icon.MaxCandidates)

	var publisher pipeline.Publisher
	if cfg.Cache.Repo != "" {
		publisher = cache.NewPublisher(client, cfg.Cache.Repo, cfg.Cache.TagPrefix)
	} else {
		log.Warn("No cache repository configured, CI builds and variants cannot be published")
	}

	sign, err := newSigner(cfg)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	p := pipeline.New(client, publisher, icons, pipeline.Options{
		WorkDir:   cfg.WorkDir,
		LegacyTag: cfg.Cache.LegacyTag,
		Log:       log,
	})
	assembler := catalog.NewAssembler(p, catalog.Options{
		Concurrency: cfg.Concurrency,
		Icons:       icons,
		Metrics:     recorder,
		Log:         log,
	})

	for _, src := range sources {
		if err := syncSource(ctx, assembler, src, sign); err != nil {
			return err
		}
	}

	if !skipPrune && cfg.Cache.Repo != "" {
		if err := prune(ctx, cfg, client, recorder, false); err != nil {
			// Retention runs again next time; the catalogs are already written.
			log.Errorf("Pruning failed: %v", err)
		}
	}

	if err := recorder.Flush(cfg.Metrics.Textfile, cfg.Metrics.Pushgateway, cfg.Metrics.Job); err != nil {
		log.Warnf("Failed to export metrics: %v", err)
	}

	log.Info("Sync complete")
	return nil
}

func syncSource(ctx context.Context, assembler *catalog.Assembler, src config.SourceConfig, sign signer.Signer) error {
	logrus.Infof("Processing source %s", src.Name)

	apps, err := config.LoadApps(src.Apps)
	if err != nil {
		return err
	}

	store := &catalog.Store{
		Path:       src.Output,
		Name:       src.Name,
		Identifier: src.Identifier,
		Signer:     sign,
	}
	previous, err := store.Load()
	if err != nil {
		return err
	}

	res := assembler.Assemble(ctx, src.Name, previous, apps.Apps)

	if _, err := store.Save(res.Catalog); err != nil {
		return err
	}

	if n := apps.Apply(res.Suggestions); n > 0 {
		logrus.Infof("Updating %s with %d auto-detected values", src.Apps, n)
		if _, err := apps.Save(); err != nil {
			return models.NewSyncError(models.ErrPersistence, src.Apps, err)
		}
	}
	return nil
}

func newSigner(cfg *config.Config) (signer.Signer, error) {
	if cfg.Signing.Key == "" {
		return nil, nil
	}
	s, err := signer.NewOpenPGPSigner(cfg.Signing.Key, cfg.Signing.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	return s, nil
}
