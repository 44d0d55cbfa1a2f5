package cli

import (
	"context"
	"errors"

	"github.com/ralt/altsource/internal/catalog"
	"github.com/ralt/altsource/internal/config"
	"github.com/ralt/altsource/internal/github"
	"github.com/ralt/altsource/internal/metrics"
	"github.com/ralt/altsource/internal/retention"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewPruneCmd creates the prune command
func NewPruneCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired cache buckets and superseded binaries",
		Long: `Applies the retention policy to the cache repository. Binaries that a
catalog currently links to are never deleted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Cache.Repo == "" {
				return errors.New("no cache repository configured")
			}

			recorder := metrics.NewRecorder()
			client := github.NewClient(cfg.ClientOptions())
			if err := prune(cmd.Context(), cfg, client, recorder, dryRun); err != nil {
				return err
			}
			if dryRun {
				return nil
			}
			return recorder.Flush(cfg.Metrics.Textfile, cfg.Metrics.Pushgateway, cfg.Metrics.Job)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report what would be deleted")

	return cmd
}

// prune runs retention against the cache repository, protecting the current
// download of every configured catalog.
func prune(ctx context.Context, cfg *config.Config, client *github.Client, recorder *metrics.Recorder, dryRun bool) error {
	var referenced []string
	for _, src := range cfg.Sources {
		store := &catalog.Store{Path: src.Output, Name: src.Name, Identifier: src.Identifier}
		c, err := store.Load()
		if err != nil {
			return err
		}
		referenced = append(referenced, catalog.CurrentDownloads(c)...)
	}
	logrus.Debugf("%d downloads are referenced by catalogs", len(referenced))

	policy := cfg.RetentionPolicy()
	policy.DryRun = dryRun
	report, err := retention.NewManager(client, cfg.Cache.Repo, policy, nil).Prune(ctx, referenced)
	if err != nil {
		return err
	}
	if !dryRun {
		recorder.ObserveRetention(len(report.DeletedBuckets), len(report.DeletedAssets))
	}
	return nil
}
