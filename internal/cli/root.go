package cli

import (
	"fmt"

	"github.com/ralt/altsource/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags
type globalOptions struct {
	configPath string
	verbose    bool
	logFormat  string
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "altsource",
		Short: "Maintain sideload-source catalogs from GitHub releases and CI builds",
		Long: `Altsource keeps AltStore-compatible source catalogs in sync with the
upstream projects they list.

For every package of a source it looks up the newest release or successful
workflow run, downloads the IPA only when something changed, reads its
Info.plist, re-hosts CI builds and variant binaries in dated cache buckets
and merges the build into the package's version history.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
			if opts.logFormat == "json" {
				logrus.SetFormatter(&logrus.JSONFormatter{})
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to altsource.yaml (default ./altsource.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (default from config)")

	rootCmd.AddCommand(NewSyncCmd(opts))
	rootCmd.AddCommand(NewPruneCmd(opts))
	rootCmd.AddCommand(NewValidateCmd(opts))

	return rootCmd
}

// loadConfig reads the run configuration and applies its log settings where
// no flag overrides them.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	if !o.verbose && cfg.Log.Level != "" {
		level, err := logrus.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
		}
		logrus.SetLevel(level)
	}
	if o.logFormat == "" && cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	logrus.Debugf("Configuration: %d sources, concurrency %d", len(cfg.Sources), cfg.Concurrency)
	return cfg, nil
}
