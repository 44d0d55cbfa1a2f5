package cli

import (
	"errors"

	"github.com/ralt/altsource/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewValidateCmd creates the validate command
func NewValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and every package list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return validateSources(cfg)
		},
	}
}

func validateSources(cfg *config.Config) error {
	var errs []error
	for _, src := range cfg.Sources {
		apps, err := config.LoadApps(src.Apps)
		if err != nil {
			logrus.Errorf("%s: %v", src.Name, err)
			errs = append(errs, err)
			continue
		}
		logrus.Infof("%s: %d packages OK", src.Name, len(apps.Apps))
	}
	return errors.Join(errs...)
}
