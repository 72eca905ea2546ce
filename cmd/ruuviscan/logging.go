package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Paippi/ruuviscanner/pkg/config"
)

// configureLogger builds the run logger from the merged config and the
// command's flags. --log-level takes precedence, then the verbose flag, then
// the config file's log_level. The resolved level is written back into cfg
// so the rest of the run sees one consistent value.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	if levelStr, _ := cmd.Flags().GetString("log-level"); levelStr != "" {
		cfg.LogLevel = levelStr
	} else if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	return cfg.NewLogger(), nil
}
