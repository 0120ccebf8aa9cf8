package main

import (
	"fmt"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/config"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "feedfs",
		Short: "Browse RSS and Atom feeds as a read-only filesystem",
		Long: `feedfs mounts subscribed RSS and Atom feeds as a filesystem: one
directory per feed, one markdown file per article. Feeds are refreshed in
the background and articles survive restarts in the configured storage.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (default: "+config.GetDefaultConfigPath()+")")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		newMountCmd(flags),
		newRefreshCmd(flags),
		newInitCmd(flags),
		newFeedsCmd(flags),
		newAddFeedCmd(flags),
		newRemoveFeedCmd(flags),
		newStatusCmd(flags),
		newUnmountCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the configuration and sets up logging from it.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}

	if err := logger.Configure(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, nil
}

// resolvedConfigPath is the absolute path of the config file in use. Mount
// records store it so that edits can find the mounts they affect.
func (f *globalFlags) resolvedConfigPath() string {
	if f.configPath == "" {
		return config.GetDefaultConfigPath()
	}
	return absPath(f.configPath)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedfs %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
