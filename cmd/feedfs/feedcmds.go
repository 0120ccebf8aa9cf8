package main

import (
	"fmt"
	"io"
	"syscall"

	"github.com/marmos91/feedfs/pkg/config"
	"github.com/spf13/cobra"
)

func newAddFeedCmd(flags *globalFlags) *cobra.Command {
	var disabled bool

	cmd := &cobra.Command{
		Use:   "add-feed <name> <url>",
		Short: "Subscribe to a feed",
		Long: `Add a feed to the config file. Running mounts using the same config
are signalled to reload, so the new directory appears without remounting.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc := config.FeedConfig{Name: args[0], URL: args[1]}
			if disabled {
				enabled := false
				fc.Enabled = &enabled
			}

			path, err := config.AddFeed(flags.configPath, fc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added feed %q to %s\n", fc.Name, path)
			return notifyMounts(cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the feed without refreshing it")
	return cmd
}

func newRemoveFeedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-feed <name>",
		Short: "Unsubscribe from a feed",
		Long: `Remove a feed from the config file. Running mounts using the same
config are signalled to reload, which drops the feed directory and deletes
its stored articles.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.RemoveFeed(flags.configPath, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed feed %q from %s\n", args[0], path)
			return notifyMounts(cmd.OutOrStdout(), flags)
		},
	}
}

// notifyMounts sends SIGHUP to the mounts serving the edited config.
func notifyMounts(out io.Writer, flags *globalFlags) error {
	n, err := signalMounts(flags.resolvedConfigPath(), syscall.SIGHUP)
	if err != nil {
		return fmt.Errorf("signal running mounts: %w", err)
	}
	if n > 0 {
		fmt.Fprintf(out, "Reloaded %d running mount(s)\n", n)
	}
	return nil
}
