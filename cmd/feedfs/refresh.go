package main

import (
	"context"
	"fmt"

	"github.com/marmos91/feedfs/pkg/server"
	"github.com/spf13/cobra"
)

func newRefreshCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [feed...]",
		Short: "Fetch feeds once into storage",
		Long: `Fetch the named feeds, or every enabled feed, merge new articles into
the configured storage and print one result line per feed. Exits non-zero
if any feed failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			srv, err := server.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close(context.Background()) }()

			stats, err := srv.RefreshOnce(ctx, args...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, res := range stats.Results {
				fmt.Fprintln(out, res.String())
			}
			fmt.Fprintln(out, stats.Summary())

			if stats.Failed > 0 {
				return fmt.Errorf("%d of %d feeds failed", stats.Failed, stats.Feeds)
			}
			return nil
		},
	}
}
