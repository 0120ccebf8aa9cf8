package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/marmos91/feedfs/pkg/fs"
	"github.com/marmos91/feedfs/pkg/server"
	"github.com/spf13/cobra"
)

func newFeedsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List configured feeds and their stored articles",
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

			return printFeedTable(cmd.OutOrStdout(), fs.ReportFeeds(srv.Repository().Feeds()))
		},
	}
}

func printFeedTable(out io.Writer, feeds []fs.FeedReport) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tARTICLES\tLAST REFRESH\tURL")
	for _, f := range feeds {
		last := f.LastRefreshed
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", f.Name, f.Status, f.Articles, last, f.URL)
	}
	return w.Flush()
}
