package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/feedfs/pkg/fs"
	"github.com/marmos91/feedfs/pkg/server"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [mountpoint]",
		Short: "Show running mounts and the state of each feed",
		Long: `Show the config in use, the running feedfs mounts and one line per
feed. Feed state is read from a live mount when one serves this config,
otherwise from the configured storage.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			configPath := flags.resolvedConfigPath()

			if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(out, "Config:   %s (not found, run \"feedfs init\")\n", configPath)
				return nil
			}
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Config:   %s\n", configPath)
			fmt.Fprintf(out, "Storage:  %s\n", cfg.Storage.Type)
			fmt.Fprintf(out, "Feeds:    %d configured\n", len(cfg.Feeds))

			mounts, err := listMounts()
			if err != nil {
				return fmt.Errorf("list mounts: %w", err)
			}
			if len(args) == 1 {
				mounts = selectMount(mounts, absPath(args[0]), configPath)
			}

			live := printMounts(out, mounts)
			fmt.Fprintln(out)

			var reports []fs.FeedReport
			for _, m := range live {
				if m.Config != configPath {
					continue
				}
				if reports, err = readMountedReport(m.Mountpoint); err == nil {
					break
				}
			}
			if reports == nil {
				ctx := cmd.Context()
				if ctx == nil {
					ctx = context.Background()
				}
				srv, err := server.New(ctx, cfg)
				if err != nil {
					return err
				}
				defer func() { _ = srv.Close(context.Background()) }()
				reports = fs.ReportFeeds(srv.Repository().Feeds())
			}
			return printFeedTable(out, reports)
		},
	}
}

// selectMount keeps the record for mountpoint, or a placeholder when no
// feedfs process claims it.
func selectMount(mounts []mountRecord, mountpoint, configPath string) []mountRecord {
	for _, m := range mounts {
		if m.Mountpoint == mountpoint {
			return []mountRecord{m}
		}
	}
	return []mountRecord{{Mountpoint: mountpoint, Config: configPath}}
}

// printMounts writes one line per mount and returns those actually mounted.
func printMounts(out io.Writer, mounts []mountRecord) []mountRecord {
	if len(mounts) == 0 {
		fmt.Fprintln(out, "Mounts:   none")
		return nil
	}

	var live []mountRecord
	fmt.Fprintln(out, "Mounts:")
	for _, m := range mounts {
		mounted, err := isMountpoint(m.Mountpoint)
		state := "mounted"
		switch {
		case err != nil:
			state = "unavailable: " + err.Error()
		case !mounted:
			state = "not mounted"
		default:
			live = append(live, m)
		}
		if m.PID > 0 {
			fmt.Fprintf(out, "  %s  pid %d  %s\n", m.Mountpoint, m.PID, state)
		} else {
			fmt.Fprintf(out, "  %s  %s\n", m.Mountpoint, state)
		}
	}
	return live
}

func readMountedReport(mountpoint string) ([]fs.FeedReport, error) {
	body, err := os.ReadFile(filepath.Join(mountpoint, fs.MetaDirName, "feeds.yaml"))
	if err != nil {
		return nil, err
	}
	var reports []fs.FeedReport
	if err := yaml.Unmarshal(body, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}
