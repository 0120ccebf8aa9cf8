package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/adapter/fuse"
	"github.com/marmos91/feedfs/pkg/config"
	"github.com/marmos91/feedfs/pkg/server"
	"github.com/spf13/cobra"
)

func newMountCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mount [mountpoint]",
		Short: "Mount the feeds and keep them refreshed",
		Long: `Mount the configured feeds at mountpoint (or mount.mountpoint from the
config) and serve until SIGINT or SIGTERM. SIGHUP reloads the feed list
from the config file without unmounting.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Mount.Mountpoint = args[0]
			}
			if cfg.Mount.Mountpoint == "" {
				return fmt.Errorf("no mountpoint given and mount.mountpoint is not set")
			}
			return runMount(cmd.Context(), flags, cfg)
		},
	}
}

func runMount(parent context.Context, flags *globalFlags, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}

	driver, err := srv.Driver()
	if err != nil {
		_ = srv.Close(context.Background())
		return err
	}

	adapter := fuse.New(fuse.Config{
		Mountpoint:   cfg.Mount.Mountpoint,
		FSName:       cfg.Mount.FSName,
		AllowOther:   cfg.Mount.AllowOther,
		EntryTimeout: cfg.Mount.EntryTimeout,
		AttrTimeout:  cfg.Mount.AttrTimeout,
		Debug:        cfg.Mount.Debug,
	}, driver, srv.FSMetrics())
	if err := srv.AddAdapter(adapter); err != nil {
		_ = srv.Close(context.Background())
		return err
	}

	mountpoint := absPath(cfg.Mount.Mountpoint)
	unrecord, err := recordMount(mountpoint, flags.resolvedConfigPath())
	if err != nil {
		logger.Warn("Mount will not be visible to status and unmount: %v", err)
	} else {
		defer unrecord()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, hup, flags, srv)

	logger.Info("Mounting %d feeds at %s. Press Ctrl+C to unmount.", len(cfg.Feeds), cfg.Mount.Mountpoint)
	if err := srv.Serve(ctx); err != nil {
		return err
	}
	logger.Info("Unmounted %s", cfg.Mount.Mountpoint)
	return nil
}

// reloadOnSignal re-reads the config file on each SIGHUP and applies its
// feed list. A bad config is logged and the running feed list kept.
func reloadOnSignal(ctx context.Context, hup <-chan os.Signal, flags *globalFlags, srv *server.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading feed list")
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				logger.Error("Reload failed: %v", err)
				continue
			}
			if err := srv.Reload(ctx, cfg); err != nil {
				logger.Error("Reload failed: %v", err)
			}
		}
	}
}
