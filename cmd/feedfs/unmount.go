package main

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/spf13/cobra"
)

func newUnmountCmd() *cobra.Command {
	var (
		force   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "unmount <mountpoint>",
		Short: "Unmount a feedfs mount",
		Long: `Stop the feedfs process serving mountpoint so it unmounts cleanly.
When no process claims the mountpoint (for example after a crash), the
mount is released with fusermount, or umount on macOS. --force detaches a
busy mount lazily.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mountpoint := absPath(args[0])

			rec, found, err := findMount(mountpoint)
			if err != nil {
				return fmt.Errorf("list mounts: %w", err)
			}
			if found {
				err := stopMount(rec, timeout)
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Unmounted %s\n", mountpoint)
					return nil
				}
				if !force {
					return err
				}
				logger.Warn("%v, forcing unmount", err)
			}

			mounted, err := isMountpoint(mountpoint)
			if err != nil {
				return err
			}
			if !mounted {
				return fmt.Errorf("%s is not mounted", mountpoint)
			}
			if err := releaseMount(mountpoint, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unmounted %s\n", mountpoint)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "detach the mount even if it is busy or its process does not exit")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the feedfs process to exit")
	return cmd
}

// stopMount sends SIGTERM to the process serving rec and waits for it to
// exit. The mount process unmounts itself on the way out.
func stopMount(rec mountRecord, timeout time.Duration) error {
	if err := syscall.Kill(rec.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal feedfs process %d: %w", rec.PID, err)
	}

	deadline := time.Now().Add(timeout)
	for alive(rec.PID) {
		if time.Now().After(deadline) {
			return fmt.Errorf("feedfs process %d did not exit within %s", rec.PID, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// releaseMount detaches a mount nobody serves any more.
func releaseMount(mountpoint string, force bool) error {
	var candidates [][]string
	if runtime.GOOS == "darwin" {
		args := []string{"umount"}
		if force {
			args = append(args, "-f")
		}
		candidates = append(candidates, append(args, mountpoint))
	} else {
		for _, bin := range []string{"fusermount3", "fusermount"} {
			args := []string{bin, "-u"}
			if force {
				args = append(args, "-z")
			}
			candidates = append(candidates, append(args, mountpoint))
		}
	}

	var lastErr error
	for _, argv := range candidates {
		path, err := exec.LookPath(argv[0])
		if err != nil {
			lastErr = err
			continue
		}
		out, err := exec.Command(path, argv[1:]...).CombinedOutput()
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return fmt.Errorf("unmount %s: %w", mountpoint, lastErr)
}
