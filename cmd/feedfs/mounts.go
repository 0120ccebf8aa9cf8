package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/config"
	"gopkg.in/yaml.v3"
)

// mountsDir holds one record per running mount, so that other invocations
// can find, signal and stop it.
var mountsDir = filepath.Join(xdg.RuntimeDir, config.AppName, "mounts")

// mountRecord describes a running "feedfs mount" process.
type mountRecord struct {
	PID        int    `yaml:"pid"`
	Mountpoint string `yaml:"mountpoint"`
	Config     string `yaml:"config"`
}

func recordPath(mountpoint string) string {
	return filepath.Join(mountsDir, url.PathEscape(mountpoint)+".yaml")
}

// recordMount registers the current process as serving mountpoint and
// returns a function that removes the record.
func recordMount(mountpoint, configPath string) (func(), error) {
	if err := os.MkdirAll(mountsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create mounts directory: %w", err)
	}

	body, err := yaml.Marshal(mountRecord{
		PID:        os.Getpid(),
		Mountpoint: mountpoint,
		Config:     configPath,
	})
	if err != nil {
		return nil, err
	}

	path := recordPath(mountpoint)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return nil, fmt.Errorf("write mount record: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

// listMounts returns the records of live mounts. Records left behind by
// processes that no longer exist are removed.
func listMounts() ([]mountRecord, error) {
	entries, err := os.ReadDir(mountsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []mountRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(mountsDir, e.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec mountRecord
		if err := yaml.Unmarshal(body, &rec); err != nil || !alive(rec.PID) {
			logger.Debug("Removing stale mount record %s", path)
			_ = os.Remove(path)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// findMount returns the live record for mountpoint, if any.
func findMount(mountpoint string) (mountRecord, bool, error) {
	mounts, err := listMounts()
	if err != nil {
		return mountRecord{}, false, err
	}
	for _, m := range mounts {
		if m.Mountpoint == mountpoint {
			return m, true, nil
		}
	}
	return mountRecord{}, false, nil
}

// signalMounts sends sig to every live mount using configPath and returns
// how many were signalled.
func signalMounts(configPath string, sig syscall.Signal) (int, error) {
	mounts, err := listMounts()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range mounts {
		if m.Config != configPath {
			continue
		}
		if err := syscall.Kill(m.PID, sig); err != nil {
			logger.Warn("Cannot signal feedfs process %d: %v", m.PID, err)
			continue
		}
		n++
	}
	return n, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// isMountpoint reports whether path is the root of a mounted filesystem,
// by comparing its device with that of its parent.
func isMountpoint(path string) (bool, error) {
	path = filepath.Clean(path)
	var st, parent syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return false, err
	}
	if path == "/" {
		return true, nil
	}
	if err := syscall.Stat(filepath.Dir(path), &parent); err != nil {
		return false, err
	}
	return st.Dev != parent.Dev || st.Ino == parent.Ino, nil
}

// absPath resolves p for comparison with recorded paths.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
