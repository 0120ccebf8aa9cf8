package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "info"
feeds:
  - name: go-blog
    url: https://go.dev/blog/feed.atom
  - name: paused
    url: https://example.com/rss
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, AppName, cfg.Mount.FSName)
	assert.Equal(t, 30*time.Minute, cfg.Refresh.Interval)
	assert.True(t, cfg.Refresh.OnStart())
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 9090, cfg.Metrics.Port)

	require.Len(t, cfg.Feeds, 2)
	assert.True(t, cfg.Feeds[0].IsEnabled())
	assert.False(t, cfg.Feeds[1].IsEnabled())
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
refresh:
  interval: 90s
  concurrency: 8
  refresh_on_start: false
fetch:
  timeout: 5s
storage:
  type: badger
  max_articles_per_feed: 20
  badger:
    db_path: /var/lib/feedfs
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 8, cfg.Refresh.Concurrency)
	assert.False(t, cfg.Refresh.OnStart())
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "badger", cfg.Storage.Type)
	assert.Equal(t, 20, cfg.Storage.MaxArticlesPerFeed)
	assert.Equal(t, "/var/lib/feedfs", cfg.Storage.Badger["db_path"])
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Empty(t, cfg.Feeds)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FEEDFS_LOGGING_LEVEL", "debug")
	t.Setenv("FEEDFS_REFRESH_INTERVAL", "2m")
	t.Setenv("FEEDFS_METRICS_ENABLED", "true")

	cfg, err := Load(writeConfig(t, "logging:\n  level: WARN\n"))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 2*time.Minute, cfg.Refresh.Interval)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid yaml", "logging: [unclosed"},
		{"bad level", "logging:\n  level: LOUD\n"},
		{"bad storage type", "storage:\n  type: floppy\n"},
		{"duplicate feed", "feeds:\n  - {name: a, url: 'https://a.example'}\n  - {name: a, url: 'https://b.example'}\n"},
		{"hidden feed name", "feeds:\n  - {name: .secret, url: 'https://a.example'}\n"},
		{"slash in feed name", "feeds:\n  - {name: a/b, url: 'https://a.example'}\n"},
		{"non http url", "feeds:\n  - {name: a, url: 'ftp://a.example/feed'}\n"},
		{"missing url", "feeds:\n  - {name: a}\n"},
		{"negative concurrency", "refresh:\n  concurrency: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestRender_RoundTrip(t *testing.T) {
	want := GetDefaultConfig()
	want.Refresh.Interval = 45 * time.Minute

	body, err := Render(want)
	require.NoError(t, err)
	assert.Contains(t, string(body), "interval: 45m0s")
	assert.Contains(t, string(body), "feeds:")

	got, err := Load(writeConfig(t, string(body)))
	require.NoError(t, err)

	assert.Equal(t, want.Logging, got.Logging)
	assert.Equal(t, want.Server, got.Server)
	assert.Equal(t, want.Mount, got.Mount)
	assert.Equal(t, want.Feeds, got.Feeds)
	assert.Equal(t, want.Refresh, got.Refresh)
	assert.Equal(t, want.Fetch, got.Fetch)
	assert.Equal(t, want.Cache, got.Cache)
	assert.Equal(t, want.Metrics, got.Metrics)
	assert.Equal(t, want.Storage.Type, got.Storage.Type)
	assert.Equal(t, want.Storage.Badger["db_path"], got.Storage.Badger["db_path"])
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	written, err := InitConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Feeds, 1)

	_, err = InitConfig(path, false)
	assert.Error(t, err, "existing file is kept without force")

	_, err = InitConfig(path, true)
	assert.NoError(t, err)
}

func TestFeedSpecs(t *testing.T) {
	off := false
	cfg := &Config{Feeds: []FeedConfig{
		{Name: "a", URL: "https://a.example"},
		{Name: "b", URL: "https://b.example", Enabled: &off},
	}}

	assert.Equal(t, []feed.Spec{
		{Name: "a", URL: "https://a.example", Enabled: true},
		{Name: "b", URL: "https://b.example", Enabled: false},
	}, cfg.FeedSpecs())
}

func TestCreateStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		st, err := CreateStorage(ctx, &StorageConfig{Type: "memory"})
		require.NoError(t, err)
		assert.NoError(t, st.Close())
	})

	t.Run("badger on disk", func(t *testing.T) {
		st, err := CreateStorage(ctx, &StorageConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": t.TempDir()},
		})
		require.NoError(t, err)
		assert.NoError(t, st.Close())
	})

	t.Run("badger weakly typed options", func(t *testing.T) {
		st, err := CreateStorage(ctx, &StorageConfig{
			Type:   "badger",
			Badger: map[string]any{"in_memory": "true", "block_cache_size_mb": "8"},
		})
		require.NoError(t, err)
		assert.NoError(t, st.Close())
	})

	t.Run("badger without path", func(t *testing.T) {
		_, err := CreateStorage(ctx, &StorageConfig{Type: "badger", Badger: map[string]any{}})
		assert.Error(t, err)
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		_, err := CreateStorage(ctx, &StorageConfig{Type: "s3", S3: map[string]any{"region": "us-east-1"}})
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := CreateStorage(ctx, &StorageConfig{Type: "tape"})
		assert.Error(t, err)
	})
}

func TestInitializeMetricsDisabled(t *testing.T) {
	res := InitializeMetrics(&Config{})
	assert.Nil(t, res.Server)
	assert.Nil(t, res.Cache)
	assert.Nil(t, res.Refresh)
	assert.NotNil(t, res.FS)
}
