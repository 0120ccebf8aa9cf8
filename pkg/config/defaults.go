package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced; explicit values are preserved. Backend-specific
// sections receive the defaults of every backend so that a rendered config
// documents all options.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMountDefaults(&cfg.Mount)
	applyFeedDefaults(cfg.Feeds)
	applyRefreshDefaults(&cfg.Refresh)
	applyFetchDefaults(&cfg.Fetch)
	applyCacheDefaults(&cfg.Cache)
	applyStorageDefaults(&cfg.Storage)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = 5 * time.Minute
	}
}

func applyMountDefaults(cfg *MountConfig) {
	if cfg.FSName == "" {
		cfg.FSName = AppName
	}
	if cfg.EntryTimeout == 0 {
		cfg.EntryTimeout = time.Second
	}
	if cfg.AttrTimeout == 0 {
		cfg.AttrTimeout = time.Second
	}
}

func applyFeedDefaults(feeds []FeedConfig) {
	for i := range feeds {
		feeds[i].Name = strings.TrimSpace(feeds[i].Name)
		feeds[i].URL = strings.TrimSpace(feeds[i].URL)
		if feeds[i].Enabled == nil {
			enabled := true
			feeds[i].Enabled = &enabled
		}
	}
}

func applyRefreshDefaults(cfg *RefreshConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 1
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 5 * time.Minute
	}
	if cfg.RefreshOnStart == nil {
		onStart := true
		cfg.RefreshOnStart = &onStart
	}
}

func applyFetchDefaults(cfg *FetchConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "feedfs/1.0 (+https://github.com/marmos91/feedfs)"
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxFeedSize == 0 {
		cfg.MaxFeedSize = 10 << 20 // 10MiB
	}
	if cfg.MaxArticleSize == 0 {
		cfg.MaxArticleSize = 1 << 20 // 1MiB
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.MaxArticlesPerFeed == 0 {
		cfg.MaxArticlesPerFeed = 500
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(GetDataDir(), "articles")
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
	if _, ok := cfg.S3["key_prefix"]; !ok {
		cfg.S3["key_prefix"] = "feedfs/"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config with every default applied and one
// example feed. Used by "feedfs init".
func GetDefaultConfig() *Config {
	cfg := &Config{
		Feeds: []FeedConfig{
			{Name: "go-blog", URL: "https://go.dev/blog/feed.atom"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
