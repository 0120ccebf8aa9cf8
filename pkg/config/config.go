package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// AppName names the config and data directories.
const AppName = "feedfs"

// Config represents the complete feedfs configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FEEDFS_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Storage backends use a Type selector plus one untyped section per
// backend; only the selected section is decoded (see CreateStorage).
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Mount controls how the filesystem is presented to the host
	Mount MountConfig `mapstructure:"mount" yaml:"mount"`

	// Feeds is the subscription list. Each entry becomes a directory.
	Feeds []FeedConfig `mapstructure:"feeds" yaml:"feeds" validate:"dive"`

	Refresh RefreshConfig `mapstructure:"refresh" yaml:"refresh"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path (rotated)
	Output string `mapstructure:"output" yaml:"output" validate:"required"`

	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds graceful shutdown (unmount, scheduler drain)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// MaintenanceInterval is how often cache cleanup and storage GC run
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval" yaml:"maintenance_interval" validate:"gte=0"`
}

// MountConfig controls the FUSE mount.
type MountConfig struct {
	// Mountpoint is where the tree appears. May be overridden on the
	// command line.
	Mountpoint string `mapstructure:"mountpoint" yaml:"mountpoint"`

	AllowOther bool   `mapstructure:"allow_other" yaml:"allow_other"`
	FSName     string `mapstructure:"fs_name" yaml:"fs_name" validate:"required"`

	// EntryTimeout and AttrTimeout are the kernel cache lifetimes.
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout" validate:"gte=0"`
	AttrTimeout  time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout" validate:"gte=0"`

	// UID and GID own every node. Zero means the process's own ids.
	UID uint32 `mapstructure:"uid" yaml:"uid"`
	GID uint32 `mapstructure:"gid" yaml:"gid"`

	// Debug logs every FUSE request.
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// FeedConfig is one subscription.
type FeedConfig struct {
	// Name is the directory name
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// URL is the RSS/Atom/JSON feed address
	URL string `mapstructure:"url" yaml:"url" validate:"required,url"`

	// Enabled defaults to true. Disabled feeds are listed but never
	// refreshed.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`
}

// IsEnabled reports the effective enabled flag.
func (f FeedConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// RefreshConfig configures the refresh scheduler.
type RefreshConfig struct {
	// Interval between periodic cycles; 0 disables the timer
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`

	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" validate:"gt=0"`
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period" validate:"gt=0"`

	// RateLimit is requests per second per host; 0 disables limiting
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst" validate:"gte=0"`

	// FailureBackoff keeps a failed feed out of periodic cycles
	FailureBackoff time.Duration `mapstructure:"failure_backoff" yaml:"failure_backoff" validate:"gte=0"`

	// RefreshOnStart defaults to true.
	RefreshOnStart *bool `mapstructure:"refresh_on_start" yaml:"refresh_on_start"`
}

// OnStart reports the effective refresh_on_start flag.
func (r RefreshConfig) OnStart() bool {
	return r.RefreshOnStart == nil || *r.RefreshOnStart
}

// FetchConfig configures outbound HTTP.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent" validate:"required"`
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts" validate:"gte=0"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`

	// MaxFeedSize caps a feed document in bytes
	MaxFeedSize int64 `mapstructure:"max_feed_size" yaml:"max_feed_size" validate:"gte=0"`

	// MaxArticleSize truncates rendered article bodies; 0 is unlimited
	MaxArticleSize int `mapstructure:"max_article_size" yaml:"max_article_size" validate:"gte=0"`
}

// CacheConfig configures the rendered-content cache.
type CacheConfig struct {
	MaxEntries      int           `mapstructure:"max_entries" yaml:"max_entries" validate:"gt=0"`
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" validate:"gte=0"`
}

// StorageConfig selects and configures the article store.
type StorageConfig struct {
	// Type selects the backend.
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger s3"`

	// MaxArticlesPerFeed bounds retention; 0 is unbounded
	MaxArticlesPerFeed int `mapstructure:"max_articles_per_feed" yaml:"max_articles_per_feed" validate:"gte=0"`

	// EnableCompression zstd-compresses stored records
	EnableCompression bool `mapstructure:"enable_compression" yaml:"enable_compression"`

	// Badger is only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// S3 is only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// A missing config file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables and config file discovery.
func setupViper(v *viper.Viper, configPath string) {
	// Example: FEEDFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FEEDFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(GetConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// envKeys are the scalar keys that may be set from the environment alone.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.shutdown_timeout",
	"mount.mountpoint", "mount.allow_other", "mount.debug",
	"refresh.interval", "refresh.concurrency", "refresh.rate_limit",
	"fetch.timeout", "fetch.user_agent",
	"cache.max_entries", "cache.ttl",
	"storage.type", "storage.max_articles_per_feed", "storage.enable_compression",
	"metrics.enabled", "metrics.port",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// GetConfigDir returns $XDG_CONFIG_HOME/feedfs.
func GetConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// GetDataDir returns $XDG_DATA_HOME/feedfs, the default badger location.
func GetDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
