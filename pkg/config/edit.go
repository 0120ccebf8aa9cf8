package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// AddFeed appends f to the feeds of the config file at path (the default
// location when empty) and returns the path written. The edited
// configuration is validated as a whole before anything is saved.
func AddFeed(path string, f FeedConfig) (string, error) {
	return editFeeds(path, func(feeds []FeedConfig) ([]FeedConfig, error) {
		for _, existing := range feeds {
			if existing.Name == f.Name {
				return nil, fmt.Errorf("feed %q already exists", f.Name)
			}
		}
		return append(feeds, f), nil
	})
}

// RemoveFeed drops the feed called name from the config file at path.
func RemoveFeed(path, name string) (string, error) {
	return editFeeds(path, func(feeds []FeedConfig) ([]FeedConfig, error) {
		out := make([]FeedConfig, 0, len(feeds))
		for _, f := range feeds {
			if f.Name != name {
				out = append(out, f)
			}
		}
		if len(out) == len(feeds) {
			return nil, fmt.Errorf("feed %q is not configured", name)
		}
		return out, nil
	})
}

// editFeeds rewrites only the feeds key of the file. Environment overrides
// are not read, so they never leak into the saved file.
func editFeeds(path string, edit func([]FeedConfig) ([]FeedConfig, error)) (string, error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("no config file at %s (run \"feedfs init\" first)", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	var current []FeedConfig
	if err := v.UnmarshalKey("feeds", &current); err != nil {
		return "", fmt.Errorf("failed to decode feeds: %w", err)
	}

	feeds, err := edit(current)
	if err != nil {
		return "", err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Feeds = append([]FeedConfig(nil), feeds...)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return "", fmt.Errorf("configuration validation failed: %w", err)
	}

	v.Set("feeds", feedEntries(feeds))
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

func feedEntries(feeds []FeedConfig) []map[string]any {
	out := make([]map[string]any, 0, len(feeds))
	for _, f := range feeds {
		entry := map[string]any{"name": f.Name, "url": f.URL}
		if f.Enabled != nil {
			entry["enabled"] = *f.Enabled
		}
		out = append(out, entry)
	}
	return out
}
