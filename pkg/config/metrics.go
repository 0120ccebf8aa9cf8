package config

import (
	"github.com/marmos91/feedfs/pkg/cache"
	"github.com/marmos91/feedfs/pkg/metrics"
	"github.com/marmos91/feedfs/pkg/scheduler"
)

// MetricsResult contains the metrics components created from configuration.
type MetricsResult struct {
	// Server exposes /metrics (nil if disabled)
	Server *metrics.Server

	// Cache and Refresh are nil when disabled; their consumers fall back
	// to no-op implementations.
	Cache   cache.Metrics
	Refresh scheduler.Metrics

	// FS is never nil
	FS metrics.FSMetrics
}

// InitializeMetrics initializes the registry and collectors when metrics
// are enabled, and returns no-op components otherwise.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{FS: metrics.NewNoopFSMetrics()}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:  metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Cache:   metrics.NewCacheMetrics(),
		Refresh: metrics.NewRefreshMetrics(),
		FS:      metrics.NewFSMetrics(),
	}
}
