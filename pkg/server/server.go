// Package server assembles feedfs from configuration and runs it.
//
// A Server owns every long-lived component: storage, the repository and
// its cache, the refresh scheduler, the filesystem driver and the host
// adapters that expose it. The CLI builds one Server per invocation; a
// mount serves until its context ends, while one-shot commands use
// RefreshOnce and Close.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/internal/ratelimiter"
	"github.com/marmos91/feedfs/pkg/adapter"
	"github.com/marmos91/feedfs/pkg/cache"
	"github.com/marmos91/feedfs/pkg/codec"
	"github.com/marmos91/feedfs/pkg/config"
	"github.com/marmos91/feedfs/pkg/fetcher"
	"github.com/marmos91/feedfs/pkg/fs"
	"github.com/marmos91/feedfs/pkg/metrics"
	"github.com/marmos91/feedfs/pkg/render"
	"github.com/marmos91/feedfs/pkg/repository"
	"github.com/marmos91/feedfs/pkg/scheduler"
	"github.com/marmos91/feedfs/pkg/store"
)

// Option customises a Server.
type Option func(*Server)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// Server manages the lifecycle of all feedfs components.
//
// Thread safety:
// Safe for concurrent use. Serve may only be called once.
type Server struct {
	mu     sync.RWMutex
	config *config.Config

	metrics   *config.MetricsResult
	storage   store.Storage
	repo      *repository.Repository
	fetcher   fetcher.Fetcher
	limiter   *ratelimiter.RateLimiter
	scheduler *scheduler.Scheduler

	driverOnce sync.Once
	driver     *fs.Driver
	driverErr  error

	adapters []adapter.Adapter
	served   atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// New builds every component described by cfg and loads previously stored
// articles. The returned server is idle: call Serve to mount, or
// RefreshOnce for a one-shot refresh. Close releases storage.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}

	// ========================================================================
	// Step 1: Metrics and storage
	// ========================================================================

	s.metrics = config.InitializeMetrics(cfg)

	storage, err := config.CreateStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}
	s.storage = storage

	// ========================================================================
	// Step 2: Repository (feeds from config, articles from storage)
	// ========================================================================

	c := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: cfg.Cache.TTL,
	}, s.metrics.Cache)

	s.repo = repository.New(repository.Config{
		MaxArticlesPerFeed: cfg.Storage.MaxArticlesPerFeed,
		CacheTTL:           cfg.Cache.TTL,
	}, storage, c, codec.New(cfg.Storage.EnableCompression), render.New(render.Options{
		MaxSize: cfg.Fetch.MaxArticleSize,
	}))

	if err := s.repo.SetFeeds(ctx, cfg.FeedSpecs()); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("register feeds: %w", err)
	}

	loaded, err := s.repo.LoadFromStorage(ctx)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("load stored articles: %w", err)
	}
	logger.Info("Loaded %d stored articles across %d feeds", loaded, len(cfg.Feeds))

	// ========================================================================
	// Step 3: Fetcher and scheduler
	// ========================================================================

	s.limiter = ratelimiter.New(cfg.Refresh.RateLimit, cfg.Refresh.RateBurst)
	if s.fetcher == nil {
		s.fetcher = fetcher.New(fetcher.Config{
			Timeout:       cfg.Fetch.Timeout,
			UserAgent:     cfg.Fetch.UserAgent,
			RetryAttempts: cfg.Fetch.RetryAttempts,
			RetryDelay:    cfg.Fetch.RetryDelay,
			MaxFeedSize:   cfg.Fetch.MaxFeedSize,
		}, s.limiter)
	}

	s.scheduler = scheduler.New(s.repo, s.fetcher, scheduler.Config{
		Interval:       cfg.Refresh.Interval,
		Concurrency:    cfg.Refresh.Concurrency,
		GracePeriod:    cfg.Refresh.GracePeriod,
		FailureBackoff: cfg.Refresh.FailureBackoff,
		RefreshOnStart: cfg.Refresh.OnStart(),
	}, s.metrics.Refresh)

	return s, nil
}

func (s *Server) Repository() *repository.Repository { return s.repo }

func (s *Server) Scheduler() *scheduler.Scheduler { return s.scheduler }

func (s *Server) Storage() store.Storage { return s.storage }

// FSMetrics returns the collector adapters should report to.
func (s *Server) FSMetrics() metrics.FSMetrics { return s.metrics.FS }

// Config returns the effective configuration.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Driver returns the filesystem driver, building it on first use.
func (s *Server) Driver() (*fs.Driver, error) {
	s.driverOnce.Do(func() {
		cfg := s.Config()

		uid, gid := cfg.Mount.UID, cfg.Mount.GID
		if uid == 0 {
			uid = uint32(os.Getuid())
		}
		if gid == 0 {
			gid = uint32(os.Getgid())
		}

		d, err := fs.New(s.repo, fs.Options{
			UID: uid,
			GID: gid,
			Files: map[string]fs.ContentFunc{
				"config.yaml": s.renderConfig,
				"stats.yaml":  s.renderStats,
			},
		})

		s.mu.Lock()
		s.driver, s.driverErr = d, err
		s.mu.Unlock()
	})

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.driver, s.driverErr
}

// AddAdapter registers a host adapter. Adapters must differ in protocol
// and endpoint, and cannot be added once Serve has been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}
	if s.served.Load() {
		return errors.New("cannot add adapter after Serve has been called")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.adapters {
		if existing.Protocol() == a.Protocol() && existing.Endpoint() == a.Endpoint() {
			return fmt.Errorf("%s adapter already registered at %s", a.Protocol(), a.Endpoint())
		}
	}
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter at %s", a.Protocol(), a.Endpoint())
	return nil
}

// Serve starts the scheduler, the metrics endpoint, maintenance and every
// adapter, then blocks until ctx is cancelled or an adapter fails. On return
// all components have been stopped and storage is closed.
//
// Returns nil when shutdown was triggered by ctx.
func (s *Server) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return errors.New("Serve has already been called on this server")
	}

	s.mu.RLock()
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	cfg := s.config
	s.mu.RUnlock()

	if len(adapters) == 0 {
		return errors.New("no adapters registered; call AddAdapter before Serve")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	// ========================================================================
	// Step 1: Background services
	// ========================================================================

	if srv := s.metrics.Server; srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				logger.Error("Metrics server: %v", err)
			}
		}()
	}

	s.scheduler.Start()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.maintain(ctx, cfg.Cache.CleanupInterval, cfg.Server.MaintenanceInterval)
	}()

	// ========================================================================
	// Step 2: Adapters
	// ========================================================================

	errChan := make(chan adapterError, len(adapters))
	var adapterWG sync.WaitGroup
	for _, a := range adapters {
		adapterWG.Add(1)
		go func(a adapter.Adapter) {
			defer adapterWG.Done()
			logger.Info("Starting %s adapter at %s", a.Protocol(), a.Endpoint())
			if err := a.Serve(ctx); err != nil && ctx.Err() == nil {
				errChan <- adapterError{protocol: a.Protocol(), err: err}
				return
			}
			logger.Debug("%s adapter stopped", a.Protocol())
		}(a)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case ae := <-errChan:
		logger.Error("%s adapter failed: %v; shutting down", ae.protocol, ae.err)
		serveErr = fmt.Errorf("%s adapter error: %w", ae.protocol, ae.err)
	}

	// ========================================================================
	// Step 3: Shutdown
	// ========================================================================

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	s.stopAdapters(shutdownCtx, adapters)
	cancel()
	adapterWG.Wait()
	wg.Wait()

	if err := s.Close(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}

	logger.Info("feedfs stopped")
	return serveErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAdapters stops adapters in reverse registration order.
func (s *Server) stopAdapters(ctx context.Context, adapters []adapter.Adapter) {
	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

// Close stops the scheduler (waiting up to its grace period for in-flight
// refreshes) and closes storage. Idempotent.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if err := s.scheduler.Stop(ctx); err != nil {
			logger.Warn("Scheduler stop: %v", err)
		}
		if srv := s.metrics.Server; srv != nil {
			_ = srv.Stop(ctx)
		}
		if err := s.storage.Close(); err != nil {
			s.closeErr = fmt.Errorf("close storage: %w", err)
		}
	})
	return s.closeErr
}

// RefreshOnce refreshes the named feeds, or every enabled feed when none
// are named, and waits for the cycle to finish.
func (s *Server) RefreshOnce(ctx context.Context, feedIDs ...string) (*scheduler.Stats, error) {
	if len(feedIDs) == 0 {
		return s.scheduler.RefreshAll(ctx)
	}
	return s.scheduler.RefreshFeeds(ctx, feedIDs)
}

// Reload applies the feed list of cfg through the repository's admin path,
// applies a changed fetch rate limit, and refreshes feeds that were added.
// Other settings only take effect on restart.
func (s *Server) Reload(ctx context.Context, cfg *config.Config) error {
	existing := make(map[string]bool)
	for _, f := range s.repo.Feeds() {
		existing[f.ID] = true
	}

	if err := s.repo.SetFeeds(ctx, cfg.FeedSpecs()); err != nil {
		return fmt.Errorf("reload feeds: %w", err)
	}

	s.mu.Lock()
	updated := *s.config
	updated.Feeds = cfg.Feeds
	rateChanged := updated.Refresh.RateLimit != cfg.Refresh.RateLimit ||
		updated.Refresh.RateBurst != cfg.Refresh.RateBurst
	updated.Refresh.RateLimit = cfg.Refresh.RateLimit
	updated.Refresh.RateBurst = cfg.Refresh.RateBurst
	s.config = &updated
	s.mu.Unlock()

	if rateChanged {
		s.limiter.SetLimit(cfg.Refresh.RateLimit, cfg.Refresh.RateBurst)
		logger.Info("Fetch rate limit set to %.2f/s (burst %d)", cfg.Refresh.RateLimit, cfg.Refresh.RateBurst)
	}

	var added []string
	for _, f := range cfg.Feeds {
		if !existing[f.Name] && f.IsEnabled() {
			added = append(added, f.Name)
		}
	}
	logger.Info("Reloaded feed list: %d feeds, %d new", len(cfg.Feeds), len(added))

	if len(added) == 0 {
		return nil
	}
	stats, err := s.scheduler.RefreshFeeds(ctx, added)
	if err != nil {
		return err
	}
	logger.Info("Initial refresh of new feeds: %s", stats.Summary())
	return nil
}
