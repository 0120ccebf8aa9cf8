// Package scheduler coordinates feed refreshes.
//
// Refreshes run on a timer and on demand. Each feed is an isolated failure
// domain: its fetch, parse and merge never block or cancel another feed's.
// A feed has at most one refresh in flight; a second request for it is
// coalesced and reported as Busy without touching the network.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/marmos91/feedfs/pkg/fetcher"
	"github.com/marmos91/feedfs/pkg/repository"
)

// ErrStopped is returned by refresh requests after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Config contains configuration for the refresh scheduler.
type Config struct {
	// Interval between periodic cycles. Zero disables the timer; on-demand
	// refreshes still work.
	Interval time.Duration

	// Concurrency bounds simultaneous fetches (default: 4)
	Concurrency int

	// GracePeriod is how long Stop waits for in-flight refreshes before
	// abandoning them (default: 10s)
	GracePeriod time.Duration

	// FailureBackoff keeps a failed feed out of periodic cycles for this
	// long. On-demand refreshes ignore it. Zero disables backoff.
	FailureBackoff time.Duration

	// RefreshOnStart runs a cycle as soon as the worker starts.
	RefreshOnStart bool
}

// Scheduler runs refresh cycles against a repository.
//
// Thread Safety: Safe for concurrent use.
type Scheduler struct {
	repo    *repository.Repository
	fetcher fetcher.Fetcher
	config  Config
	metrics Metrics

	sem     chan struct{}
	backoff *ttlcache.Cache[string, string]

	// base is cancelled when the grace period runs out, abandoning
	// in-flight fetches.
	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	inFlight  map[string]struct{}
	stopped   bool
	started   bool
	lastCycle *Stats
	wg        sync.WaitGroup

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a scheduler. It is idle until Start; RefreshFeed and
// RefreshAll may be used without starting it. A nil metrics uses a no-op
// implementation.
func New(repo *repository.Repository, f fetcher.Fetcher, config Config, metrics Metrics) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = 10 * time.Second
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	s := &Scheduler{
		repo:     repo,
		fetcher:  f,
		config:   config,
		metrics:  metrics,
		sem:      make(chan struct{}, config.Concurrency),
		inFlight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	s.base, s.cancel = context.WithCancel(context.Background())

	if config.FailureBackoff > 0 {
		s.backoff = ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](config.FailureBackoff),
			ttlcache.WithDisableTouchOnHit[string, string](),
		)
		go s.backoff.Start()
	}
	return s
}

// Start begins periodic refresh. Safe to call more than once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if s.config.Interval <= 0 && !s.config.RefreshOnStart {
		logger.Info("Periodic refresh disabled")
		close(s.doneCh)
		return
	}

	logger.Info("Starting refresh scheduler: interval=%s concurrency=%d backoff=%s",
		s.config.Interval, s.config.Concurrency, s.config.FailureBackoff)

	go s.worker()
}

// Stop halts the timer and waits up to the grace period (or ctx, whichever
// ends first) for in-flight refreshes. Refreshes still running after that
// are cancelled and abandoned. Safe to call more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	logger.Info("Stopping refresh scheduler...")
	close(s.stopCh)

	drained := make(chan struct{})
	go func() {
		if started {
			<-s.doneCh
		}
		s.wg.Wait()
		close(drained)
	}()

	grace := time.NewTimer(s.config.GracePeriod)
	defer grace.Stop()

	var err error
	select {
	case <-drained:
		logger.Info("Refresh scheduler stopped")
	case <-grace.C:
		err = fmt.Errorf("abandoned %d in-flight refreshes after %s", s.InFlight(), s.config.GracePeriod)
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.cancel()
	if s.backoff != nil {
		s.backoff.Stop()
	}
	if err != nil {
		logger.Warn("Refresh scheduler shutdown: %v", err)
	}
	return err
}

// InFlight returns the number of refreshes currently running.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// InBackoff reports whether periodic cycles currently skip feedID.
func (s *Scheduler) InBackoff(feedID string) bool {
	return s.backoff != nil && s.backoff.Get(feedID) != nil
}

// LastCycle returns the statistics of the most recent completed cycle, or
// nil if none has run.
func (s *Scheduler) LastCycle() *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCycle == nil {
		return nil
	}
	c := *s.lastCycle
	return &c
}

// worker is the background goroutine that runs periodic cycles.
func (s *Scheduler) worker() {
	defer close(s.doneCh)

	if s.config.RefreshOnStart {
		s.periodicCycle()
	}
	if s.config.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.periodicCycle()
		case <-s.stopCh:
			logger.Debug("Refresh worker stopping")
			return
		}
	}
}

func (s *Scheduler) periodicCycle() {
	stats := s.runCycle(s.base, nil, true)
	logger.Info("Refresh cycle %s completed: %s", stats.CycleID, stats.Summary())
}

// RefreshAll runs one cycle over every enabled feed now, ignoring failure
// backoff, and waits for it to finish.
func (s *Scheduler) RefreshAll(ctx context.Context) (*Stats, error) {
	if s.isStopped() {
		return nil, ErrStopped
	}
	logger.Info("Running refresh cycle (manual trigger)...")
	return s.runCycle(ctx, nil, false), nil
}

// RefreshFeeds runs one cycle over the named feeds only.
func (s *Scheduler) RefreshFeeds(ctx context.Context, feedIDs []string) (*Stats, error) {
	if s.isStopped() {
		return nil, ErrStopped
	}
	for _, id := range feedIDs {
		if _, err := s.repo.Feed(id); err != nil {
			return nil, err
		}
	}
	return s.runCycle(ctx, feedIDs, false), nil
}

// runCycle refreshes ids (all enabled feeds when nil) concurrently, bounded
// by the semaphore inside refresh.
func (s *Scheduler) runCycle(ctx context.Context, ids []string, honorBackoff bool) *Stats {
	stats := &Stats{
		CycleID:   uuid.NewString(),
		StartTime: time.Now(),
	}

	var targets []string
	if ids == nil {
		for _, f := range s.repo.Feeds() {
			if f.Enabled {
				targets = append(targets, f.ID)
			}
		}
	} else {
		targets = ids
	}
	stats.Feeds = len(targets)

	results := make([]feed.Result, len(targets))
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, id := range targets {
		if honorBackoff && s.InBackoff(id) {
			logger.Debug("Refresh of %s skipped: backing off after failure", id)
			results[i] = feed.Result{FeedID: id}
			errs[i] = errSkipped
			continue
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = s.RefreshFeed(ctx, id)
		}(i, id)
	}
	wg.Wait()

	for i, res := range results {
		switch {
		case errs[i] == nil:
			stats.Succeeded++
			stats.Added += res.Added
			stats.Updated += res.Updated
			stats.Removed += res.Removed
		case errors.Is(errs[i], errSkipped), errors.Is(errs[i], ErrStopped), repository.IsBusy(errs[i]):
			stats.Skipped++
		default:
			stats.Failed++
		}
	}
	stats.Results = results
	stats.EndTime = time.Now()

	s.mu.Lock()
	s.lastCycle = stats
	s.mu.Unlock()
	s.metrics.RecordCycle(stats.Duration())

	return stats
}

var errSkipped = errors.New("skipped")

// RefreshFeed fetches one feed and merges it into the repository. If the
// feed already has a refresh in flight it returns a Busy error at once.
func (s *Scheduler) RefreshFeed(ctx context.Context, feedID string) (feed.Result, error) {
	result := feed.Result{FeedID: feedID}

	f, err := s.repo.Feed(feedID)
	if err != nil {
		return result, err
	}
	if !f.Enabled {
		err := repository.NewError(repository.ErrInvalidArgument, "feed is disabled", feedID)
		result.Error = err.Error()
		return result, err
	}

	// ========================================================================
	// Step 1: Claim the feed (coalescing concurrent requests)
	// ========================================================================

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return result, ErrStopped
	}
	if _, busy := s.inFlight[feedID]; busy {
		s.mu.Unlock()
		s.metrics.RecordCoalesced(feedID)
		err := repository.NewError(repository.ErrBusy, "refresh already in progress", feedID)
		result.Error = err.Error()
		return result, err
	}
	s.inFlight[feedID] = struct{}{}
	s.wg.Add(1)
	s.metrics.SetInFlight(len(s.inFlight))
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, feedID)
		s.metrics.SetInFlight(len(s.inFlight))
		s.mu.Unlock()
		s.wg.Done()
	}()

	// Abandon the fetch if the scheduler's grace period runs out.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(s.base, cancel)
	defer stopAfter()

	// ========================================================================
	// Step 2: Acquire a fetch slot
	// ========================================================================

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		result.Error = ctx.Err().Error()
		return result, ctx.Err()
	}
	defer func() { <-s.sem }()

	// ========================================================================
	// Step 3: Fetch and merge
	// ========================================================================

	start := time.Now()
	if err := s.repo.MarkUpdating(feedID); err != nil {
		return result, err
	}

	parsed, err := s.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		ferr := &repository.Error{
			Code:    repository.ErrFetchFailure,
			Message: err.Error(),
			Feed:    feedID,
		}
		_ = s.repo.RecordFailure(feedID, err)
		s.fail(feedID, err, time.Since(start))
		result.Error = ferr.Error()
		result.Duration = time.Since(start)
		return result, ferr
	}

	result, err = s.repo.Refresh(ctx, feedID, parsed)
	result.Duration = time.Since(start)
	if err != nil {
		s.fail(feedID, err, result.Duration)
		return result, err
	}

	if s.backoff != nil {
		s.backoff.Delete(feedID)
	}
	s.metrics.RecordRefresh(feedID, OutcomeSuccess, result.Duration)
	logger.Info("Refreshed feed %s: %s", feedID, result)
	return result, nil
}

func (s *Scheduler) fail(feedID string, err error, d time.Duration) {
	if s.backoff != nil {
		s.backoff.Set(feedID, err.Error(), ttlcache.DefaultTTL)
	}
	s.metrics.RecordRefresh(feedID, OutcomeFailure, d)
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
