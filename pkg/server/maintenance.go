package server

import (
	"context"
	"time"

	"github.com/marmos91/feedfs/internal/logger"
)

// valueLogGC is implemented by storage backends that reclaim space
// periodically (badger).
type valueLogGC interface {
	RunValueLogGC(discardRatio float64) error
}

const gcDiscardRatio = 0.5

// maintain runs periodic housekeeping until ctx is done: expired cache
// entries are dropped every cleanupInterval and storage garbage is
// collected every gcInterval. A zero interval disables that task.
func (s *Server) maintain(ctx context.Context, cleanupInterval, gcInterval time.Duration) {
	var cleanupC, gcC <-chan time.Time

	if cleanupInterval > 0 {
		t := time.NewTicker(cleanupInterval)
		defer t.Stop()
		cleanupC = t.C
	}

	gc, canGC := s.storage.(valueLogGC)
	if canGC && gcInterval > 0 {
		t := time.NewTicker(gcInterval)
		defer t.Stop()
		gcC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Maintenance worker stopping")
			return
		case <-cleanupC:
			s.cleanupCache()
		case <-gcC:
			s.collectGarbage(gc)
		}
	}
}

func (s *Server) cleanupCache() int {
	n := s.repo.Cache().Cleanup()
	if n > 0 {
		logger.Debug("Cache cleanup removed %d expired entries", n)
	}
	return n
}

func (s *Server) collectGarbage(gc valueLogGC) {
	start := time.Now()
	if err := gc.RunValueLogGC(gcDiscardRatio); err != nil {
		logger.Warn("Storage garbage collection failed: %v", err)
		return
	}
	logger.Debug("Storage garbage collection completed in %s", time.Since(start))
}
