package scheduler

import (
	"fmt"
	"time"

	"github.com/marmos91/feedfs/pkg/feed"
)

// Stats contains statistics from one refresh cycle.
type Stats struct {
	CycleID   string    `yaml:"cycle_id"`   // Unique id, for correlating log lines
	StartTime time.Time `yaml:"start_time"` // When the cycle started
	EndTime   time.Time `yaml:"end_time"`   // When the cycle ended
	Feeds     int       `yaml:"feeds"`      // Feeds considered
	Succeeded int       `yaml:"succeeded"`  // Feeds refreshed successfully
	Failed    int       `yaml:"failed"`     // Feeds whose fetch or merge failed
	Skipped   int       `yaml:"skipped"`    // Feeds skipped (backoff or already refreshing)
	Added     int       `yaml:"added"`      // New articles across all feeds
	Updated   int       `yaml:"updated"`    // Changed articles across all feeds
	Removed   int       `yaml:"removed"`    // Articles pruned by retention

	Results []feed.Result `yaml:"-"`
}

// Duration returns the total cycle duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the cycle.
func (s *Stats) Summary() string {
	return fmt.Sprintf("feeds=%d succeeded=%d failed=%d skipped=%d added=%d updated=%d removed=%d duration=%s",
		s.Feeds, s.Succeeded, s.Failed, s.Skipped, s.Added, s.Updated, s.Removed,
		s.Duration().Round(time.Millisecond))
}
