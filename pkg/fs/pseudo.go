package fs

import (
	"strings"
	"time"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/marmos91/feedfs/pkg/repository"
	"gopkg.in/yaml.v3"
)

// FeedReport is one entry of feeds.yaml.
type FeedReport struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Title         string `yaml:"title,omitempty"`
	Enabled       bool   `yaml:"enabled"`
	Status        string `yaml:"status"`
	Error         string `yaml:"error,omitempty"`
	LastRefreshed string `yaml:"last_refreshed,omitempty"`
	Articles      int    `yaml:"articles"`
}

// ReportFeeds summarises feeds in the form written to feeds.yaml.
func ReportFeeds(feeds []*feed.Feed) []FeedReport {
	report := make([]FeedReport, 0, len(feeds))
	for _, f := range feeds {
		r := FeedReport{
			Name:     f.ID,
			URL:      f.URL,
			Title:    f.Title,
			Enabled:  f.Enabled,
			Status:   f.Status.Kind.String(),
			Error:    f.Status.Message,
			Articles: len(f.Articles),
		}
		if !f.LastRefreshed.IsZero() {
			r.LastRefreshed = f.LastRefreshed.UTC().Format(time.RFC3339)
		}
		report = append(report, r)
	}
	return report
}

func (d *Driver) renderFeeds() ([]byte, error) {
	return yaml.Marshal(ReportFeeds(d.repo.Feeds()))
}

// StatsReport is the default content of stats.yaml.
type StatsReport struct {
	Inodes     int              `yaml:"inodes"`
	Repository repository.Stats `yaml:"repository"`
}

func (d *Driver) renderStats() ([]byte, error) {
	return yaml.Marshal(StatsReport{
		Inodes:     d.table.Len(),
		Repository: d.repo.Stats(),
	})
}

func renderLogs() ([]byte, error) {
	lines := logger.Recent()
	if len(lines) == 0 {
		return []byte{}, nil
	}
	return []byte(strings.Join(lines, "\n") + "\n"), nil
}
