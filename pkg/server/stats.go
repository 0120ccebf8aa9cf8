package server

import (
	"time"

	"github.com/marmos91/feedfs/pkg/config"
	"github.com/marmos91/feedfs/pkg/repository"
	"github.com/marmos91/feedfs/pkg/scheduler"
	"gopkg.in/yaml.v3"
)

var processStart = time.Now()

// StatsReport is the content of .feedfs/stats.yaml.
type StatsReport struct {
	Uptime     string           `yaml:"uptime"`
	Inodes     int              `yaml:"inodes"`
	InFlight   int              `yaml:"refreshes_in_flight"`
	Repository repository.Stats `yaml:"repository"`
	LastCycle  *scheduler.Stats `yaml:"last_cycle,omitempty"`
	Storage    *StorageReport   `yaml:"storage,omitempty"`
}

// StorageReport is filled in for backends that can report their size.
type StorageReport struct {
	LSMBytes  int64 `yaml:"lsm_bytes"`
	VlogBytes int64 `yaml:"vlog_bytes"`
}

// sizer is implemented by the badger backend.
type sizer interface {
	Size() (lsm, vlog int64)
}

// Stats assembles a point-in-time report across components.
func (s *Server) Stats() StatsReport {
	report := StatsReport{
		Uptime:     time.Since(processStart).Round(time.Second).String(),
		InFlight:   s.scheduler.InFlight(),
		Repository: s.repo.Stats(),
		LastCycle:  s.scheduler.LastCycle(),
	}
	s.mu.RLock()
	d := s.driver
	s.mu.RUnlock()
	if d != nil {
		report.Inodes = d.Table().Len()
	}
	if sz, ok := s.storage.(sizer); ok {
		lsm, vlog := sz.Size()
		report.Storage = &StorageReport{LSMBytes: lsm, VlogBytes: vlog}
	}
	return report
}

func (s *Server) renderStats() ([]byte, error) {
	return yaml.Marshal(s.Stats())
}

func (s *Server) renderConfig() ([]byte, error) {
	return config.Render(s.Config())
}
