// Package schedule runs discovery passes on a cron schedule.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/logger"
)

// DiscoveryRunner is the slice of the loop controller the scheduler uses.
type DiscoveryRunner interface {
	RunOnce(ctx context.Context, settings domain.DiscoverySettings) (*domain.DiscoveryResult, error)
	Snapshot() domain.LoopSnapshot
}

// SettingsLoader provides current discovery settings for scheduled runs.
type SettingsLoader interface {
	Load() (domain.DiscoverySettings, error)
}

// Scheduler triggers one-shot discovery runs on a cron spec. Scheduled runs
// defer to the loop: while the loop is running a tick is skipped, not queued.
type Scheduler struct {
	logger   logger.Interface
	runner   DiscoveryRunner
	settings SettingsLoader
	cron     *cron.Cron
	spec     string
}

// NewScheduler creates a discovery scheduler for the given cron spec.
// An empty spec disables scheduling.
func NewScheduler(
	log logger.Interface,
	runner DiscoveryRunner,
	settings SettingsLoader,
	spec string,
) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		logger:   log.WithComponent("schedule"),
		runner:   runner,
		settings: settings,
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		spec:     spec,
	}
}

// Start registers the cron entry and begins ticking. A no-op when no spec is
// configured.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.spec == "" {
		s.logger.Info("Discovery schedule disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to register discovery schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("Discovery schedule started", "spec", s.spec)
	return nil
}

// Stop halts the cron scheduler, waiting for an in-flight tick.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow performs one scheduled-style run immediately, with the same
// loop-deference rules as a cron tick.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.runner.Snapshot().Running {
		s.logger.Info("Skipping scheduled discovery, loop is running")
		return
	}

	settings, err := s.settings.Load()
	if err != nil {
		s.logger.Error("Failed to load discovery settings", "error", err)
		return
	}
	if len(settings.Keywords) == 0 {
		s.logger.Warn("Skipping scheduled discovery, no keywords configured")
		return
	}

	result, err := s.runner.RunOnce(ctx, settings)
	if err != nil {
		s.logger.Error("Scheduled discovery run failed", "error", err)
		return
	}

	s.logger.Info("Scheduled discovery run completed",
		"found", result.FoundCount,
		"new", len(result.NewChannelIDs),
		"blacklisted", result.BlacklistedCount)
}
