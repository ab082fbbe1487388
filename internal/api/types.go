// Package api implements the HTTP API for the harvester service.
package api

import (
	"context"
	"io"

	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/enrich"
	"github.com/jonesrussell/harvester/internal/sse"
	"github.com/jonesrussell/harvester/internal/stats"
)

// EnrichStarter starts enrichment jobs.
type EnrichStarter interface {
	Start(ctx context.Context, req enrich.StartRequest) (*enrich.StartResult, error)
}

// JobStreams exposes per-job event streams and summaries.
type JobStreams interface {
	Subscribe(jobID string) (<-chan sse.Event, func(), error)
	Summary(jobID string) (domain.JobSummary, error)
	Summaries() []domain.JobSummary
}

// LoopController drives the discovery loop and one-shot runs.
type LoopController interface {
	StartLoop(ctx context.Context, settings domain.DiscoverySettings) (domain.LoopSnapshot, error)
	StopLoop(ctx context.Context) domain.LoopSnapshot
	Snapshot() domain.LoopSnapshot
	RunOnce(ctx context.Context, settings domain.DiscoverySettings) (*domain.DiscoveryResult, error)
}

// SettingsStore persists discovery settings.
type SettingsStore interface {
	Load() (domain.DiscoverySettings, error)
	Save(settings domain.DiscoverySettings) error
}

// StatsProvider computes the aggregated status payload.
type StatsProvider interface {
	GetStats(ctx context.Context) (*stats.Stats, error)
}

// Importer ingests a CSV blacklist export. The handler relays its result
// without interpreting it.
type Importer interface {
	Import(ctx context.Context, r io.Reader) (*domain.ImportResult, error)
}
