// Package stats aggregates channel, email, loop and job state into the
// dashboard status payload.
package stats

import (
	"context"
	"fmt"

	"github.com/jonesrussell/harvester/internal/domain"
)

// ChannelCounter exposes the channel count queries the aggregator needs.
type ChannelCounter interface {
	CategoryTotals(ctx context.Context) (map[domain.Category]int, error)
	StatusTotals(ctx context.Context) (map[domain.Status]int, error)
}

// EmailCounter exposes the unique email count.
type EmailCounter interface {
	UniqueEmailCount(ctx context.Context) (int, error)
}

// LoopStatus exposes the discovery loop snapshot.
type LoopStatus interface {
	Snapshot() domain.LoopSnapshot
}

// JobSummarizer exposes the tracker's job summaries.
type JobSummarizer interface {
	Summaries() []domain.JobSummary
}

// EnrichmentStats summarizes enrichment pressure.
type EnrichmentStats struct {
	ActiveJobs         int                 `json:"active_jobs"`
	PendingChannels    int                 `json:"pending_channels"`
	ProcessingChannels int                 `json:"processing_channels"`
	Jobs               []domain.JobSummary `json:"jobs,omitempty"`
}

// Stats is the aggregated status payload. Pollers compare
// DiscoveryLoop.Version against their last seen value to detect fresh loop
// completions, so every call must reflect current authoritative state.
type Stats struct {
	CategoryCounts   map[domain.Category]int `json:"category_counts"`
	UniqueEmailCount int                     `json:"unique_email_count"`
	DiscoveryLoop    domain.LoopSnapshot     `json:"discovery_loop"`
	StatusTotals     map[domain.Status]int   `json:"status_totals"`
	Enrichment       EnrichmentStats         `json:"enrichment"`
}

// Aggregator computes Stats fresh on every call. Nothing is cached; a stale
// running flag would break completion detection on the client.
type Aggregator struct {
	channels ChannelCounter
	emails   EmailCounter
	loop     LoopStatus
	jobs     JobSummarizer
}

// NewAggregator creates a stats aggregator.
func NewAggregator(
	channels ChannelCounter,
	emails EmailCounter,
	loop LoopStatus,
	jobs JobSummarizer,
) *Aggregator {
	return &Aggregator{
		channels: channels,
		emails:   emails,
		loop:     loop,
		jobs:     jobs,
	}
}

// GetStats assembles the current status payload.
func (a *Aggregator) GetStats(ctx context.Context) (*Stats, error) {
	categories, err := a.channels.CategoryTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get category totals: %w", err)
	}

	statuses, err := a.channels.StatusTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get status totals: %w", err)
	}

	uniqueEmails, err := a.emails.UniqueEmailCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count unique emails: %w", err)
	}

	summaries := a.jobs.Summaries()
	active := 0
	for _, s := range summaries {
		if !s.Done {
			active++
		}
	}

	return &Stats{
		CategoryCounts:   categories,
		UniqueEmailCount: uniqueEmails,
		DiscoveryLoop:    a.loop.Snapshot(),
		StatusTotals:     statuses,
		Enrichment: EnrichmentStats{
			ActiveJobs:         active,
			PendingChannels:    statuses[domain.StatusNew] + statuses[domain.StatusError],
			ProcessingChannels: statuses[domain.StatusProcessing],
			Jobs:               summaries,
		},
	}, nil
}
