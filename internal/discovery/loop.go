package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/sse"
)

// DefaultRunInterval is the pause between consecutive loop runs.
const DefaultRunInterval = 30 * time.Second

// ErrLoopAlreadyRunning is returned when StartLoop is called while a loop
// is active. The running loop is left untouched.
var ErrLoopAlreadyRunning = errors.New("discovery loop already running")

// ChannelStore persists discovery hits.
type ChannelStore interface {
	UpsertDiscovered(ctx context.Context, channels []domain.Channel) (inserted []string, blacklisted int, err error)
}

// EnrichRequester triggers an enrichment pass over specific channels. The
// server wires this to the enrichment coordinator; the dashboard layer wraps
// it with its own queuing.
type EnrichRequester interface {
	RequestEnrich(ctx context.Context, channelIDs []string, mode domain.Mode, limit int) error
}

// Controller owns the discovery loop: it runs discovery passes back to back,
// tracks lifecycle state, and honors graceful stop requests between runs.
type Controller struct {
	state      *StateManager
	discoverer Discoverer
	channels   ChannelStore
	broker     sse.Publisher
	enricher   EnrichRequester
	logger     logger.Interface

	runInterval time.Duration

	mu       sync.Mutex
	stop     chan struct{}
	stopOnce *sync.Once
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRunInterval sets the pause between loop runs.
func WithRunInterval(interval time.Duration) ControllerOption {
	return func(c *Controller) {
		if interval > 0 {
			c.runInterval = interval
		}
	}
}

// WithEnrichRequester enables auto-enrichment after the loop completes.
func WithEnrichRequester(enricher EnrichRequester) ControllerOption {
	return func(c *Controller) {
		c.enricher = enricher
	}
}

// NewController creates a discovery loop controller.
func NewController(
	discoverer Discoverer,
	channels ChannelStore,
	broker sse.Publisher,
	log logger.Interface,
	opts ...ControllerOption,
) *Controller {
	c := &Controller{
		state:       NewStateManager(),
		discoverer:  discoverer,
		channels:    channels,
		broker:      broker,
		logger:      log.WithComponent("discovery"),
		runInterval: DefaultRunInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Snapshot returns the current loop state.
func (c *Controller) Snapshot() domain.LoopSnapshot {
	return c.state.Snapshot()
}

// RunOnce performs a single discovery pass without touching loop state.
func (c *Controller) RunOnce(ctx context.Context, settings domain.DiscoverySettings) (*domain.DiscoveryResult, error) {
	return c.runDiscovery(ctx, settings)
}

// StartLoop begins the discovery loop in the background. Returns
// ErrLoopAlreadyRunning when a loop is already active.
func (c *Controller) StartLoop(ctx context.Context, settings domain.DiscoverySettings) (domain.LoopSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Running() {
		return c.state.Snapshot(), ErrLoopAlreadyRunning
	}

	snapshot := c.state.MarkStarted()
	c.stop = make(chan struct{})
	c.stopOnce = &sync.Once{}
	c.publishStatus(ctx, snapshot)

	c.logger.Info("Discovery loop started",
		"keywords", len(settings.Keywords),
		"run_until_stopped", settings.RunUntilStop)

	go c.run(context.WithoutCancel(ctx), settings, c.stop)

	return snapshot, nil
}

// StopLoop requests a graceful stop. The current run finishes; any inter-run
// wait is cut short. Idempotent, and a no-op when the loop is idle.
func (c *Controller) StopLoop(ctx context.Context) domain.LoopSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Running() {
		return c.state.Snapshot()
	}

	snapshot := c.state.RequestStop()
	c.stopOnce.Do(func() { close(c.stop) })
	c.publishStatus(ctx, snapshot)

	c.logger.Info("Discovery loop stop requested")

	return snapshot
}

func (c *Controller) run(ctx context.Context, settings domain.DiscoverySettings, stop <-chan struct{}) {
	var runs, discovered int

	for {
		result, err := c.runDiscovery(ctx, settings)
		if err != nil {
			c.logger.Error("Discovery run failed", "run", runs+1, "error", err)
			c.finish(ctx, runs, discovered, "", err.Error())
			return
		}

		runs++
		discovered += len(result.NewChannelIDs)
		snapshot := c.state.UpdateProgress(runs, discovered)
		c.publishStatus(ctx, snapshot)

		c.logger.Info("Discovery run completed",
			"run", runs,
			"found", result.FoundCount,
			"new", len(result.NewChannelIDs),
			"blacklisted", result.BlacklistedCount)

		c.autoEnrich(ctx, settings, result.NewChannelIDs)

		if !settings.RunUntilStop || c.state.StopRequested() {
			c.finish(ctx, runs, discovered, "", "")
			return
		}

		select {
		case <-stop:
			c.finish(ctx, runs, discovered, "", "")
			return
		case <-time.After(c.runInterval):
		}
	}
}

func (c *Controller) finish(ctx context.Context, runs, discovered int, reason, errMessage string) {
	snapshot := c.state.MarkCompleted(runs, discovered, reason, errMessage)
	c.publishStatus(ctx, snapshot)

	c.logger.Info("Discovery loop completed",
		"runs", snapshot.Runs,
		"discovered", snapshot.Discovered,
		"reason", snapshot.LastReason)
}

// autoEnrich requests enrichment for exactly the channels a run just added.
func (c *Controller) autoEnrich(ctx context.Context, settings domain.DiscoverySettings, newIDs []string) {
	if c.enricher == nil || !settings.AutoEnrich || len(newIDs) == 0 {
		return
	}

	mode := settings.AutoEnrichMode
	if !domain.ValidMode(string(mode)) {
		mode = domain.ModeFull
	}
	if err := c.enricher.RequestEnrich(ctx, newIDs, mode, settings.EnrichLimit); err != nil {
		c.logger.Error("Auto-enrichment request failed", "mode", mode, "error", err)
	}
}

func (c *Controller) runDiscovery(ctx context.Context, settings domain.DiscoverySettings) (*domain.DiscoveryResult, error) {
	hits, err := c.discoverer.Discover(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to run discovery: %w", err)
	}

	inserted, blacklisted, err := c.channels.UpsertDiscovered(ctx, hits)
	if err != nil {
		return nil, fmt.Errorf("failed to store discovered channels: %w", err)
	}

	return &domain.DiscoveryResult{
		FoundCount:       len(hits),
		BlacklistedCount: blacklisted,
		NewChannelIDs:    inserted,
	}, nil
}

func (c *Controller) publishStatus(ctx context.Context, snapshot domain.LoopSnapshot) {
	if c.broker == nil {
		return
	}
	err := c.broker.Publish(ctx, sse.Event{
		Type: sse.EventTypeLoopStatus,
		Data: snapshot,
	})
	if err != nil {
		c.logger.Warn("Failed to publish loop status", "error", err)
	}
}
