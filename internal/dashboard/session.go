package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/enrich"
	"github.com/jonesrussell/harvester/internal/jobs"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/sse"
	"github.com/jonesrussell/harvester/internal/stats"
)

const (
	// DefaultPollInterval is how often stats are polled regardless of any
	// active stream.
	DefaultPollInterval = 5 * time.Second

	defaultFinalizeAttempts = 5
	defaultFinalizeBackoff  = 500 * time.Millisecond
)

// ErrEnrichmentActive is returned when a manual enrichment start is ignored
// because another job is already in flight. Manual requests are dropped, not
// queued; only auto-enrich requests queue.
var ErrEnrichmentActive = errors.New("enrichment job already in flight")

// API is the server surface the session consumes.
type API interface {
	GetStats(ctx context.Context) (*stats.Stats, error)
	StartEnrichment(ctx context.Context, request enrich.StartRequest) (*enrich.StartResult, error)
	GetJob(ctx context.Context, jobID string) (*domain.JobSummary, error)
	StreamJob(ctx context.Context, jobID string) (*Stream, error)
}

// Notifier receives one-time user-facing notices.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(message string)

// Notify calls f.
func (f NotifierFunc) Notify(message string) { f(message) }

// Finalizer runs the data refresh that follows a detected loop completion.
// Transient failures are retried with backoff; the call is never silently
// dropped.
type Finalizer interface {
	FinalizeLoop(ctx context.Context, loop domain.LoopSnapshot) error
}

// FinalizerFunc adapts a function to the Finalizer interface.
type FinalizerFunc func(ctx context.Context, loop domain.LoopSnapshot) error

// FinalizeLoop calls f.
func (f FinalizerFunc) FinalizeLoop(ctx context.Context, loop domain.LoopSnapshot) error {
	return f(ctx, loop)
}

// Session mirrors server state on the client side. It runs a stats poller,
// follows per-job event streams into a local channel view, serializes
// enrichment starts (manual single-flight, auto queued), and turns loop
// version bumps into one-time completion notifications.
type Session struct {
	api       API
	notifier  Notifier
	finalizer Finalizer
	logger    logger.Interface

	pollInterval     time.Duration
	finalizeAttempts int
	finalizeBackoff  time.Duration

	mu           sync.Mutex
	view         map[string]ChannelView
	progress     domain.JobSummary
	jobActive    bool
	activeJobID  string
	pendingAuto  *enrich.StartRequest
	pendingLoop  *domain.LoopSnapshot
	loopVersion  int64
	versionSeen  bool
	pollInFlight bool

	wg sync.WaitGroup
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithPollInterval sets the stats polling interval.
func WithPollInterval(interval time.Duration) SessionOption {
	return func(s *Session) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithNotifier sets the notification sink.
func WithNotifier(notifier Notifier) SessionOption {
	return func(s *Session) {
		s.notifier = notifier
	}
}

// WithFinalizer sets the loop-completion finalizer.
func WithFinalizer(finalizer Finalizer) SessionOption {
	return func(s *Session) {
		s.finalizer = finalizer
	}
}

// WithFinalizeRetry sets the bounded retry policy for finalization calls.
func WithFinalizeRetry(attempts int, backoff time.Duration) SessionOption {
	return func(s *Session) {
		if attempts > 0 {
			s.finalizeAttempts = attempts
		}
		if backoff > 0 {
			s.finalizeBackoff = backoff
		}
	}
}

// NewSession creates a dashboard session over the given API.
func NewSession(api API, log logger.Interface, opts ...SessionOption) *Session {
	s := &Session{
		api:              api,
		logger:           log,
		pollInterval:     DefaultPollInterval,
		finalizeAttempts: defaultFinalizeAttempts,
		finalizeBackoff:  defaultFinalizeBackoff,
		view:             make(map[string]ChannelView),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run polls stats until ctx is cancelled, then waits for background
// watchers to drain.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	if err := s.Poll(ctx); err != nil {
		s.logger.Warn("Stats poll failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				s.logger.Warn("Stats poll failed", "error", err)
			}
		case <-ctx.Done():
			s.wg.Wait()
			return
		}
	}
}

// Poll fetches stats once and processes loop-completion detection. A poll
// arriving while another is in flight is suppressed, not queued.
func (s *Session) Poll(ctx context.Context) error {
	s.mu.Lock()
	if s.pollInFlight {
		s.mu.Unlock()
		return nil
	}
	s.pollInFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pollInFlight = false
		s.mu.Unlock()
	}()

	current, err := s.api.GetStats(ctx)
	if err != nil {
		return err
	}

	loop := current.DiscoveryLoop

	s.mu.Lock()
	if !s.versionSeen {
		// First poll establishes the baseline; whatever completed before
		// this session existed is not news.
		s.versionSeen = true
		s.loopVersion = loop.Version
		s.mu.Unlock()
		return nil
	}
	if loop.Version == s.loopVersion {
		s.mu.Unlock()
		return nil
	}
	s.loopVersion = loop.Version
	if loop.Running {
		// Mid-loop progress, not a completion.
		s.mu.Unlock()
		return nil
	}
	if s.jobActive || s.pendingAuto != nil {
		// Enrichment has not settled; defer the finalization.
		snapshot := loop
		s.pendingLoop = &snapshot
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.finalizeLoop(ctx, loop)
	return nil
}

// StartEnrichment starts a manual enrichment job. Returns
// ErrEnrichmentActive while another job is in flight.
func (s *Session) StartEnrichment(ctx context.Context, request enrich.StartRequest) (*enrich.StartResult, error) {
	s.mu.Lock()
	if s.jobActive {
		s.mu.Unlock()
		return nil, ErrEnrichmentActive
	}
	s.jobActive = true
	s.mu.Unlock()

	return s.startJob(ctx, request)
}

// RequestEnrich queues or starts an auto-enrich request for the given
// channels. While a job is active the request merges into the pending one
// and fires exactly once after the active job's done event. Satisfies
// discovery.EnrichRequester.
func (s *Session) RequestEnrich(ctx context.Context, channelIDs []string, mode domain.Mode, limit int) error {
	request := enrich.StartRequest{
		Mode:       mode,
		Limit:      limit,
		ChannelIDs: channelIDs,
	}

	s.mu.Lock()
	if s.jobActive {
		if s.pendingAuto == nil {
			s.pendingAuto = &request
		} else {
			merged := mergeAutoRequests(*s.pendingAuto, request)
			s.pendingAuto = &merged
		}
		s.mu.Unlock()
		return nil
	}
	s.jobActive = true
	s.mu.Unlock()

	_, err := s.startJob(ctx, request)
	return err
}

// Channel returns the local view of one channel.
func (s *Session) Channel(channelID string) (ChannelView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.view[channelID]
	return view, ok
}

// Channels returns a snapshot of the local channel view.
func (s *Session) Channels() []ChannelView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]ChannelView, 0, len(s.view))
	for _, view := range s.view {
		views = append(views, view)
	}
	return views
}

// Progress returns the most recent job summary.
func (s *Session) Progress() domain.JobSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// EnrichmentActive reports whether a job is currently in flight.
func (s *Session) EnrichmentActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobActive
}

// startJob calls the server and attaches a watcher. The caller must hold
// the jobActive reservation; it is released through jobFinished on failure
// or a no-op start.
func (s *Session) startJob(ctx context.Context, request enrich.StartRequest) (*enrich.StartResult, error) {
	result, err := s.api.StartEnrichment(ctx, request)
	if err != nil {
		s.jobFinished(ctx)
		return nil, err
	}
	if result.JobID == "" {
		s.jobFinished(ctx)
		return result, nil
	}

	s.mu.Lock()
	s.activeJobID = result.JobID
	s.progress = domain.JobSummary{
		JobID:     result.JobID,
		Mode:      request.Mode,
		Total:     result.Total,
		Requested: result.Requested,
		Skipped:   result.Skipped,
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchJob(ctx, result.JobID)
	}()

	return result, nil
}

// watchJob follows the per-job stream, falling back to summary polling when
// the stream cannot be opened or drops before the done event.
func (s *Session) watchJob(ctx context.Context, jobID string) {
	stream, err := s.api.StreamJob(ctx, jobID)
	if err != nil {
		s.logger.Warn("Job stream unavailable, falling back to polling",
			"job_id", jobID, "error", err)
		s.awaitJobByPolling(ctx, jobID)
		return
	}
	defer stream.Close()

	for event := range stream.Events() {
		switch event.Type {
		case sse.EventTypeChannel:
			var update jobs.ChannelUpdate
			if jsonErr := json.Unmarshal(event.Data, &update); jsonErr != nil {
				s.logger.Warn("Malformed channel event", "job_id", jobID, "error", jsonErr)
				continue
			}
			s.applyPatch(update)
		case sse.EventTypeProgress:
			var summary domain.JobSummary
			if jsonErr := json.Unmarshal(event.Data, &summary); jsonErr != nil {
				s.logger.Warn("Malformed progress event", "job_id", jobID, "error", jsonErr)
				continue
			}
			s.applyProgress(summary)
			if summary.Done {
				s.jobFinished(ctx)
				return
			}
		case sse.EventTypeError:
			s.logger.Warn("Job stream error event", "job_id", jobID)
		}
	}

	if ctx.Err() != nil {
		s.releaseJob()
		return
	}

	// Stream ended without a done event; the poller finishes the job.
	s.awaitJobByPolling(ctx, jobID)
}

// awaitJobByPolling watches a job through its summary endpoint.
func (s *Session) awaitJobByPolling(ctx context.Context, jobID string) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			summary, err := s.api.GetJob(ctx, jobID)
			if err != nil {
				s.logger.Warn("Job summary poll failed", "job_id", jobID, "error", err)
				continue
			}
			s.applyProgress(*summary)
			if summary.Done {
				s.jobFinished(ctx)
				return
			}
		case <-ctx.Done():
			s.releaseJob()
			return
		}
	}
}

// jobFinished releases the active job and settles deferred work: a queued
// auto-enrich request starts first (keeping the reservation); otherwise a
// deferred loop finalization fires.
func (s *Session) jobFinished(ctx context.Context) {
	s.mu.Lock()
	s.activeJobID = ""
	pending := s.pendingAuto
	s.pendingAuto = nil

	var loop *domain.LoopSnapshot
	if pending == nil {
		s.jobActive = false
		if s.pendingLoop != nil {
			loop = s.pendingLoop
			s.pendingLoop = nil
		}
	}
	s.mu.Unlock()

	if pending != nil {
		if _, err := s.startJob(ctx, *pending); err != nil {
			s.notify(fmt.Sprintf("Queued enrichment failed: %v", err))
		}
		return
	}

	if loop != nil {
		s.finalizeLoop(ctx, *loop)
	}
}

// releaseJob drops the active reservation without settling deferred work.
// Used on shutdown paths where ctx is already cancelled.
func (s *Session) releaseJob() {
	s.mu.Lock()
	s.jobActive = false
	s.activeJobID = ""
	s.mu.Unlock()
}

// finalizeLoop runs the finalizer with bounded retry-with-backoff in the
// background, then emits the one-time completion notice. The version and
// pending markers were already consumed under the session lock, so the
// notification cannot double-fire.
func (s *Session) finalizeLoop(ctx context.Context, loop domain.LoopSnapshot) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		backoff := s.finalizeBackoff
		for attempt := 1; s.finalizer != nil; attempt++ {
			err := s.finalizer.FinalizeLoop(ctx, loop)
			if err == nil {
				break
			}
			if attempt >= s.finalizeAttempts {
				s.notify(fmt.Sprintf("Discovery loop finalization failed after %d attempts: %v",
					attempt, err))
				return
			}
			s.logger.Warn("Loop finalization failed, retrying",
				"attempt", attempt, "error", err)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
		}

		s.notify(loopCompletionMessage(loop))
	}()
}

func loopCompletionMessage(loop domain.LoopSnapshot) string {
	message := fmt.Sprintf("Discovery loop finished (%s): %d runs, %d channels discovered",
		loop.LastReason, loop.Runs, loop.Discovered)
	if loop.LastError != "" {
		message += ": " + loop.LastError
	}
	return message
}

func (s *Session) applyPatch(update jobs.ChannelUpdate) {
	if update.ChannelID == "" {
		return
	}
	s.mu.Lock()
	s.view[update.ChannelID] = Merge(s.view[update.ChannelID], update)
	s.mu.Unlock()
}

func (s *Session) applyProgress(summary domain.JobSummary) {
	s.mu.Lock()
	s.progress = summary
	s.mu.Unlock()
}

func (s *Session) notify(message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(message)
}

// mergeAutoRequests folds a new auto-enrich request into the pending one:
// channel ids are unioned, the newest mode and flags win, and limits sum
// unless either side is unlimited.
func mergeAutoRequests(existing, incoming enrich.StartRequest) enrich.StartRequest {
	merged := incoming

	seen := make(map[string]struct{}, len(existing.ChannelIDs)+len(incoming.ChannelIDs))
	ids := make([]string, 0, len(existing.ChannelIDs)+len(incoming.ChannelIDs))
	for _, id := range append(append([]string(nil), existing.ChannelIDs...), incoming.ChannelIDs...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	merged.ChannelIDs = ids

	if existing.Limit <= 0 || incoming.Limit <= 0 {
		merged.Limit = 0
	} else {
		merged.Limit = existing.Limit + incoming.Limit
	}

	merged.ForceRun = existing.ForceRun || incoming.ForceRun

	return merged
}
