package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/sse"
)

const subscriberBufferSize = 256

var (
	// ErrNoTargets is returned when a job is created with an empty target set.
	// Callers treat this as a no-op success, not a failure.
	ErrNoTargets = errors.New("job has no target channels")
	// ErrJobNotFound is returned for operations on unknown job ids.
	ErrJobNotFound = errors.New("job not found")
)

// job is the tracker's internal record of one enrichment batch.
// Counters are guarded by the tracker mutex; subscribers receive events in
// the exact order outcomes are recorded.
type job struct {
	id        string
	mode      domain.Mode
	targetIDs []string
	requested int
	startedAt time.Time

	completed int
	errored   int
	skipped   int
	done      bool

	subscribers map[string]chan sse.Event
}

func (j *job) summary() domain.JobSummary {
	total := len(j.targetIDs)
	pending := total - j.completed - j.errored - j.skipped
	if pending < 0 {
		pending = 0
	}
	return domain.JobSummary{
		JobID:           j.id,
		Mode:            j.mode,
		Total:           total,
		Completed:       j.completed,
		Errored:         j.errored,
		Skipped:         j.skipped,
		Requested:       j.requested,
		Pending:         pending,
		Done:            j.done,
		DurationSeconds: time.Since(j.startedAt).Seconds(),
	}
}

// Tracker is the in-memory registry of enrichment jobs. It tracks per-job
// counters and fans progress out to per-job subscribers and, optionally, a
// shared SSE broker.
type Tracker struct {
	mu     sync.Mutex
	jobs   map[string]*job
	broker sse.Publisher
	logger logger.Interface
}

// NewTracker creates a job tracker. broker may be nil; when set, progress
// summaries are mirrored onto it as job:progress / job:completed events.
func NewTracker(log logger.Interface, broker sse.Publisher) *Tracker {
	return &Tracker{
		jobs:   make(map[string]*job),
		broker: broker,
		logger: log,
	}
}

// Create allocates a job for the given fixed target set. The target list
// does not grow after creation. requested is the pre-filter candidate count,
// echoed in summaries. Policy-skipped channels belong to the target set and
// are reported through RecordOutcome with OutcomeSkipped, which keeps
// completed+errored+skipped == total at done.
func (t *Tracker) Create(targetIDs []string, mode domain.Mode, requested int) (string, error) {
	if len(targetIDs) == 0 {
		return "", ErrNoTargets
	}

	ids := make([]string, len(targetIDs))
	copy(ids, targetIDs)

	j := &job{
		id:          uuid.NewString(),
		mode:        mode,
		targetIDs:   ids,
		requested:   requested,
		startedAt:   time.Now(),
		subscribers: make(map[string]chan sse.Event),
	}

	t.mu.Lock()
	t.jobs[j.id] = j
	t.mu.Unlock()

	t.logger.Info("Enrichment job created",
		"job_id", j.id, "mode", mode, "total", len(ids))

	// Initial summary kicks off progress display.
	t.publishProgress(j.id)

	return j.id, nil
}

// RecordOutcome registers the terminal result for one channel within a job
// and emits an ordered progress event. When the final outcome lands, the
// done event fires exactly once and all subscriber streams are closed.
func (t *Tracker) RecordOutcome(jobID, channelID string, outcome domain.Outcome) error {
	t.mu.Lock()
	j, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if j.done {
		t.mu.Unlock()
		return fmt.Errorf("job %s already done, dropping outcome for %s", jobID, channelID)
	}

	switch outcome {
	case domain.OutcomeSuccess:
		j.completed++
	case domain.OutcomeError:
		j.errored++
	case domain.OutcomeSkipped:
		j.skipped++
	}

	finished := j.completed+j.errored+j.skipped >= len(j.targetIDs)
	if finished {
		j.done = true
	}
	summary := j.summary()

	event := sse.Event{Type: sse.EventTypeProgress, Data: summary}
	t.deliverLocked(j, event)
	if finished {
		t.closeSubscribersLocked(j)
	}
	t.mu.Unlock()

	t.mirror(summary, finished)
	return nil
}

// RecordChannelUpdate emits a fine-grained patch event for one channel so
// subscribers can update their view incrementally.
func (t *Tracker) RecordChannelUpdate(jobID string, update ChannelUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	t.deliverLocked(j, sse.Event{Type: sse.EventTypeChannel, Data: update})
	return nil
}

// Subscribe attaches a new subscriber to a job's event stream. The first
// event delivered is a synthetic snapshot of the current summary so a late
// or reconnecting subscriber never silently misses state. If the job is
// already done the snapshot (with done=true) is the only event and the
// stream closes immediately after it.
func (t *Tracker) Subscribe(jobID string) (<-chan sse.Event, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	ch := make(chan sse.Event, subscriberBufferSize)
	ch <- sse.Event{Type: sse.EventTypeProgress, Data: j.summary()}

	if j.done {
		close(ch)
		return ch, func() {}, nil
	}

	subID := uuid.NewString()
	j.subscribers[subID] = ch

	cleanup := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, exists := j.subscribers[subID]; exists {
			delete(j.subscribers, subID)
			close(sub)
		}
	}

	return ch, cleanup, nil
}

// Summary returns the current snapshot for one job.
func (t *Tracker) Summary(jobID string) (domain.JobSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return domain.JobSummary{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return j.summary(), nil
}

// Summaries returns snapshots of all known jobs, newest state included, for
// the stats aggregator. Active jobs are those not yet done.
func (t *Tracker) Summaries() []domain.JobSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summaries := make([]domain.JobSummary, 0, len(t.jobs))
	for _, j := range t.jobs {
		summaries = append(summaries, j.summary())
	}
	return summaries
}

// Remove drops a finished job from the registry. Removing an active job is
// refused so its subscribers keep receiving events.
func (t *Tracker) Remove(jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if !j.done {
		return fmt.Errorf("job %s still active", jobID)
	}
	delete(t.jobs, jobID)
	return nil
}

// deliverLocked fans an event out to all subscribers of j in record order.
// Slow subscribers (full buffer) are dropped rather than allowed to stall
// or reorder delivery for everyone else.
func (t *Tracker) deliverLocked(j *job, event sse.Event) {
	for subID, ch := range j.subscribers {
		select {
		case ch <- event:
		default:
			delete(j.subscribers, subID)
			close(ch)
			t.logger.Warn("Dropping slow job subscriber",
				"job_id", j.id, "subscriber_id", subID)
		}
	}
}

// closeSubscribersLocked closes all subscriber channels after the final event.
func (t *Tracker) closeSubscribersLocked(j *job) {
	for subID, ch := range j.subscribers {
		delete(j.subscribers, subID)
		close(ch)
	}
}

// publishProgress emits the current summary for a job.
func (t *Tracker) publishProgress(jobID string) {
	t.mu.Lock()
	j, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	summary := j.summary()
	t.deliverLocked(j, sse.Event{Type: sse.EventTypeProgress, Data: summary})
	t.mu.Unlock()

	t.mirror(summary, false)
}

// mirror republishes a summary on the shared broker stream.
func (t *Tracker) mirror(summary domain.JobSummary, finished bool) {
	if t.broker == nil {
		return
	}

	eventType := sse.EventTypeJobProgress
	if finished {
		eventType = sse.EventTypeJobCompleted
	}
	if err := t.broker.Publish(context.Background(), sse.Event{Type: eventType, Data: summary}); err != nil {
		t.logger.Debug("Failed to mirror job event", "job_id", summary.JobID, "error", err)
	}
}
