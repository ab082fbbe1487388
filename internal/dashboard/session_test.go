package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/enrich"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/stats"
)

const (
	testWaitTimeout  = 2 * time.Second
	testWaitInterval = 2 * time.Millisecond
)

// jobFeed is a hand-driven per-job event stream.
type jobFeed struct {
	writer *io.PipeWriter
}

func newJobFeed() (*Stream, *jobFeed) {
	pr, pw := io.Pipe()
	return newStream(pr), &jobFeed{writer: pw}
}

func (f *jobFeed) send(t *testing.T, eventType string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f.writer, "event: %s\ndata: %s\n\n", eventType, data)
	require.NoError(t, err)
}

func (f *jobFeed) close() {
	f.writer.Close()
}

// mockAPI implements the API interface.
type mockAPI struct {
	mu sync.Mutex

	statsQueue []*stats.Stats
	statsErr   error

	startResults []*enrich.StartResult
	startErr     error
	startCalls   []enrich.StartRequest

	streams   map[string]*Stream
	streamErr error

	summaries map[string]*domain.JobSummary
}

func newMockAPI() *mockAPI {
	return &mockAPI{
		streams:   make(map[string]*Stream),
		summaries: make(map[string]*domain.JobSummary),
	}
}

func (m *mockAPI) GetStats(_ context.Context) (*stats.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statsErr != nil {
		return nil, m.statsErr
	}
	if len(m.statsQueue) == 0 {
		return &stats.Stats{}, nil
	}
	current := m.statsQueue[0]
	if len(m.statsQueue) > 1 {
		m.statsQueue = m.statsQueue[1:]
	}
	return current, nil
}

func (m *mockAPI) StartEnrichment(_ context.Context, request enrich.StartRequest) (*enrich.StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls = append(m.startCalls, request)
	if m.startErr != nil {
		return nil, m.startErr
	}
	if len(m.startResults) == 0 {
		return &enrich.StartResult{}, nil
	}
	result := m.startResults[0]
	m.startResults = m.startResults[1:]
	return result, nil
}

func (m *mockAPI) GetJob(_ context.Context, jobID string) (*domain.JobSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary, ok := m.summaries[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return summary, nil
}

func (m *mockAPI) StreamJob(_ context.Context, jobID string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamErr != nil {
		return nil, m.streamErr
	}
	stream, ok := m.streams[jobID]
	if !ok {
		return nil, fmt.Errorf("no stream for job %s", jobID)
	}
	return stream, nil
}

func (m *mockAPI) calls() []enrich.StartRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]enrich.StartRequest(nil), m.startCalls...)
}

// mockNotifier records notifications.
type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockNotifier) Notify(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
}

func (m *mockNotifier) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func loopStats(version int64, running bool, runs, discovered int) *stats.Stats {
	return &stats.Stats{
		DiscoveryLoop: domain.LoopSnapshot{
			Running:    running,
			Runs:       runs,
			Discovered: discovered,
			Version:    version,
			LastReason: domain.LoopReasonCompleted,
		},
	}
}

func TestSessionPollDetectsLoopCompletionOnce(t *testing.T) {
	api := newMockAPI()
	api.statsQueue = []*stats.Stats{
		loopStats(3, true, 1, 2),
		loopStats(8, false, 3, 6),
		loopStats(8, false, 3, 6),
	}
	notifier := &mockNotifier{}
	session := NewSession(api, logger.NewNoOp(), WithNotifier(notifier))

	ctx := context.Background()
	require.NoError(t, session.Poll(ctx)) // baseline
	require.NoError(t, session.Poll(ctx)) // completion detected

	require.Eventually(t, func() bool {
		return len(notifier.all()) == 1
	}, testWaitTimeout, testWaitInterval)
	assert.Contains(t, notifier.all()[0], "3 runs")
	assert.Contains(t, notifier.all()[0], "6 channels")

	// Same version again: already processed, no second notice.
	require.NoError(t, session.Poll(ctx))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, notifier.all(), 1)
}

func TestSessionPollIgnoresVersionBumpWhileRunning(t *testing.T) {
	api := newMockAPI()
	api.statsQueue = []*stats.Stats{
		loopStats(1, false, 0, 0),
		loopStats(4, true, 2, 4),
	}
	notifier := &mockNotifier{}
	session := NewSession(api, logger.NewNoOp(), WithNotifier(notifier))

	ctx := context.Background()
	require.NoError(t, session.Poll(ctx))
	require.NoError(t, session.Poll(ctx))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, notifier.all())
}

func TestSessionPollSingleFlight(t *testing.T) {
	api := newMockAPI()
	notifier := &mockNotifier{}
	session := NewSession(api, logger.NewNoOp(), WithNotifier(notifier))

	session.mu.Lock()
	session.pollInFlight = true
	session.mu.Unlock()

	// Suppressed poll never reaches the API.
	require.NoError(t, session.Poll(context.Background()))
	api.mu.Lock()
	remaining := len(api.statsQueue)
	api.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestSessionManualEnrichmentSingleFlight(t *testing.T) {
	api := newMockAPI()
	stream, feed := newJobFeed()
	defer feed.close()
	api.streams["job-1"] = stream
	api.startResults = []*enrich.StartResult{{JobID: "job-1", Total: 2, Requested: 10}}

	session := NewSession(api, logger.NewNoOp())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := session.StartEnrichment(ctx, enrich.StartRequest{Mode: domain.ModeFull})
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)
	assert.True(t, session.EnrichmentActive())

	// A second manual start is ignored, not queued.
	_, err = session.StartEnrichment(ctx, enrich.StartRequest{Mode: domain.ModeFull})
	require.ErrorIs(t, err, ErrEnrichmentActive)
	assert.Len(t, api.calls(), 1)
}

func TestSessionStreamPatchesUpdateView(t *testing.T) {
	api := newMockAPI()
	stream, feed := newJobFeed()
	api.streams["job-1"] = stream
	api.startResults = []*enrich.StartResult{{JobID: "job-1", Total: 1}}

	session := NewSession(api, logger.NewNoOp())
	_, err := session.StartEnrichment(context.Background(), enrich.StartRequest{Mode: domain.ModeFull})
	require.NoError(t, err)

	subscribers := int64(1200)
	feed.send(t, "channel", map[string]any{
		"channelId":   "UCabc",
		"status":      "completed",
		"subscribers": subscribers,
		"emails":      []string{"pat@example.com"},
	})
	feed.send(t, "progress", domain.JobSummary{JobID: "job-1", Total: 1, Completed: 1, Done: true})
	feed.close()

	require.Eventually(t, func() bool {
		return !session.EnrichmentActive()
	}, testWaitTimeout, testWaitInterval)

	view, ok := session.Channel("UCabc")
	require.True(t, ok)
	assert.Equal(t, "completed", view.Status)
	require.NotNil(t, view.Subscribers)
	assert.Equal(t, subscribers, *view.Subscribers)
	assert.Equal(t, []string{"pat@example.com"}, view.Emails)

	progress := session.Progress()
	assert.True(t, progress.Done)
	assert.Equal(t, 1, progress.Completed)
}

func TestSessionAutoEnrichQueuedAndMerged(t *testing.T) {
	api := newMockAPI()
	first, firstFeed := newJobFeed()
	second, secondFeed := newJobFeed()
	defer secondFeed.close()
	api.streams["job-1"] = first
	api.streams["job-2"] = second
	api.startResults = []*enrich.StartResult{
		{JobID: "job-1", Total: 2},
		{JobID: "job-2", Total: 3},
	}

	session := NewSession(api, logger.NewNoOp())
	_, err := session.StartEnrichment(context.Background(), enrich.StartRequest{Mode: domain.ModeFull})
	require.NoError(t, err)

	// Two auto requests while the manual job runs: they merge and fire once.
	require.NoError(t, session.RequestEnrich(context.Background(),
		[]string{"ch-1", "ch-2"}, domain.ModeFull, 10))
	require.NoError(t, session.RequestEnrich(context.Background(),
		[]string{"ch-2", "ch-3"}, domain.ModeEmailOnly, 20))
	assert.Len(t, api.calls(), 1)

	firstFeed.send(t, "progress", domain.JobSummary{JobID: "job-1", Total: 2, Completed: 2, Done: true})
	firstFeed.close()

	require.Eventually(t, func() bool {
		return len(api.calls()) == 2
	}, testWaitTimeout, testWaitInterval)

	queued := api.calls()[1]
	assert.Equal(t, domain.ModeEmailOnly, queued.Mode)
	assert.Equal(t, 30, queued.Limit)
	assert.ElementsMatch(t, []string{"ch-1", "ch-2", "ch-3"}, queued.ChannelIDs)

	// No duplicate fire after the queued job completes.
	secondFeed.send(t, "progress", domain.JobSummary{JobID: "job-2", Total: 3, Completed: 3, Done: true})
	require.Eventually(t, func() bool {
		return !session.EnrichmentActive()
	}, testWaitTimeout, testWaitInterval)
	assert.Len(t, api.calls(), 2)
}

func TestSessionAutoEnrichStartsImmediatelyWhenIdle(t *testing.T) {
	api := newMockAPI()
	stream, feed := newJobFeed()
	defer feed.close()
	api.streams["job-1"] = stream
	api.startResults = []*enrich.StartResult{{JobID: "job-1", Total: 1}}

	session := NewSession(api, logger.NewNoOp())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, session.RequestEnrich(ctx, []string{"ch-1"}, domain.ModeFull, 5))

	calls := api.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"ch-1"}, calls[0].ChannelIDs)
	assert.True(t, session.EnrichmentActive())
}

func TestSessionLoopFinalizationDeferredUntilJobSettles(t *testing.T) {
	api := newMockAPI()
	stream, feed := newJobFeed()
	api.streams["job-1"] = stream
	api.startResults = []*enrich.StartResult{{JobID: "job-1", Total: 1}}
	api.statsQueue = []*stats.Stats{
		loopStats(1, true, 0, 0),
		loopStats(9, false, 2, 4),
	}

	notifier := &mockNotifier{}
	session := NewSession(api, logger.NewNoOp(), WithNotifier(notifier))

	ctx := context.Background()
	require.NoError(t, session.Poll(ctx))

	_, err := session.StartEnrichment(ctx, enrich.StartRequest{Mode: domain.ModeFull})
	require.NoError(t, err)

	// Completion detected mid-job: the notice waits for the job.
	require.NoError(t, session.Poll(ctx))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, notifier.all())

	feed.send(t, "progress", domain.JobSummary{JobID: "job-1", Total: 1, Completed: 1, Done: true})
	feed.close()

	require.Eventually(t, func() bool {
		return len(notifier.all()) == 1
	}, testWaitTimeout, testWaitInterval)
	assert.Contains(t, notifier.all()[0], "2 runs")
}

func TestSessionFinalizerRetriesWithBackoff(t *testing.T) {
	api := newMockAPI()
	api.statsQueue = []*stats.Stats{
		loopStats(1, false, 0, 0),
		loopStats(5, false, 1, 2),
	}

	var mu sync.Mutex
	attempts := 0
	finalizer := FinalizerFunc(func(_ context.Context, _ domain.LoopSnapshot) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return fmt.Errorf("refresh failed")
		}
		return nil
	})

	notifier := &mockNotifier{}
	session := NewSession(api, logger.NewNoOp(),
		WithNotifier(notifier),
		WithFinalizer(finalizer),
		WithFinalizeRetry(5, time.Millisecond))

	ctx := context.Background()
	require.NoError(t, session.Poll(ctx))
	require.NoError(t, session.Poll(ctx))

	require.Eventually(t, func() bool {
		return len(notifier.all()) == 1
	}, testWaitTimeout, testWaitInterval)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
	assert.Contains(t, notifier.all()[0], "Discovery loop finished")
}

func TestSessionFinalizerFailureSurfaced(t *testing.T) {
	api := newMockAPI()
	api.statsQueue = []*stats.Stats{
		loopStats(1, false, 0, 0),
		loopStats(5, false, 1, 2),
	}

	finalizer := FinalizerFunc(func(_ context.Context, _ domain.LoopSnapshot) error {
		return fmt.Errorf("backend unreachable")
	})

	notifier := &mockNotifier{}
	session := NewSession(api, logger.NewNoOp(),
		WithNotifier(notifier),
		WithFinalizer(finalizer),
		WithFinalizeRetry(3, time.Millisecond))

	ctx := context.Background()
	require.NoError(t, session.Poll(ctx))
	require.NoError(t, session.Poll(ctx))

	require.Eventually(t, func() bool {
		return len(notifier.all()) == 1
	}, testWaitTimeout, testWaitInterval)
	assert.Contains(t, notifier.all()[0], "finalization failed after 3 attempts")
}

func TestSessionNoEligibleStartReleasesGuard(t *testing.T) {
	api := newMockAPI()
	api.startResults = []*enrich.StartResult{
		{Requested: 500},
		{Requested: 500},
	}

	session := NewSession(api, logger.NewNoOp())

	result, err := session.StartEnrichment(context.Background(), enrich.StartRequest{Mode: domain.ModeFull})
	require.NoError(t, err)
	assert.Empty(t, result.JobID)
	assert.False(t, session.EnrichmentActive())

	// The guard released; a new start goes through.
	_, err = session.StartEnrichment(context.Background(), enrich.StartRequest{Mode: domain.ModeFull})
	require.NoError(t, err)
	assert.Len(t, api.calls(), 2)
}

func TestSessionFallsBackToPollingWhenStreamUnavailable(t *testing.T) {
	api := newMockAPI()
	api.streamErr = fmt.Errorf("stream refused")
	api.startResults = []*enrich.StartResult{{JobID: "job-1", Total: 1}}
	api.summaries["job-1"] = &domain.JobSummary{JobID: "job-1", Total: 1, Completed: 1, Done: true}

	session := NewSession(api, logger.NewNoOp(), WithPollInterval(5*time.Millisecond))

	_, err := session.StartEnrichment(context.Background(), enrich.StartRequest{Mode: domain.ModeFull})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !session.EnrichmentActive()
	}, testWaitTimeout, testWaitInterval)
	assert.True(t, session.Progress().Done)
}
