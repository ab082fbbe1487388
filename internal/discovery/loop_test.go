package discovery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/harvester/internal/discovery"
	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/sse"
)

const (
	loopTestInterval = 5 * time.Millisecond
	loopTestWait     = 2 * time.Second
	loopTestTick     = 2 * time.Millisecond
)

// --- Mock implementations ---

// mockDiscoverer implements discovery.Discoverer for testing.
type mockDiscoverer struct {
	mu           sync.Mutex
	discoverFunc func(call int) ([]domain.Channel, error)
	calls        int
}

func (m *mockDiscoverer) Discover(_ context.Context, _ domain.DiscoverySettings) ([]domain.Channel, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	return m.discoverFunc(call)
}

func (m *mockDiscoverer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// mockChannelStore implements discovery.ChannelStore for testing. Channels
// listed in known are treated as already stored and not reported as inserted.
type mockChannelStore struct {
	mu          sync.Mutex
	upserted    [][]domain.Channel
	known       map[string]bool
	blacklisted int
	err         error
}

func (m *mockChannelStore) UpsertDiscovered(_ context.Context, channels []domain.Channel) ([]string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, 0, m.err
	}
	m.upserted = append(m.upserted, channels)
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		if m.known[ch.ChannelID] {
			continue
		}
		ids = append(ids, ch.ChannelID)
	}

	return ids, m.blacklisted, nil
}

// mockPublisher implements sse.Publisher for testing.
type mockPublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (m *mockPublisher) Publish(_ context.Context, event sse.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)

	return nil
}

func (m *mockPublisher) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		types = append(types, ev.Type)
	}

	return types
}

// mockEnrichRequester implements discovery.EnrichRequester for testing.
type mockEnrichRequester struct {
	mu       sync.Mutex
	requests []enrichRequest
}

type enrichRequest struct {
	ChannelIDs []string
	Mode       domain.Mode
	Limit      int
}

func (m *mockEnrichRequester) RequestEnrich(_ context.Context, channelIDs []string, mode domain.Mode, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, enrichRequest{ChannelIDs: channelIDs, Mode: mode, Limit: limit})

	return nil
}

func (m *mockEnrichRequester) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

func testChannels(ids ...string) []domain.Channel {
	channels := make([]domain.Channel, 0, len(ids))
	for _, id := range ids {
		channels = append(channels, domain.Channel{ChannelID: id, Title: "Channel " + id})
	}

	return channels
}

func waitForIdle(t *testing.T, c *discovery.Controller) domain.LoopSnapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return !c.Snapshot().Running
	}, loopTestWait, loopTestTick)

	return c.Snapshot()
}

func TestControllerSingleRun(t *testing.T) {
	disc := &mockDiscoverer{discoverFunc: func(int) ([]domain.Channel, error) {
		return testChannels("ch-1", "ch-2"), nil
	}}
	store := &mockChannelStore{}
	pub := &mockPublisher{}
	c := discovery.NewController(disc, store, pub, logger.NewNoOp(),
		discovery.WithRunInterval(loopTestInterval))

	_, err := c.StartLoop(context.Background(), domain.DiscoverySettings{
		Keywords: []string{"cooking"},
	})
	require.NoError(t, err)

	snapshot := waitForIdle(t, c)

	assert.Equal(t, 1, snapshot.Runs)
	assert.Equal(t, 2, snapshot.Discovered)
	assert.Equal(t, domain.LoopReasonCompleted, snapshot.LastReason)
	assert.Empty(t, snapshot.LastError)
	assert.Equal(t, 1, disc.callCount())
	assert.Contains(t, pub.eventTypes(), sse.EventTypeLoopStatus)
}

func TestControllerDiscoveredCountsOnlyNewChannels(t *testing.T) {
	disc := &mockDiscoverer{discoverFunc: func(int) ([]domain.Channel, error) {
		return testChannels("ch-1", "ch-2", "ch-3", "ch-4", "ch-5"), nil
	}}
	// Four of the five hits are already stored; only ch-5 is new.
	store := &mockChannelStore{known: map[string]bool{
		"ch-1": true, "ch-2": true, "ch-3": true, "ch-4": true,
	}}
	c := discovery.NewController(disc, store, &mockPublisher{}, logger.NewNoOp(),
		discovery.WithRunInterval(loopTestInterval))

	_, err := c.StartLoop(context.Background(), domain.DiscoverySettings{
		Keywords: []string{"cooking"},
	})
	require.NoError(t, err)

	snapshot := waitForIdle(t, c)

	assert.Equal(t, 1, snapshot.Runs)
	assert.Equal(t, 1, snapshot.Discovered, "re-discovered channels must not inflate the counter")
}

func TestControllerStopDuringSecondRun(t *testing.T) {
	var c *discovery.Controller

	disc := &mockDiscoverer{}
	disc.discoverFunc = func(call int) ([]domain.Channel, error) {
		if call == 2 {
			// Run 2 is in flight when the stop arrives. It must finish
			// and its results must count.
			c.StopLoop(context.Background())
			return testChannels("ch-4"), nil
		}
		return testChannels("ch-1", "ch-2", "ch-3"), nil
	}
	store := &mockChannelStore{}
	c = discovery.NewController(disc, store, &mockPublisher{}, logger.NewNoOp(),
		discovery.WithRunInterval(loopTestInterval))

	_, err := c.StartLoop(context.Background(), domain.DiscoverySettings{
		Keywords:     []string{"cooking"},
		RunUntilStop: true,
	})
	require.NoError(t, err)

	snapshot := waitForIdle(t, c)

	assert.Equal(t, 2, snapshot.Runs)
	assert.Equal(t, 4, snapshot.Discovered)
	assert.Equal(t, domain.LoopReasonStopped, snapshot.LastReason)
	assert.Equal(t, 2, disc.callCount())
}

func TestControllerStartWhileRunning(t *testing.T) {
	release := make(chan struct{})
	disc := &mockDiscoverer{discoverFunc: func(int) ([]domain.Channel, error) {
		<-release
		return nil, nil
	}}
	c := discovery.NewController(disc, &mockChannelStore{}, &mockPublisher{}, logger.NewNoOp())

	_, err := c.StartLoop(context.Background(), domain.DiscoverySettings{Keywords: []string{"cooking"}})
	require.NoError(t, err)

	_, err = c.StartLoop(context.Background(), domain.DiscoverySettings{Keywords: []string{"gardening"}})
	require.ErrorIs(t, err, discovery.ErrLoopAlreadyRunning)

	close(release)
	waitForIdle(t, c)
}

func TestControllerDiscovererError(t *testing.T) {
	disc := &mockDiscoverer{discoverFunc: func(call int) ([]domain.Channel, error) {
		if call == 1 {
			return testChannels("ch-1", "ch-2"), nil
		}
		return nil, errors.New("backend unreachable")
	}}
	c := discovery.NewController(disc, &mockChannelStore{}, &mockPublisher{}, logger.NewNoOp(),
		discovery.WithRunInterval(loopTestInterval))

	_, err := c.StartLoop(context.Background(), domain.DiscoverySettings{
		Keywords:     []string{"cooking"},
		RunUntilStop: true,
	})
	require.NoError(t, err)

	snapshot := waitForIdle(t, c)

	// Partial progress from run 1 survives the failed run 2.
	assert.Equal(t, 1, snapshot.Runs)
	assert.Equal(t, 2, snapshot.Discovered)
	assert.Equal(t, domain.LoopReasonError, snapshot.LastReason)
	assert.Contains(t, snapshot.LastError, "backend unreachable")
}

func TestControllerStopWhenIdle(t *testing.T) {
	c := discovery.NewController(&mockDiscoverer{}, &mockChannelStore{}, &mockPublisher{}, logger.NewNoOp())

	snapshot := c.StopLoop(context.Background())

	assert.False(t, snapshot.Running)
	assert.False(t, snapshot.StopRequested)
}

func TestControllerAutoEnrich(t *testing.T) {
	disc := &mockDiscoverer{discoverFunc: func(int) ([]domain.Channel, error) {
		return testChannels("ch-1"), nil
	}}
	enricher := &mockEnrichRequester{}
	c := discovery.NewController(disc, &mockChannelStore{}, &mockPublisher{}, logger.NewNoOp(),
		discovery.WithEnrichRequester(enricher))

	_, err := c.StartLoop(context.Background(), domain.DiscoverySettings{
		Keywords:       []string{"cooking"},
		AutoEnrich:     true,
		AutoEnrichMode: domain.ModeEmailOnly,
		EnrichLimit:    25,
	})
	require.NoError(t, err)

	waitForIdle(t, c)
	require.Eventually(t, func() bool {
		return enricher.requestCount() == 1
	}, loopTestWait, loopTestTick)

	enricher.mu.Lock()
	defer enricher.mu.Unlock()
	assert.Equal(t, []string{"ch-1"}, enricher.requests[0].ChannelIDs)
	assert.Equal(t, domain.ModeEmailOnly, enricher.requests[0].Mode)
	assert.Equal(t, 25, enricher.requests[0].Limit)
}

func TestControllerNilPublisher(t *testing.T) {
	disc := &mockDiscoverer{discoverFunc: func(int) ([]domain.Channel, error) {
		return testChannels("ch-1"), nil
	}}
	c := discovery.NewController(disc, &mockChannelStore{}, nil, logger.NewNoOp(),
		discovery.WithRunInterval(loopTestInterval))

	result, err := c.RunOnce(context.Background(), domain.DiscoverySettings{Keywords: []string{"cooking"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FoundCount)

	_, err = c.StartLoop(context.Background(), domain.DiscoverySettings{Keywords: []string{"cooking"}})
	require.NoError(t, err)

	snapshot := waitForIdle(t, c)
	assert.Equal(t, domain.LoopReasonCompleted, snapshot.LastReason)
}

func TestControllerRunOnce(t *testing.T) {
	disc := &mockDiscoverer{discoverFunc: func(int) ([]domain.Channel, error) {
		return testChannels("ch-1", "ch-2"), nil
	}}
	store := &mockChannelStore{blacklisted: 1}
	c := discovery.NewController(disc, store, &mockPublisher{}, logger.NewNoOp())

	result, err := c.RunOnce(context.Background(), domain.DiscoverySettings{Keywords: []string{"cooking"}})
	require.NoError(t, err)

	assert.Equal(t, 2, result.FoundCount)
	assert.Equal(t, 1, result.BlacklistedCount)
	assert.Equal(t, []string{"ch-1", "ch-2"}, result.NewChannelIDs)
	assert.False(t, c.Snapshot().Running)
}
