package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/harvester/internal/api"
	"github.com/jonesrussell/harvester/internal/database"
	"github.com/jonesrussell/harvester/internal/discovery"
	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/enrich"
	"github.com/jonesrussell/harvester/internal/jobs"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/sse"
	"github.com/jonesrussell/harvester/internal/stats"
)

// --- Mock implementations ---

// mockEnrichStarter implements api.EnrichStarter for testing.
type mockEnrichStarter struct {
	result *enrich.StartResult
	err    error
}

func (m *mockEnrichStarter) Start(_ context.Context, _ enrich.StartRequest) (*enrich.StartResult, error) {
	return m.result, m.err
}

// mockJobStreams implements api.JobStreams for testing.
type mockJobStreams struct {
	summaries []domain.JobSummary
}

func (m *mockJobStreams) Subscribe(jobID string) (<-chan sse.Event, func(), error) {
	for _, s := range m.summaries {
		if s.JobID == jobID {
			ch := make(chan sse.Event, 1)
			ch <- sse.Event{Type: sse.EventTypeProgress, Data: s}
			close(ch)
			return ch, func() {}, nil
		}
	}
	return nil, nil, jobs.ErrJobNotFound
}

func (m *mockJobStreams) Summary(jobID string) (domain.JobSummary, error) {
	for _, s := range m.summaries {
		if s.JobID == jobID {
			return s, nil
		}
	}
	return domain.JobSummary{}, jobs.ErrJobNotFound
}

func (m *mockJobStreams) Summaries() []domain.JobSummary {
	return m.summaries
}

// mockLoopController implements api.LoopController for testing.
type mockLoopController struct {
	snapshot  domain.LoopSnapshot
	startErr  error
	runResult *domain.DiscoveryResult
	runErr    error
}

func (m *mockLoopController) StartLoop(_ context.Context, _ domain.DiscoverySettings) (domain.LoopSnapshot, error) {
	return m.snapshot, m.startErr
}

func (m *mockLoopController) StopLoop(_ context.Context) domain.LoopSnapshot {
	return m.snapshot
}

func (m *mockLoopController) Snapshot() domain.LoopSnapshot {
	return m.snapshot
}

func (m *mockLoopController) RunOnce(_ context.Context, _ domain.DiscoverySettings) (*domain.DiscoveryResult, error) {
	return m.runResult, m.runErr
}

// mockSettingsStore implements api.SettingsStore for testing.
type mockSettingsStore struct {
	settings domain.DiscoverySettings
	saved    *domain.DiscoverySettings
}

func (m *mockSettingsStore) Load() (domain.DiscoverySettings, error) {
	if m.saved != nil {
		return *m.saved, nil
	}
	return m.settings, nil
}

func (m *mockSettingsStore) Save(settings domain.DiscoverySettings) error {
	m.saved = &settings
	return nil
}

// mockStatsProvider implements api.StatsProvider for testing.
type mockStatsProvider struct {
	stats *stats.Stats
	err   error
}

func (m *mockStatsProvider) GetStats(_ context.Context) (*stats.Stats, error) {
	return m.stats, m.err
}

// mockImporter implements api.Importer for testing.
type mockImporter struct {
	result *domain.ImportResult
}

func (m *mockImporter) Import(_ context.Context, _ io.Reader) (*domain.ImportResult, error) {
	return m.result, nil
}

// mockChannelRepo implements database.ChannelRepositoryInterface for testing.
type mockChannelRepo struct {
	channels []*domain.Channel
	moved    []string
	moveErr  error
}

func (m *mockChannelRepo) List(_ context.Context, _ database.ListChannelsParams) ([]*domain.Channel, int, error) {
	return m.channels, len(m.channels), nil
}

func (m *mockChannelRepo) GetByID(_ context.Context, channelID string) (*domain.Channel, error) {
	for _, ch := range m.channels {
		if ch.ChannelID == channelID {
			return ch, nil
		}
	}
	return nil, database.ErrChannelNotFound
}

func (m *mockChannelRepo) MoveCategory(_ context.Context, channelIDs []string, _ domain.Category) ([]string, error) {
	if m.moveErr != nil {
		return nil, m.moveErr
	}
	m.moved = channelIDs
	return channelIDs, nil
}

func (m *mockChannelRepo) UpsertDiscovered(_ context.Context, _ []domain.Channel) ([]string, int, error) {
	return nil, 0, nil
}

func (m *mockChannelRepo) SelectCandidates(_ context.Context, _ domain.Mode, _ int) ([]*domain.Channel, error) {
	return nil, nil
}

func (m *mockChannelRepo) Claim(_ context.Context, _ []string) ([]string, error) {
	return nil, nil
}

func (m *mockChannelRepo) MarkEnriched(_ context.Context, _ string, _ domain.EnrichmentFields, _ string, _ time.Time) error {
	return nil
}

func (m *mockChannelRepo) MarkEnrichFailed(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

func (m *mockChannelRepo) UpdateEmailFields(_ context.Context, _ string, _ []string, _ *bool, _ string, _ time.Time) error {
	return nil
}

func (m *mockChannelRepo) ResetProcessing(_ context.Context, _ []string, _ string) (int, error) {
	return 0, nil
}

func (m *mockChannelRepo) CategoryTotals(_ context.Context) (map[domain.Category]int, error) {
	return nil, nil
}

func (m *mockChannelRepo) StatusTotals(_ context.Context) (map[domain.Status]int, error) {
	return nil, nil
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEnrichHandlerStartJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	starter := &mockEnrichStarter{result: &enrich.StartResult{
		JobID:     "job-123",
		Total:     5,
		Requested: 50,
		Skipped:   1,
	}}
	handler := api.NewEnrichHandler(starter, &mockJobStreams{}, logger.NewNoOp())
	router.POST("/api/v1/enrich", handler.StartJob)

	w := postJSON(router, "/api/v1/enrich", `{"mode":"full","limit":50}`)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var result enrich.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "job-123", result.JobID)
	assert.Equal(t, 5, result.Total)
}

func TestEnrichHandlerStartJobNoTargets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	starter := &mockEnrichStarter{result: &enrich.StartResult{Requested: 500}}
	handler := api.NewEnrichHandler(starter, &mockJobStreams{}, logger.NewNoOp())
	router.POST("/api/v1/enrich", handler.StartJob)

	w := postJSON(router, "/api/v1/enrich", `{"mode":"full"}`)

	// Nothing eligible is a success, not an error.
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "no channels eligible")
}

func TestEnrichHandlerStartJobInvalidMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	starter := &mockEnrichStarter{err: enrich.ErrInvalidMode}
	handler := api.NewEnrichHandler(starter, &mockJobStreams{}, logger.NewNoOp())
	router.POST("/api/v1/enrich", handler.StartJob)

	w := postJSON(router, "/api/v1/enrich", `{"mode":"bogus"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrichHandlerJobEventsNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := api.NewEnrichHandler(&mockEnrichStarter{}, &mockJobStreams{}, logger.NewNoOp())
	router.GET("/api/v1/enrich/jobs/:id/events", handler.JobEvents)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrich/jobs/nope/events", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrichHandlerJobEventsStreamsSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	streams := &mockJobStreams{summaries: []domain.JobSummary{
		{JobID: "job-123", Total: 3, Completed: 3, Done: true},
	}}
	handler := api.NewEnrichHandler(&mockEnrichStarter{}, streams, logger.NewNoOp())
	router.GET("/api/v1/enrich/jobs/:id/events", handler.JobEvents)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrich/jobs/job-123/events", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event: progress")
	assert.Contains(t, w.Body.String(), `"done":true`)
}

func TestDiscoveryHandlerRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	controller := &mockLoopController{runResult: &domain.DiscoveryResult{FoundCount: 3}}
	store := &mockSettingsStore{settings: domain.DiscoverySettings{Keywords: []string{"cooking"}}}
	handler := api.NewDiscoveryHandler(controller, store, logger.NewNoOp())
	router.POST("/api/v1/discovery/run", handler.Run)

	w := postJSON(router, "/api/v1/discovery/run", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"found":3`)
}

func TestDiscoveryHandlerRunWithoutKeywords(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := api.NewDiscoveryHandler(&mockLoopController{}, &mockSettingsStore{}, logger.NewNoOp())
	router.POST("/api/v1/discovery/run", handler.Run)

	w := postJSON(router, "/api/v1/discovery/run", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiscoveryHandlerStartLoopConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	controller := &mockLoopController{
		snapshot: domain.LoopSnapshot{Running: true},
		startErr: discovery.ErrLoopAlreadyRunning,
	}
	store := &mockSettingsStore{settings: domain.DiscoverySettings{Keywords: []string{"cooking"}}}
	handler := api.NewDiscoveryHandler(controller, store, logger.NewNoOp())
	router.POST("/api/v1/discovery/loop/start", handler.StartLoop)

	w := postJSON(router, "/api/v1/discovery/loop/start", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already running")
}

func TestDiscoveryHandlerSettingsFrozenWhileRunning(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	controller := &mockLoopController{snapshot: domain.LoopSnapshot{Running: true}}
	handler := api.NewDiscoveryHandler(controller, &mockSettingsStore{}, logger.NewNoOp())
	router.PUT("/api/v1/discovery/settings", handler.UpdateSettings)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/discovery/settings",
		bytes.NewBufferString(`{"keywords":["cooking"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDiscoveryHandlerUpdateSettings(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	store := &mockSettingsStore{}
	handler := api.NewDiscoveryHandler(&mockLoopController{}, store, logger.NewNoOp())
	router.PUT("/api/v1/discovery/settings", handler.UpdateSettings)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/discovery/settings",
		bytes.NewBufferString(`{"keywords":["cooking"],"per_keyword":10}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, store.saved)
	assert.Equal(t, []string{"cooking"}, store.saved.Keywords)
}

func TestStatsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	provider := &mockStatsProvider{stats: &stats.Stats{
		UniqueEmailCount: 12,
		DiscoveryLoop:    domain.LoopSnapshot{Version: 4},
	}}
	handler := api.NewStatsHandler(provider, logger.NewNoOp())
	router.GET("/api/v1/stats", handler.GetStats)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unique_email_count":12`)
	assert.Contains(t, w.Body.String(), `"version":4`)
}

func TestStatsHandlerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := api.NewStatsHandler(&mockStatsProvider{err: errors.New("db down")}, logger.NewNoOp())
	router.GET("/api/v1/stats", handler.GetStats)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestChannelsHandlerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	repo := &mockChannelRepo{channels: []*domain.Channel{
		{ChannelID: "UCabc", Title: "Cooking With Pat", Category: domain.CategoryActive},
	}}
	handler := api.NewChannelsHandler(repo, &mockImporter{}, logger.NewNoOp())
	router.GET("/api/v1/channels", handler.List)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels?category=active&limit=10", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Cooking With Pat")
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestChannelsHandlerListInvalidCategory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := api.NewChannelsHandler(&mockChannelRepo{}, &mockImporter{}, logger.NewNoOp())
	router.GET("/api/v1/channels", handler.List)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels?category=bogus", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChannelsHandlerArchive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	repo := &mockChannelRepo{}
	handler := api.NewChannelsHandler(repo, &mockImporter{}, logger.NewNoOp())
	router.POST("/api/v1/channels/archive", handler.Archive)

	w := postJSON(router, "/api/v1/channels/archive", `{"channel_ids":["UCabc","UCdef"]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"affected":2`)
	assert.Equal(t, []string{"UCabc", "UCdef"}, repo.moved)
}

func TestChannelsHandlerArchiveRequiresIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := api.NewChannelsHandler(&mockChannelRepo{}, &mockImporter{}, logger.NewNoOp())
	router.POST("/api/v1/channels/archive", handler.Archive)

	w := postJSON(router, "/api/v1/channels/archive", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChannelsHandlerImportRelaysResult(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	importer := &mockImporter{result: &domain.ImportResult{
		Created: 2,
		Updated: 1,
		Unresolved: []domain.ImportRowIssue{
			{Row: 4, Column: "column 1", Input: "garbage", Reason: "no channel id or channel URL found"},
		},
	}}
	handler := api.NewChannelsHandler(&mockChannelRepo{}, importer, logger.NewNoOp())
	router.POST("/api/v1/blacklist/import", handler.ImportBlacklist)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/blacklist/import",
		strings.NewReader("channel_id\nUCabc"))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"created":2`)
	assert.Contains(t, w.Body.String(), `"garbage"`)
}
