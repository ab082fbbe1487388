// Package dashboard provides the client-side synchronization layer: an HTTP
// client for the harvester API, an SSE stream reader for per-job progress,
// and a session that reconciles streamed and polled state into a local view.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonesrussell/harvester/internal/database"
	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/enrich"
	"github.com/jonesrussell/harvester/internal/stats"
)

const (
	// DefaultBaseURL is the default base URL for the harvester API.
	DefaultBaseURL = "http://localhost:8060/api/v1"
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second
)

// Client is an HTTP client for the harvester API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no timeout; SSE connections stay open indefinitely.
	streamClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API client.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client for request/response calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the timeout for API requests.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a harvester API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		streamClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetStats retrieves the current dashboard stats.
func (c *Client) GetStats(ctx context.Context) (*stats.Stats, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "stats")
	if err != nil {
		return nil, err
	}

	var result stats.Stats
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to get stats: %w", doErr)
	}
	return &result, nil
}

// StartEnrichment starts an enrichment job. A result with an empty JobID
// means nothing was eligible; the server treats that as a no-op success.
func (c *Client) StartEnrichment(ctx context.Context, request enrich.StartRequest) (*enrich.StartResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, request, "enrich")
	if err != nil {
		return nil, err
	}

	var result enrich.StartResult
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to start enrichment: %w", doErr)
	}
	return &result, nil
}

// GetJob retrieves the current summary for one enrichment job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.JobSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "enrich", "jobs", jobID)
	if err != nil {
		return nil, err
	}

	var result domain.JobSummary
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to get job: %w", doErr)
	}
	return &result, nil
}

// StreamJob opens the per-job SSE stream. The caller owns the returned
// stream and must Close it.
func (c *Client) StreamJob(ctx context.Context, jobID string) (*Stream, error) {
	streamURL, err := url.JoinPath(c.baseURL, "enrich", "jobs", jobID, "events")
	if err != nil {
		return nil, fmt.Errorf("failed to construct URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open job stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("job stream error (status %d): %s", resp.StatusCode, string(body))
	}

	return newStream(resp.Body), nil
}

// LoopStatus retrieves the current discovery loop snapshot.
func (c *Client) LoopStatus(ctx context.Context) (*domain.LoopSnapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "discovery", "loop")
	if err != nil {
		return nil, err
	}

	var result domain.LoopSnapshot
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to get loop status: %w", doErr)
	}
	return &result, nil
}

// StartLoop starts the discovery loop with the given settings. Passing the
// zero value uses the server's persisted settings.
func (c *Client) StartLoop(ctx context.Context, settings domain.DiscoverySettings) (*domain.LoopSnapshot, error) {
	var body any
	if len(settings.Keywords) > 0 {
		body = settings
	}

	req, err := c.newRequest(ctx, http.MethodPost, body, "discovery", "loop", "start")
	if err != nil {
		return nil, err
	}

	var result domain.LoopSnapshot
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to start loop: %w", doErr)
	}
	return &result, nil
}

// StopLoop requests a loop stop. The current run completes before the loop
// exits; the returned snapshot reflects the stop request, not the exit.
func (c *Client) StopLoop(ctx context.Context) (*domain.LoopSnapshot, error) {
	req, err := c.newRequest(ctx, http.MethodPost, nil, "discovery", "loop", "stop")
	if err != nil {
		return nil, err
	}

	var result domain.LoopSnapshot
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to stop loop: %w", doErr)
	}
	return &result, nil
}

// RunDiscovery performs a single discovery run outside the loop.
func (c *Client) RunDiscovery(ctx context.Context, settings domain.DiscoverySettings) (*domain.DiscoveryResult, error) {
	var body any
	if len(settings.Keywords) > 0 {
		body = settings
	}

	req, err := c.newRequest(ctx, http.MethodPost, body, "discovery", "run")
	if err != nil {
		return nil, err
	}

	var result domain.DiscoveryResult
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to run discovery: %w", doErr)
	}
	return &result, nil
}

// GetSettings retrieves the persisted discovery settings.
func (c *Client) GetSettings(ctx context.Context) (*domain.DiscoverySettings, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "discovery", "settings")
	if err != nil {
		return nil, err
	}

	var result domain.DiscoverySettings
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to get settings: %w", doErr)
	}
	return &result, nil
}

// UpdateSettings saves new discovery settings. The server refuses while the
// loop is running.
func (c *Client) UpdateSettings(ctx context.Context, settings domain.DiscoverySettings) (*domain.DiscoverySettings, error) {
	req, err := c.newRequest(ctx, http.MethodPut, settings, "discovery", "settings")
	if err != nil {
		return nil, err
	}

	var result domain.DiscoverySettings
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to update settings: %w", doErr)
	}
	return &result, nil
}

// ChannelList is one page of channels.
type ChannelList struct {
	Channels []*domain.Channel `json:"channels"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ListChannels retrieves a channel page.
func (c *Client) ListChannels(ctx context.Context, params database.ListChannelsParams) (*ChannelList, error) {
	listURL, err := url.JoinPath(c.baseURL, "channels")
	if err != nil {
		return nil, fmt.Errorf("failed to construct URL: %w", err)
	}

	query := url.Values{}
	if params.Search != "" {
		query.Set("search", params.Search)
	}
	if params.Category != "" {
		query.Set("category", string(params.Category))
	}
	if params.Sort != "" {
		query.Set("sort", params.Sort)
	}
	if params.Order != "" {
		query.Set("order", params.Order)
	}
	if params.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", params.Limit))
	}
	if params.Offset > 0 {
		query.Set("offset", fmt.Sprintf("%d", params.Offset))
	}
	if encoded := query.Encode(); encoded != "" {
		listURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result ChannelList
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to list channels: %w", doErr)
	}
	return &result, nil
}

// MoveResult reports a bulk category move.
type MoveResult struct {
	Affected   int      `json:"affected"`
	ChannelIDs []string `json:"channel_ids"`
}

// ArchiveChannels moves channels to the archived category.
func (c *Client) ArchiveChannels(ctx context.Context, channelIDs []string) (*MoveResult, error) {
	return c.moveChannels(ctx, "archive", channelIDs)
}

// BlacklistChannels moves channels to the blacklisted category.
func (c *Client) BlacklistChannels(ctx context.Context, channelIDs []string) (*MoveResult, error) {
	return c.moveChannels(ctx, "blacklist", channelIDs)
}

// RestoreChannels moves channels back to the active category.
func (c *Client) RestoreChannels(ctx context.Context, channelIDs []string) (*MoveResult, error) {
	return c.moveChannels(ctx, "restore", channelIDs)
}

func (c *Client) moveChannels(ctx context.Context, action string, channelIDs []string) (*MoveResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost,
		map[string][]string{"channel_ids": channelIDs}, "channels", action)
	if err != nil {
		return nil, err
	}

	var result MoveResult
	if doErr := c.doRequest(req, &result); doErr != nil {
		return nil, fmt.Errorf("failed to %s channels: %w", action, doErr)
	}
	return &result, nil
}

// newRequest builds a JSON API request for the given path segments.
func (c *Client) newRequest(ctx context.Context, method string, payload any, segments ...string) (*http.Request, error) {
	requestURL, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return nil, fmt.Errorf("failed to construct URL: %w", err)
	}

	var reader io.Reader = http.NoBody
	if payload != nil {
		body, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", marshalErr)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// errorResponse is the API error payload.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest executes an HTTP request and decodes the response.
func (c *Client) doRequest(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Op == "dial" {
			return fmt.Errorf("failed to connect to harvester at %s: %w", c.baseURL, err)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("failed to read response body: %w", readErr)
	}

	const minErrorStatusCode = 400
	if resp.StatusCode >= minErrorStatusCode {
		var errResp errorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && (errResp.Error != "" || errResp.Message != "") {
			message := errResp.Error
			if message == "" {
				message = errResp.Message
			}
			return fmt.Errorf("harvester error (status %d): %s", resp.StatusCode, message)
		}
		return fmt.Errorf("harvester error (status %d): %s", resp.StatusCode, string(body))
	}

	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	if unmarshalErr := json.Unmarshal(body, result); unmarshalErr != nil {
		return fmt.Errorf("failed to decode response: %w", unmarshalErr)
	}

	return nil
}
