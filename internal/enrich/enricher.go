// Package enrich coordinates asynchronous enrichment jobs over channels.
package enrich

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

	"github.com/jonesrussell/harvester/internal/domain"
)

const (
	// DefaultBaseURL is the default base URL for the enrichment backend.
	DefaultBaseURL = "http://localhost:8091/api/v1"
	// DefaultTimeout bounds a single channel enrichment. The backend visits
	// channel pages, so this is generous.
	DefaultTimeout = 90 * time.Second
)

// Enricher produces enrichment fields for one channel. Implementations must
// always resolve; per-channel timeout policy lives behind this boundary.
type Enricher interface {
	Enrich(ctx context.Context, channel domain.Channel, mode domain.Mode) (*domain.EnrichmentFields, error)
}

// HTTPEnricher calls an external enrichment backend over HTTP.
type HTTPEnricher struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a function that configures an HTTPEnricher.
type Option func(*HTTPEnricher)

// WithBaseURL sets the base URL for the enrichment backend.
func WithBaseURL(baseURL string) Option {
	return func(e *HTTPEnricher) {
		e.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(e *HTTPEnricher) {
		e.httpClient = httpClient
	}
}

// WithTimeout sets the timeout for enrichment requests.
func WithTimeout(timeout time.Duration) Option {
	return func(e *HTTPEnricher) {
		e.httpClient.Timeout = timeout
	}
}

// NewHTTPEnricher creates an enrichment backend client.
func NewHTTPEnricher(opts ...Option) *HTTPEnricher {
	e := &HTTPEnricher{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// enrichRequest is the enrichment backend request payload.
type enrichRequest struct {
	ChannelID string `json:"channel_id"`
	URL       string `json:"url"`
	Mode      string `json:"mode"`
}

// errorResponse is the enrichment backend error payload.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Enrich runs one channel through the enrichment backend.
func (e *HTTPEnricher) Enrich(ctx context.Context, channel domain.Channel, mode domain.Mode) (*domain.EnrichmentFields, error) {
	enrichURL, err := url.JoinPath(e.baseURL, "enrich")
	if err != nil {
		return nil, fmt.Errorf("failed to construct URL: %w", err)
	}

	body, err := json.Marshal(enrichRequest{
		ChannelID: channel.ChannelID,
		URL:       domain.ChannelURL(channel.ChannelID, channel.URL),
		Mode:      string(mode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, enrichURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var fields domain.EnrichmentFields
	if doErr := e.doRequest(req, &fields); doErr != nil {
		return nil, fmt.Errorf("failed to enrich channel %s: %w", channel.ChannelID, doErr)
	}

	return &fields, nil
}

// doRequest executes an HTTP request and decodes the response.
func (e *HTTPEnricher) doRequest(req *http.Request, result any) error {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Op == "dial" {
			return fmt.Errorf("failed to connect to enrichment backend at %s: %w", e.baseURL, err)
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
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
			return fmt.Errorf("enrichment backend error (status %d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
		}
		return fmt.Errorf("enrichment backend error (status %d): %s", resp.StatusCode, string(body))
	}

	if unmarshalErr := json.Unmarshal(body, result); unmarshalErr != nil {
		return fmt.Errorf("failed to decode response: %w", unmarshalErr)
	}

	return nil
}
