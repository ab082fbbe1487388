package discovery

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
	// DefaultBaseURL is the default base URL for the search backend.
	DefaultBaseURL = "http://localhost:8090/api/v1"
	// DefaultTimeout is the default timeout for search requests. Keyword
	// sweeps can take a while upstream.
	DefaultTimeout = 120 * time.Second
)

// Discoverer finds candidate channels for a set of keywords.
type Discoverer interface {
	Discover(ctx context.Context, settings domain.DiscoverySettings) ([]domain.Channel, error)
}

// HTTPDiscoverer calls an external search backend over HTTP.
type HTTPDiscoverer struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a function that configures an HTTPDiscoverer.
type Option func(*HTTPDiscoverer)

// WithBaseURL sets the base URL for the search backend.
func WithBaseURL(baseURL string) Option {
	return func(d *HTTPDiscoverer) {
		d.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(d *HTTPDiscoverer) {
		d.httpClient = httpClient
	}
}

// WithTimeout sets the timeout for search requests.
func WithTimeout(timeout time.Duration) Option {
	return func(d *HTTPDiscoverer) {
		d.httpClient.Timeout = timeout
	}
}

// NewHTTPDiscoverer creates a search backend client.
func NewHTTPDiscoverer(opts ...Option) *HTTPDiscoverer {
	d := &HTTPDiscoverer{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// discoverRequest is the search backend request payload.
type discoverRequest struct {
	Keywords      []string `json:"keywords"`
	PerKeyword    int      `json:"per_keyword,omitempty"`
	MaxAgeDays    int      `json:"max_age_days,omitempty"`
	DenyLanguages []string `json:"deny_languages,omitempty"`
}

// discoverResponse is the search backend response payload.
type discoverResponse struct {
	Channels []domain.Channel `json:"channels"`
}

// errorResponse is the search backend error payload.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Discover runs one keyword sweep against the search backend and returns the
// raw hits. Persistence and blacklist filtering happen on our side.
func (d *HTTPDiscoverer) Discover(ctx context.Context, settings domain.DiscoverySettings) ([]domain.Channel, error) {
	if len(settings.Keywords) == 0 {
		return nil, errors.New("no keywords configured")
	}

	discoverURL, err := url.JoinPath(d.baseURL, "discover")
	if err != nil {
		return nil, fmt.Errorf("failed to construct URL: %w", err)
	}

	body, err := json.Marshal(discoverRequest{
		Keywords:      settings.Keywords,
		PerKeyword:    settings.PerKeyword,
		MaxAgeDays:    settings.MaxAgeDays,
		DenyLanguages: settings.DenyLanguages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, discoverURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var response discoverResponse
	if doErr := d.doRequest(req, &response); doErr != nil {
		return nil, fmt.Errorf("failed to discover channels: %w", doErr)
	}

	return response.Channels, nil
}

// doRequest executes an HTTP request and decodes the response.
func (d *HTTPDiscoverer) doRequest(req *http.Request, result any) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Op == "dial" {
			return fmt.Errorf("failed to connect to search backend at %s: %w", d.baseURL, err)
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
			return fmt.Errorf("search backend error (status %d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
		}
		return fmt.Errorf("search backend error (status %d): %s", resp.StatusCode, string(body))
	}

	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	if unmarshalErr := json.Unmarshal(body, result); unmarshalErr != nil {
		return fmt.Errorf("failed to decode response: %w", unmarshalErr)
	}

	return nil
}
