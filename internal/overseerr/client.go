// Package overseerr talks to the Overseerr/Jellyseerr request catalog.
package overseerr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/config"
)

var (
	ErrNotConfigured = errors.New("overseerr base URL or API key is not configured")
	ErrAPIError      = errors.New("overseerr API error")
	// ErrCompletionMismatch means the server acknowledged a completion for a
	// different title than the one submitted.
	ErrCompletionMismatch = errors.New("overseerr: completion response names a different item")
)

// Request is one entry of the request catalog.
type Request struct {
	ID      int64    `json:"id"`
	Status  int      `json:"status"`
	Media   Media    `json:"media"`
	Seasons []Season `json:"seasons"`
}

// Media is the requested item's media record.
type Media struct {
	ID        int64  `json:"id"`
	MediaType string `json:"mediaType"`
	TMDBID    int64  `json:"tmdbId"`
	TVDBID    int64  `json:"tvdbId"`
	Status    int    `json:"status"`
}

// Season is one requested season.
type Season struct {
	SeasonNumber int `json:"seasonNumber"`
}

// Request and media status values, as the catalog reports them.
const (
	RequestStatusApproved = 2
	MediaStatusProcessing = 3
)

// Client is an Overseerr API client.
type Client struct {
	httpClient *http.Client
	config     config.OverseerrConfig
	logger     zerolog.Logger
}

// NewClient creates a new Overseerr client.
func NewClient(cfg config.OverseerrConfig, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		config: cfg,
		logger: logger.With().Str("component", "overseerr").Logger(),
	}
}

// IsConfigured returns true if the connection settings are present.
func (c *Client) IsConfigured() bool {
	return c.config.BaseURL != "" && c.config.APIKey != ""
}

// FetchProcessingRequests returns the approved requests whose media is still
// processing, which is the set the bridge is responsible for reconciling.
func (c *Client) FetchProcessingRequests(ctx context.Context) ([]Request, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/api/v1/request?take=500&filter=approved", c.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	var payload struct {
		Results []Request `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var processing []Request
	for _, r := range payload.Results {
		if r.Status == RequestStatusApproved && r.Media.Status == MediaStatusProcessing {
			processing = append(processing, r)
		}
	}

	c.logger.Debug().
		Int("total", len(payload.Results)).
		Int("processing", len(processing)).
		Msg("Fetched request catalog")
	return processing, nil
}

// MarkCompleted reports a media item as available. The response echoes the
// media record; a mismatched tmdbId means the wrong item was updated and is
// surfaced as an error.
func (c *Client) MarkCompleted(ctx context.Context, mediaID, tmdbID int64) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/api/v1/media/%d/available", c.config.BaseURL, mediaID)
	body, err := json.Marshal(map[string]bool{"is4k": false})
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d marking media %d completed", ErrAPIError, resp.StatusCode, mediaID)
	}

	var echoed Media
	if err := json.NewDecoder(resp.Body).Decode(&echoed); err != nil {
		return fmt.Errorf("failed to decode completion response: %w", err)
	}
	if echoed.TMDBID != tmdbID {
		return fmt.Errorf("%w: sent tmdb %d, got %d", ErrCompletionMismatch, tmdbID, echoed.TMDBID)
	}

	c.logger.Info().Int64("media_id", mediaID).Int64("tmdb_id", tmdbID).Msg("Marked request completed")
	return nil
}

// MediaFromRequest resolves the media record behind a request id. The
// discrepancy ledger stores request ids only; completion needs the media id.
func (c *Client) MediaFromRequest(ctx context.Context, requestID int64) (Media, error) {
	if !c.IsConfigured() {
		return Media{}, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/api/v1/request/%d", c.config.BaseURL, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Media{}, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Media{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Media{}, fmt.Errorf("%w: status %d fetching request %d", ErrAPIError, resp.StatusCode, requestID)
	}

	var payload Request
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Media{}, fmt.Errorf("failed to decode request: %w", err)
	}
	return payload.Media, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.config.APIKey)
}
