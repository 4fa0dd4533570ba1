// Package trakt resolves catalog items and season schedules from the Trakt
// API.
package trakt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/config"
)

var (
	ErrAPIKeyMissing = errors.New("trakt API key is not configured")
	ErrNotFound      = errors.New("trakt: not found")
	ErrAPIError      = errors.New("trakt API error")
)

const apiVersion = "2"

// Item is a resolved movie or show.
type Item struct {
	Title   string `json:"title"`
	Year    int    `json:"year"`
	TraktID int64  `json:"-"`
	IMDBID  string `json:"-"`
}

// SeasonSchedule is the airing state of one season.
type SeasonSchedule struct {
	EpisodeCount  int `json:"episode_count"`
	AiredEpisodes int `json:"aired_episodes"`
}

// Client is a Trakt API client. It self-throttles to the configured call
// budget per window rather than waiting for 429 responses.
type Client struct {
	httpClient *http.Client
	config     config.TraktConfig
	logger     zerolog.Logger

	mu          sync.Mutex
	windowStart time.Time
	windowCalls int
}

// NewClient creates a new Trakt client.
func NewClient(cfg config.TraktConfig, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		config: cfg,
		logger: logger.With().Str("component", "trakt").Logger(),
	}
}

// IsConfigured returns true if the API key is set.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// ResolveMovie looks a movie up by its TMDB id.
func (c *Client) ResolveMovie(ctx context.Context, tmdbID int64) (Item, error) {
	return c.resolveByTMDB(ctx, tmdbID, "movie")
}

// ResolveShow looks a show up by its TMDB id.
func (c *Client) ResolveShow(ctx context.Context, tmdbID int64) (Item, error) {
	return c.resolveByTMDB(ctx, tmdbID, "show")
}

func (c *Client) resolveByTMDB(ctx context.Context, tmdbID int64, kind string) (Item, error) {
	if !c.IsConfigured() {
		return Item{}, ErrAPIKeyMissing
	}

	endpoint := fmt.Sprintf("%s/search/tmdb/%d", c.config.BaseURL, tmdbID)
	params := url.Values{}
	params.Set("type", kind)

	var results []struct {
		Movie *searchHit `json:"movie"`
		Show  *searchHit `json:"show"`
	}
	if err := c.doRequest(ctx, endpoint, params, &results); err != nil {
		return Item{}, err
	}
	if len(results) == 0 {
		return Item{}, fmt.Errorf("%w: tmdb id %d", ErrNotFound, tmdbID)
	}

	hit := results[0].Movie
	if kind == "show" {
		hit = results[0].Show
	}
	if hit == nil {
		return Item{}, fmt.Errorf("%w: tmdb id %d has no %s payload", ErrNotFound, tmdbID, kind)
	}
	return Item{
		Title:   hit.Title,
		Year:    hit.Year,
		TraktID: hit.IDs.Trakt,
		IMDBID:  hit.IDs.IMDB,
	}, nil
}

type searchHit struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   struct {
		Trakt int64  `json:"trakt"`
		IMDB  string `json:"imdb"`
	} `json:"ids"`
}

// SeasonSchedule fetches the current episode counts for one season.
func (c *Client) SeasonSchedule(ctx context.Context, showID int64, season int) (SeasonSchedule, error) {
	if !c.IsConfigured() {
		return SeasonSchedule{}, ErrAPIKeyMissing
	}

	endpoint := fmt.Sprintf("%s/shows/%d/seasons/%d/info", c.config.BaseURL, showID, season)
	params := url.Values{}
	params.Set("extended", "full")

	var schedule SeasonSchedule
	if err := c.doRequest(ctx, endpoint, params, &schedule); err != nil {
		return SeasonSchedule{}, err
	}
	return schedule, nil
}

// HasEpisodeAired reports whether an episode exists and has a first-aired
// time in the past. An unknown episode (404) is simply not aired yet.
func (c *Client) HasEpisodeAired(ctx context.Context, showID int64, season, episode int) (bool, error) {
	if !c.IsConfigured() {
		return false, ErrAPIKeyMissing
	}

	endpoint := fmt.Sprintf("%s/shows/%d/seasons/%d/episodes/%d", c.config.BaseURL, showID, season, episode)
	params := url.Values{}
	params.Set("extended", "full")

	var ep struct {
		FirstAired *time.Time `json:"first_aired"`
	}
	err := c.doRequest(ctx, endpoint, params, &ep)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ep.FirstAired != nil && ep.FirstAired.Before(time.Now()), nil
}

// throttle blocks until the current rate window has budget for one more
// call. The budget is generous (hundreds of calls per window); hitting the
// ceiling means sleeping out the remainder of the window.
func (c *Client) throttle(ctx context.Context) error {
	limit := c.config.RateLimit
	if limit <= 0 {
		return nil
	}
	window := time.Duration(c.config.RateWindowMinutes) * time.Minute
	if window <= 0 {
		window = 5 * time.Minute
	}

	c.mu.Lock()
	now := time.Now()
	if c.windowStart.IsZero() || now.Sub(c.windowStart) >= window {
		c.windowStart = now
		c.windowCalls = 0
	}
	if c.windowCalls < limit {
		c.windowCalls++
		c.mu.Unlock()
		return nil
	}
	wait := window - now.Sub(c.windowStart)
	c.mu.Unlock()

	c.logger.Warn().Dur("wait", wait).Msg("Trakt call budget spent, throttling")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	c.mu.Lock()
	c.windowStart = time.Now()
	c.windowCalls = 1
	c.mu.Unlock()
	return nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	reqURL := endpoint
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", endpoint, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", apiVersion)
	req.Header.Set("trakt-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", endpoint).Msg("HTTP request failed")
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: invalid API key", ErrAPIError)
		default:
			return fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
