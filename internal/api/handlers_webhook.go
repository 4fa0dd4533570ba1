package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mjfcit/SeerrBridge/internal/bridge"
)

// webhookPayload is the notification body Overseerr/Jellyseerr posts.
type webhookPayload struct {
	NotificationType string `json:"notification_type"`
	Media            *struct {
		MediaType string `json:"media_type"`
		TMDBID    int64  `json:"tmdbId"`
		TVDBID    int64  `json:"tvdbId"`
	} `json:"media"`
	Request *struct {
		RequestID string `json:"request_id"`
	} `json:"request"`
	Extra []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"extra"`
}

// handleWebhook ingests one approval notification. Accepted requests are
// resolved and enqueued before the response goes out, so the caller learns
// about back-pressure (503) immediately.
func (s *Server) handleWebhook(c echo.Context) error {
	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}

	if payload.NotificationType == "TEST_NOTIFICATION" {
		s.logger.Info().Msg("Test notification received")
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	if payload.Media == nil || payload.Media.TMDBID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "missing media")
	}
	if payload.Request == nil || payload.Request.RequestID == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "missing request id")
	}
	requestID, err := strconv.ParseInt(payload.Request.RequestID, 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid request id")
	}

	mediaType := payload.Media.MediaType
	var seasons []int
	switch mediaType {
	case "movie":
	case "tv":
		seasons = requestedSeasons(payload)
		if len(seasons) == 0 {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "tv request without requested seasons")
		}
	default:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "unsupported media type")
	}

	err = s.bridge.EnqueueFromCatalog(c.Request().Context(), requestID, 0, payload.Media.TMDBID, mediaType, seasons)
	if errors.Is(err, bridge.ErrQueueFull) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "queue is full")
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("tmdb_id", payload.Media.TMDBID).Msg("Failed to enqueue webhook request")
		return echo.NewHTTPError(http.StatusBadGateway, "could not resolve request metadata")
	}

	s.logger.Info().
		Str("media_type", mediaType).
		Int64("tmdb_id", payload.Media.TMDBID).
		Int64("request_id", requestID).
		Msg("Webhook request enqueued")
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

// requestedSeasons parses the "Requested Seasons" extra ("2" or "1, 3").
func requestedSeasons(payload webhookPayload) []int {
	var seasons []int
	for _, extra := range payload.Extra {
		if !strings.EqualFold(extra.Name, "Requested Seasons") {
			continue
		}
		for _, part := range strings.Split(extra.Value, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n > 0 {
				seasons = append(seasons, n)
			}
		}
	}
	return seasons
}
