package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/mjfcit/SeerrBridge/internal/ledger"
	"github.com/mjfcit/SeerrBridge/internal/match"
)

// Repopulate fetches the current request catalog and refills the queues. It
// runs on a fixed interval and also once at startup. It waits for any
// in-flight drain cycle before touching anything, and always finishes by
// enqueueing exactly one subscription check.
func (s *Service) Repopulate(ctx context.Context) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	requests, err := s.catalog.FetchProcessingRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch request catalog: %w", err)
	}
	s.logger.Info().Int("requests", len(requests)).Msg("Re-populating queues from catalog")

	for _, req := range requests {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		seasons := make([]int, 0, len(req.Seasons))
		for _, season := range req.Seasons {
			seasons = append(seasons, season.SeasonNumber)
		}
		if err := s.EnqueueFromCatalog(ctx, req.ID, req.Media.ID, req.Media.TMDBID, req.Media.MediaType, seasons); err != nil {
			s.logger.Warn().Err(err).Int64("request_id", req.ID).Msg("Could not enqueue request")
		}
	}

	if err := s.AddSubscriptionCheck(); err != nil {
		s.logger.Warn().Err(err).Msg("Could not enqueue subscription check, queue full")
	}
	return nil
}

// EnqueueFromCatalog resolves a request's title metadata and enqueues it.
// Used by both the re-population job and the webhook intake. Returns
// ErrQueueFull when the target queue is at capacity.
func (s *Service) EnqueueFromCatalog(ctx context.Context, requestID, mediaID, tmdbID int64, mediaType string, seasons []int) error {
	switch mediaType {
	case "movie":
		return s.enqueueMovie(ctx, requestID, mediaID, tmdbID)
	case "tv":
		return s.enqueueTV(ctx, requestID, mediaID, tmdbID, seasons)
	default:
		return fmt.Errorf("unknown media type %q", mediaType)
	}
}

func (s *Service) enqueueMovie(ctx context.Context, requestID, mediaID, tmdbID int64) error {
	item, err := s.metadata.ResolveMovie(ctx, tmdbID)
	if err != nil {
		return fmt.Errorf("failed to resolve movie tmdb %d: %w", tmdbID, err)
	}
	return s.AddMovie(MovieRequest{
		RequestID: requestID,
		MediaID:   mediaID,
		TMDBID:    tmdbID,
		IMDBID:    item.IMDBID,
		Title:     item.Title,
		Year:      item.Year,
	})
}

func (s *Service) enqueueTV(ctx context.Context, requestID, mediaID, tmdbID int64, seasons []int) error {
	item, err := s.metadata.ResolveShow(ctx, tmdbID)
	if err != nil {
		return fmt.Errorf("failed to resolve show tmdb %d: %w", tmdbID, err)
	}

	normalized := make([]string, 0, len(seasons))
	for _, n := range seasons {
		normalized = append(normalized, match.NormalizeSeason(fmt.Sprintf("Season %d", n)))
		s.trackDiscrepancy(ctx, item.Title, item.TraktID, tmdbID, requestID, n)
	}

	return s.AddTV(TVRequest{
		RequestID: requestID,
		MediaID:   mediaID,
		TMDBID:    tmdbID,
		TraktID:   item.TraktID,
		IMDBID:    item.IMDBID,
		Title:     item.Title,
		Year:      item.Year,
		Seasons:   normalized,
	})
}

// trackDiscrepancy records a season whose schedule has gaps at enqueue time.
// The new entry starts with every aired episode marked failed; the recheck
// job confirms them one cycle at a time.
func (s *Service) trackDiscrepancy(ctx context.Context, title string, showID, tmdbID, requestID int64, seasonNumber int) {
	schedule, err := s.metadata.SeasonSchedule(ctx, showID, seasonNumber)
	if err != nil {
		s.logger.Error().Err(err).Str("title", title).Int("season", seasonNumber).Msg("Failed to fetch season schedule")
		return
	}
	if schedule.AiredEpisodes >= schedule.EpisodeCount {
		return
	}

	// The schedule source can lag behind the actual airing; ask about the
	// next episode directly and advance the known state by one when it is
	// already out, so it joins the initial failure list.
	next := schedule.AiredEpisodes + 1
	aired, err := s.metadata.HasEpisodeAired(ctx, showID, seasonNumber, next)
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Int("episode", next).Msg("Could not check next episode")
	} else if aired {
		schedule.AiredEpisodes = next
	}

	failed := make([]string, 0, schedule.AiredEpisodes)
	for ep := 1; ep <= schedule.AiredEpisodes; ep++ {
		failed = append(failed, match.EpisodeID(ep))
	}

	err = s.store.Upsert(ledger.Entry{
		ShowTitle:      title,
		ShowID:         showID,
		ExternalID:     tmdbID,
		SeerrRequestID: requestID,
		SeasonNumber:   seasonNumber,
		SeasonSchedule: ledger.Schedule{
			EpisodeCount:  schedule.EpisodeCount,
			AiredEpisodes: schedule.AiredEpisodes,
		},
		FailedEpisodes: failed,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("title", title).Int("season", seasonNumber).Msg("Failed to record discrepancy")
	}
}

func seasonNumberOf(season string) (int, bool) {
	return match.SeasonNumber(match.NormalizeSeason(season))
}
