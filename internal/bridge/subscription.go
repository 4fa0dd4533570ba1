package bridge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/confirm"
	"github.com/mjfcit/SeerrBridge/internal/ledger"
	"github.com/mjfcit/SeerrBridge/internal/match"
)

// runSubscriptionCheck re-attempts every tracked episode discrepancy. Each
// cycle advances a season's known airing state by at most one episode, keeping
// per-cycle work bounded, and writes all entries back in one save.
func (s *Service) runSubscriptionCheck(ctx context.Context) error {
	entries, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load discrepancy ledger: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	s.logger.Info().Int("entries", len(entries)).Msg("Running discrepancy recheck")

	updated := make(map[ledger.Key]ledger.Entry, len(entries))
	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := entries[i]
		s.recheckEntry(ctx, &entry)
		updated[entry.Key()] = entry
	}

	// Single save: replace each processed entry, keep anything another
	// writer added meanwhile.
	return s.store.Update(func(current []ledger.Entry) []ledger.Entry {
		out := make([]ledger.Entry, 0, len(current))
		for _, e := range current {
			if u, ok := updated[e.Key()]; ok {
				out = append(out, u)
				continue
			}
			out = append(out, e)
		}
		return out
	})
}

func (s *Service) recheckEntry(ctx context.Context, entry *ledger.Entry) {
	log := s.logger.With().
		Str("show", entry.ShowTitle).
		Int("season", entry.SeasonNumber).
		Logger()

	schedule, err := s.metadata.SeasonSchedule(ctx, entry.ShowID, entry.SeasonNumber)
	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh season schedule")
		return
	}
	entry.SeasonSchedule.EpisodeCount = schedule.EpisodeCount

	// Advance the known airing state by at most one episode per cycle.
	newlyAired := 0
	if entry.SeasonSchedule.AiredEpisodes < entry.SeasonSchedule.EpisodeCount {
		next := entry.SeasonSchedule.AiredEpisodes + 1
		aired, err := s.metadata.HasEpisodeAired(ctx, entry.ShowID, entry.SeasonNumber, next)
		if err != nil {
			log.Warn().Err(err).Int("episode", next).Msg("Could not check next episode")
		} else if aired {
			entry.SeasonSchedule.AiredEpisodes = next
			newlyAired = next
			log.Info().Int("episode", next).Msg("Next episode has aired")
		}
	}

	work := workList(entry, newlyAired)
	if len(work) == 0 {
		entry.Timestamp = time.Now().UTC()
		return
	}

	stillFailed, ok := s.recheckEpisodes(ctx, log, entry, work)
	if !ok {
		// Session never opened. The aired-episode advance above is still
		// persisted, so every work-list episode must be carried as failed
		// or a newly aired one would drop out of all future work lists.
		entry.FailedEpisodes = episodeIDs(work)
		entry.Timestamp = time.Now().UTC()
		return
	}

	entry.FailedEpisodes = stillFailed
	entry.Timestamp = time.Now().UTC()

	if entry.SeasonSchedule.AiredEpisodes == entry.SeasonSchedule.EpisodeCount && len(stillFailed) == 0 {
		s.completeEntry(ctx, log, entry)
	}
}

// workList merges the previously failed episodes (capped at the current
// airing state) with the newly aired one, ordered and deduplicated.
func workList(entry *ledger.Entry, newlyAired int) []int {
	seen := make(map[int]bool)
	var work []int
	for _, id := range entry.FailedEpisodes {
		n, ok := match.ParseEpisodeID(id)
		if !ok || n > entry.SeasonSchedule.AiredEpisodes || seen[n] {
			continue
		}
		work = append(work, n)
		seen[n] = true
	}
	if newlyAired > 0 && !seen[newlyAired] {
		work = append(work, newlyAired)
	}
	sort.Ints(work)
	return work
}

func episodeIDs(work []int) []string {
	ids := make([]string, 0, len(work))
	for _, n := range work {
		ids = append(ids, match.EpisodeID(n))
	}
	return ids
}

// recheckEpisodes opens the season listing once and runs an episode-scoped
// confirmation pass for every work-list episode. Returns the episodes that
// still failed and whether the session interaction happened at all.
func (s *Service) recheckEpisodes(ctx context.Context, log zerolog.Logger, entry *ledger.Entry, work []int) ([]string, bool) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	item, err := s.metadata.ResolveShow(ctx, entry.ExternalID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve show for listing URL")
		return nil, false
	}
	url := fmt.Sprintf("%s/show/%s/%d", s.cfg.ListingBaseURL, item.IMDBID, entry.SeasonNumber)
	if err := s.openListing(ctx, url); err != nil {
		log.Error().Err(err).Msg("Failed to open season listing")
		return nil, false
	}
	// Whatever happens below, put the configured filter back.
	defer func() {
		if err := s.sess.SetFilterExpression(ctx, s.cfg.TorrentFilterRegex); err != nil {
			log.Warn().Err(err).Msg("Failed to reset filter expression")
		}
	}()

	base := match.BaseTitle(entry.ShowTitle)
	season := fmt.Sprintf("Season %d", entry.SeasonNumber)

	stillFailed := make([]string, 0)
	for _, n := range work {
		if ctx.Err() != nil {
			stillFailed = append(stillFailed, match.EpisodeID(n))
			continue
		}
		episodeID := match.EpisodeID(n)
		filter := fmt.Sprintf("%s S%02d%s", base, entry.SeasonNumber, episodeID)
		if err := s.sess.SetFilterExpression(ctx, filter); err != nil {
			log.Warn().Err(err).Str("episode", episodeID).Msg("Failed to apply episode filter")
			stillFailed = append(stillFailed, episodeID)
			continue
		}

		confirmed, err := s.confirmer.ConfirmEpisode(ctx, confirm.Target{
			Title:   entry.ShowTitle,
			IsTV:    true,
			Seasons: []string{season},
			Episode: episodeID,
		})
		if err != nil {
			log.Error().Err(err).Str("episode", episodeID).Msg("Episode pass failed")
			stillFailed = append(stillFailed, episodeID)
			continue
		}
		if !confirmed {
			stillFailed = append(stillFailed, episodeID)
		}
	}
	return stillFailed, true
}

// completeEntry reports the fully caught-up season back to the catalog. The
// entry stays in the ledger with an empty failure list for audit.
func (s *Service) completeEntry(ctx context.Context, log zerolog.Logger, entry *ledger.Entry) {
	media, err := s.catalog.MediaFromRequest(ctx, entry.SeerrRequestID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve media for completion")
		return
	}
	if err := s.catalog.MarkCompleted(ctx, media.ID, media.TMDBID); err != nil {
		log.Error().Err(err).Msg("Failed to report completion")
		return
	}
	log.Info().Msg("Season fully confirmed, request completed")
}
