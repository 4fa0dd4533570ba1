package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/config"
	"github.com/mjfcit/SeerrBridge/internal/confirm"
	"github.com/mjfcit/SeerrBridge/internal/ledger"
	"github.com/mjfcit/SeerrBridge/internal/overseerr"
	"github.com/mjfcit/SeerrBridge/internal/session"
	"github.com/mjfcit/SeerrBridge/internal/trakt"
)

// Catalog is the request source and completion sink.
type Catalog interface {
	FetchProcessingRequests(ctx context.Context) ([]overseerr.Request, error)
	MarkCompleted(ctx context.Context, mediaID, tmdbID int64) error
	MediaFromRequest(ctx context.Context, requestID int64) (overseerr.Media, error)
}

// Metadata resolves titles and season schedules.
type Metadata interface {
	ResolveMovie(ctx context.Context, tmdbID int64) (trakt.Item, error)
	ResolveShow(ctx context.Context, tmdbID int64) (trakt.Item, error)
	SeasonSchedule(ctx context.Context, showID int64, season int) (trakt.SeasonSchedule, error)
	HasEpisodeAired(ctx context.Context, showID int64, season, episode int) (bool, error)
}

// Confirmer runs confirmation passes against the current listing.
type Confirmer interface {
	Confirm(ctx context.Context, target confirm.Target) (confirm.Result, error)
	ConfirmEpisode(ctx context.Context, target confirm.Target) (bool, error)
}

// Housekeeper is the idempotent idle-time action (library refresh). Best
// effort; failures are logged and forgotten.
type Housekeeper func(ctx context.Context) error

// Service drives reconciliation: it owns both queues for the life of the
// process and serializes all availability-session work.
type Service struct {
	cfg       config.BridgeConfig
	movies    *Queue
	shows     *Queue
	sess      session.Session
	confirmer Confirmer
	catalog   Catalog
	metadata  Metadata
	store     *ledger.Store
	housekeep Housekeeper
	logger    zerolog.Logger

	// sessionMu serializes interaction with the shared availability
	// session. jobMu keeps the periodic re-population job out of an
	// in-flight drain cycle.
	sessionMu sync.Mutex
	jobMu     sync.Mutex

	mu            sync.Mutex
	lastActivity  time.Time
	processing    bool
	idleHousekept bool

	wake chan struct{}
}

// NewService wires the reconciliation loop.
func NewService(
	cfg config.BridgeConfig,
	sess session.Session,
	confirmer Confirmer,
	catalog Catalog,
	metadata Metadata,
	store *ledger.Store,
	housekeep Housekeeper,
	logger zerolog.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		movies:    NewQueue("movie", cfg.QueueCapacity),
		shows:     NewQueue("tv", cfg.QueueCapacity),
		sess:      sess,
		confirmer: confirmer,
		catalog:   catalog,
		metadata:  metadata,
		store:     store,
		housekeep: housekeep,
		logger:    logger.With().Str("component", "bridge").Logger(),
		wake:      make(chan struct{}, 1),
	}
}

// AddMovie enqueues a movie request.
func (s *Service) AddMovie(m MovieRequest) error {
	if err := s.movies.Enqueue(Item{Kind: KindMovie, Movie: &m}); err != nil {
		return err
	}
	s.touch()
	return nil
}

// AddTV enqueues a TV request.
func (s *Service) AddTV(tv TVRequest) error {
	if err := s.shows.Enqueue(Item{Kind: KindTV, TV: &tv}); err != nil {
		return err
	}
	s.touch()
	return nil
}

// AddSubscriptionCheck enqueues one discrepancy recheck trigger.
func (s *Service) AddSubscriptionCheck() error {
	if err := s.shows.Enqueue(Item{Kind: KindSubscriptionCheck}); err != nil {
		return err
	}
	s.touch()
	return nil
}

// touch records enqueue activity and wakes the drain loop.
func (s *Service) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.idleHousekept = false
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Snapshot is the externally visible state of the loop.
type Snapshot struct {
	MovieQueueLen int       `json:"movie_queue_length"`
	TVQueueLen    int       `json:"tv_queue_length"`
	Processing    bool      `json:"processing"`
	LastActivity  time.Time `json:"last_activity"`
}

// Status reports the current loop state.
func (s *Service) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		MovieQueueLen: s.movies.Len(),
		TVQueueLen:    s.shows.Len(),
		Processing:    s.processing,
		LastActivity:  s.lastActivity,
	}
}

// Run drives the drain loop until the context is cancelled. Cancellation is
// observed at item boundaries; an in-flight item finishes (including any
// pending trigger rollback) before the loop exits.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-ticker.C:
		}

		if s.movies.Len() > 0 || s.shows.Len() > 0 {
			s.drainCycle(ctx)
			continue
		}
		s.maybeHousekeep(ctx)
	}
}

// drainCycle empties both queues: movies first, then TV, strict FIFO within
// each. The job lock is held for the whole cycle so the re-population job
// waits its turn.
func (s *Service) drainCycle(ctx context.Context) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	cycleID := uuid.NewString()
	log := s.logger.With().Str("cycle_id", cycleID).Logger()
	log.Debug().Msg("Drain cycle started")

	s.setProcessing(true)
	defer s.setProcessing(false)

	for ctx.Err() == nil {
		// Movies always go before TV, even ones enqueued mid-cycle.
		item, ok := s.movies.TryDequeue()
		if !ok {
			item, ok = s.shows.TryDequeue()
		}
		if !ok {
			break
		}
		s.processItem(ctx, log, item)
	}
	log.Debug().Msg("Drain cycle finished")
}

func (s *Service) processItem(ctx context.Context, log zerolog.Logger, item Item) {
	switch item.Kind {
	case KindMovie:
		s.processMovie(ctx, log, item.Movie)
	case KindTV:
		s.processTV(ctx, log, item.TV)
	case KindSubscriptionCheck:
		if err := s.runSubscriptionCheck(ctx); err != nil {
			log.Error().Err(err).Msg("Subscription check failed")
		}
	}
}

func (s *Service) processMovie(ctx context.Context, log zerolog.Logger, m *MovieRequest) {
	log = log.With().Str("title", m.Title).Int("year", m.Year).Logger()

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if err := s.openListing(ctx, s.movieURL(m.IMDBID)); err != nil {
		log.Error().Err(err).Msg("Failed to open movie listing")
		return
	}

	result, err := s.confirmer.Confirm(ctx, confirm.Target{Title: m.Title, Year: m.Year})
	if err != nil {
		log.Error().Err(err).Msg("Confirmation pass failed")
		return
	}
	if !result.Matched {
		log.Info().Msg("No release confirmed for movie")
		return
	}
	if err := s.reportCompleted(ctx, m.RequestID, m.MediaID, m.TMDBID); err != nil {
		log.Error().Err(err).Msg("Failed to report completion")
		return
	}
	log.Info().Msg("Movie reconciled")
}

func (s *Service) processTV(ctx context.Context, log zerolog.Logger, tv *TVRequest) {
	log = log.With().Str("title", tv.Title).Strs("seasons", tv.Seasons).Logger()

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	confirmed := 0
	for _, season := range tv.Seasons {
		if ctx.Err() != nil {
			return
		}
		if err := s.openListing(ctx, s.seasonURL(tv.IMDBID, season)); err != nil {
			log.Error().Err(err).Str("season", season).Msg("Failed to open season listing")
			continue
		}

		result, err := s.confirmer.Confirm(ctx, confirm.Target{
			Title:   tv.Title,
			IsTV:    true,
			Seasons: []string{season},
		})
		if err != nil {
			log.Error().Err(err).Str("season", season).Msg("Confirmation pass failed")
			continue
		}
		if result.ConfirmedSeasons[season] {
			confirmed++
		} else {
			log.Info().Str("season", season).Msg("Season not confirmed; discrepancy recheck will retry tracked episodes")
		}
	}

	if confirmed != len(tv.Seasons) {
		return
	}
	if err := s.reportCompleted(ctx, tv.RequestID, tv.MediaID, tv.TMDBID); err != nil {
		log.Error().Err(err).Msg("Failed to report completion")
		return
	}
	log.Info().Msg("TV request reconciled")
}

// reportCompleted marks the media available. Webhook-enqueued items carry no
// media id, so it is resolved from the request when missing.
func (s *Service) reportCompleted(ctx context.Context, requestID, mediaID, tmdbID int64) error {
	if mediaID == 0 {
		media, err := s.catalog.MediaFromRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("failed to resolve media for request %d: %w", requestID, err)
		}
		mediaID = media.ID
	}
	return s.catalog.MarkCompleted(ctx, mediaID, tmdbID)
}

// openListing navigates the session, applies the configured filter, and
// rebuilds the session once if it reports itself unavailable.
func (s *Service) openListing(ctx context.Context, url string) error {
	err := s.sess.Open(ctx, url)
	if errors.Is(err, session.ErrUnavailable) {
		s.logger.Warn().Msg("Session unavailable, reinitializing")
		if err := s.sess.Reinitialize(ctx); err != nil {
			return fmt.Errorf("failed to reinitialize session: %w", err)
		}
		err = s.sess.Open(ctx, url)
	}
	if err != nil {
		return err
	}
	if s.cfg.TorrentFilterRegex != "" {
		if err := s.sess.SetFilterExpression(ctx, s.cfg.TorrentFilterRegex); err != nil {
			return fmt.Errorf("failed to apply torrent filter: %w", err)
		}
	}
	return nil
}

func (s *Service) movieURL(imdbID string) string {
	return fmt.Sprintf("%s/movie/%s", s.cfg.ListingBaseURL, imdbID)
}

func (s *Service) seasonURL(imdbID, season string) string {
	n, _ := seasonNumberOf(season)
	return fmt.Sprintf("%s/show/%s/%d", s.cfg.ListingBaseURL, imdbID, n)
}

func (s *Service) setProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

// maybeHousekeep runs the idle housekeeping action once per idle cycle, after
// the grace period with no new activity.
func (s *Service) maybeHousekeep(ctx context.Context) {
	if s.housekeep == nil {
		return
	}

	s.mu.Lock()
	idle := !s.processing &&
		!s.idleHousekept &&
		!s.lastActivity.IsZero() &&
		time.Since(s.lastActivity) >= s.cfg.IdleGrace()
	if idle {
		s.idleHousekept = true
	}
	s.mu.Unlock()

	if !idle {
		return
	}

	s.logger.Debug().Msg("Queues idle, running housekeeping")
	s.sessionMu.Lock()
	err := s.housekeep(ctx)
	s.sessionMu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Housekeeping failed")
	}
}

// LockSession runs fn while holding the exclusive session lock. Collaborators
// that touch the session outside a drain cycle (the token refresher) go
// through here so there is never more than one in-flight session interaction.
func (s *Service) LockSession(fn func() error) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return fn()
}
