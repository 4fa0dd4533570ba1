package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/config"
	"github.com/mjfcit/SeerrBridge/internal/confirm"
	"github.com/mjfcit/SeerrBridge/internal/ledger"
	"github.com/mjfcit/SeerrBridge/internal/overseerr"
	"github.com/mjfcit/SeerrBridge/internal/session/mock"
	"github.com/mjfcit/SeerrBridge/internal/trakt"
)

type fakeCatalog struct {
	requests       []overseerr.Request
	completed      []int64
	mediaByRequest map[int64]overseerr.Media
}

func (f *fakeCatalog) FetchProcessingRequests(context.Context) ([]overseerr.Request, error) {
	return f.requests, nil
}

func (f *fakeCatalog) MarkCompleted(_ context.Context, mediaID, _ int64) error {
	f.completed = append(f.completed, mediaID)
	return nil
}

func (f *fakeCatalog) MediaFromRequest(_ context.Context, requestID int64) (overseerr.Media, error) {
	m, ok := f.mediaByRequest[requestID]
	if !ok {
		return overseerr.Media{}, fmt.Errorf("no media for request %d", requestID)
	}
	return m, nil
}

type fakeMetadata struct {
	movies    map[int64]trakt.Item
	shows     map[int64]trakt.Item
	schedules map[string]trakt.SeasonSchedule
	aired     map[string]bool
	airedAsks []string
}

func scheduleKey(showID int64, season int) string { return fmt.Sprintf("%d/%d", showID, season) }

func episodeKey(showID int64, season, ep int) string {
	return fmt.Sprintf("%d/%d/%d", showID, season, ep)
}

func (f *fakeMetadata) ResolveMovie(_ context.Context, tmdbID int64) (trakt.Item, error) {
	item, ok := f.movies[tmdbID]
	if !ok {
		return trakt.Item{}, trakt.ErrNotFound
	}
	return item, nil
}

func (f *fakeMetadata) ResolveShow(_ context.Context, tmdbID int64) (trakt.Item, error) {
	item, ok := f.shows[tmdbID]
	if !ok {
		return trakt.Item{}, trakt.ErrNotFound
	}
	return item, nil
}

func (f *fakeMetadata) SeasonSchedule(_ context.Context, showID int64, season int) (trakt.SeasonSchedule, error) {
	s, ok := f.schedules[scheduleKey(showID, season)]
	if !ok {
		return trakt.SeasonSchedule{}, trakt.ErrNotFound
	}
	return s, nil
}

func (f *fakeMetadata) HasEpisodeAired(_ context.Context, showID int64, season, episode int) (bool, error) {
	key := episodeKey(showID, season, episode)
	f.airedAsks = append(f.airedAsks, key)
	return f.aired[key], nil
}

type fakeConfirmer struct {
	order    []string
	results  map[string]confirm.Result
	episodes map[string]bool
}

func (f *fakeConfirmer) Confirm(_ context.Context, target confirm.Target) (confirm.Result, error) {
	key := target.Title
	if len(target.Seasons) > 0 {
		key += "/" + target.Seasons[0]
	}
	f.order = append(f.order, key)
	if r, ok := f.results[key]; ok {
		return r, nil
	}
	return confirm.Result{ConfirmedSeasons: map[string]bool{}}, nil
}

func (f *fakeConfirmer) ConfirmEpisode(_ context.Context, target confirm.Target) (bool, error) {
	key := target.Title + "/" + target.Episode
	f.order = append(f.order, key)
	return f.episodes[key], nil
}

type fixture struct {
	service   *Service
	sess      *mock.Session
	catalog   *fakeCatalog
	metadata  *fakeMetadata
	confirmer *fakeConfirmer
	store     *ledger.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.BridgeConfig{
		QueueCapacity:  10,
		ListingBaseURL: "dmm://test",
		LedgerPath:     filepath.Join(t.TempDir(), "ledger.json"),
	}
	f := &fixture{
		sess: mock.New(),
		catalog: &fakeCatalog{
			mediaByRequest: make(map[int64]overseerr.Media),
		},
		metadata: &fakeMetadata{
			movies:    make(map[int64]trakt.Item),
			shows:     make(map[int64]trakt.Item),
			schedules: make(map[string]trakt.SeasonSchedule),
			aired:     make(map[string]bool),
		},
		confirmer: &fakeConfirmer{
			results:  make(map[string]confirm.Result),
			episodes: make(map[string]bool),
		},
	}
	f.store = ledger.NewStore(cfg.LedgerPath, zerolog.Nop())
	f.service = NewService(cfg, f.sess, f.confirmer, f.catalog, f.metadata, f.store, nil, zerolog.Nop())
	return f
}

func TestDrainMoviesBeforeTV(t *testing.T) {
	f := newFixture(t)
	if err := f.service.AddTV(TVRequest{Title: "Show X", Seasons: []string{"Season 1"}, IMDBID: "tt2"}); err != nil {
		t.Fatal(err)
	}
	if err := f.service.AddMovie(MovieRequest{Title: "Dune", Year: 2021, IMDBID: "tt1"}); err != nil {
		t.Fatal(err)
	}

	f.service.drainCycle(context.Background())

	if len(f.confirmer.order) != 2 {
		t.Fatalf("got %d confirmation passes, want 2: %v", len(f.confirmer.order), f.confirmer.order)
	}
	if f.confirmer.order[0] != "Dune" {
		t.Errorf("first pass = %q, want the movie even though TV was enqueued first", f.confirmer.order[0])
	}
}

func TestMovieCompletionReported(t *testing.T) {
	f := newFixture(t)
	f.confirmer.results["Dune"] = confirm.Result{Matched: true, ConfirmedSeasons: map[string]bool{}}
	if err := f.service.AddMovie(MovieRequest{Title: "Dune", Year: 2021, MediaID: 11, TMDBID: 100, IMDBID: "tt1"}); err != nil {
		t.Fatal(err)
	}

	f.service.drainCycle(context.Background())

	if len(f.catalog.completed) != 1 || f.catalog.completed[0] != 11 {
		t.Errorf("completed = %v, want [11]", f.catalog.completed)
	}
}

func TestUnmatchedMovieNotCompleted(t *testing.T) {
	f := newFixture(t)
	if err := f.service.AddMovie(MovieRequest{Title: "Dune", Year: 2021, MediaID: 11, IMDBID: "tt1"}); err != nil {
		t.Fatal(err)
	}

	f.service.drainCycle(context.Background())

	if len(f.catalog.completed) != 0 {
		t.Errorf("completed = %v, want none", f.catalog.completed)
	}
}

func TestRepopulateTracksScheduleGap(t *testing.T) {
	f := newFixture(t)
	f.catalog.requests = []overseerr.Request{{
		ID:      7,
		Status:  overseerr.RequestStatusApproved,
		Media:   overseerr.Media{ID: 14, MediaType: "tv", TMDBID: 400, Status: overseerr.MediaStatusProcessing},
		Seasons: []overseerr.Season{{SeasonNumber: 2}},
	}}
	f.metadata.shows[400] = trakt.Item{Title: "Show X", Year: 2020, TraktID: 42, IMDBID: "tt4"}
	f.metadata.schedules[scheduleKey(42, 2)] = trakt.SeasonSchedule{EpisodeCount: 10, AiredEpisodes: 8}

	if err := f.service.Repopulate(context.Background()); err != nil {
		t.Fatalf("Repopulate() error = %v", err)
	}

	entry, found, err := f.store.FindByKey("Show X", 2)
	if err != nil || !found {
		t.Fatalf("FindByKey() = (%v, %v)", found, err)
	}
	if entry.SeasonSchedule.EpisodeCount != 10 || entry.SeasonSchedule.AiredEpisodes != 8 {
		t.Errorf("schedule = %+v", entry.SeasonSchedule)
	}
	if len(entry.FailedEpisodes) != 8 || entry.FailedEpisodes[0] != "E01" || entry.FailedEpisodes[7] != "E08" {
		t.Errorf("failedEpisodes = %v, want E01..E08", entry.FailedEpisodes)
	}

	// The gapped request must not be completed in this pass.
	f.service.drainCycle(context.Background())
	if len(f.catalog.completed) != 0 {
		t.Errorf("completed = %v, want none while episodes are missing", f.catalog.completed)
	}
}

func TestRepopulateEnqueuesOneSubscriptionCheck(t *testing.T) {
	f := newFixture(t)
	if err := f.service.Repopulate(context.Background()); err != nil {
		t.Fatalf("Repopulate() error = %v", err)
	}

	checks := 0
	for {
		item, ok := f.service.shows.TryDequeue()
		if !ok {
			break
		}
		if item.Kind == KindSubscriptionCheck {
			checks++
		}
	}
	if checks != 1 {
		t.Errorf("got %d subscription checks, want exactly 1", checks)
	}
}

func TestRecheckWorkListAdvanceByOne(t *testing.T) {
	f := newFixture(t)
	// E01-E07 confirmed earlier; E08 still failed; E09 airs this cycle.
	err := f.store.Save([]ledger.Entry{{
		ShowTitle:      "Show X",
		ShowID:         42,
		ExternalID:     400,
		SeerrRequestID: 7,
		SeasonNumber:   2,
		SeasonSchedule: ledger.Schedule{EpisodeCount: 10, AiredEpisodes: 8},
		FailedEpisodes: []string{"E08"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	f.metadata.shows[400] = trakt.Item{Title: "Show X", TraktID: 42, IMDBID: "tt4"}
	f.metadata.schedules[scheduleKey(42, 2)] = trakt.SeasonSchedule{EpisodeCount: 10, AiredEpisodes: 9}
	f.metadata.aired[episodeKey(42, 2, 9)] = true

	if err := f.service.runSubscriptionCheck(context.Background()); err != nil {
		t.Fatalf("runSubscriptionCheck() error = %v", err)
	}

	want := []string{"Show X/E08", "Show X/E09"}
	if len(f.confirmer.order) != len(want) {
		t.Fatalf("episode passes = %v, want %v", f.confirmer.order, want)
	}
	for i, got := range f.confirmer.order {
		if got != want[i] {
			t.Errorf("pass %d = %q, want %q", i, got, want[i])
		}
	}

	entry, _, err := f.store.FindByKey("Show X", 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.SeasonSchedule.AiredEpisodes != 9 {
		t.Errorf("airedEpisodes = %d, want 9 (advanced by exactly one)", entry.SeasonSchedule.AiredEpisodes)
	}
	if len(entry.FailedEpisodes) != 2 {
		t.Errorf("failedEpisodes = %v, want both attempts still failed", entry.FailedEpisodes)
	}
}

func TestRecheckSkipsEntryWithNoWork(t *testing.T) {
	f := newFixture(t)
	err := f.store.Save([]ledger.Entry{{
		ShowTitle:      "Show X",
		ShowID:         42,
		ExternalID:     400,
		SeasonNumber:   2,
		SeasonSchedule: ledger.Schedule{EpisodeCount: 10, AiredEpisodes: 8},
		FailedEpisodes: []string{},
	}})
	if err != nil {
		t.Fatal(err)
	}
	f.metadata.schedules[scheduleKey(42, 2)] = trakt.SeasonSchedule{EpisodeCount: 10, AiredEpisodes: 8}

	if err := f.service.runSubscriptionCheck(context.Background()); err != nil {
		t.Fatalf("runSubscriptionCheck() error = %v", err)
	}
	if len(f.confirmer.order) != 0 {
		t.Errorf("no session work expected, got passes %v", f.confirmer.order)
	}
	if len(f.sess.Opens) != 0 {
		t.Errorf("session opened %v, want no interaction", f.sess.Opens)
	}
}

func TestRecheckCompletesCaughtUpSeason(t *testing.T) {
	f := newFixture(t)
	err := f.store.Save([]ledger.Entry{{
		ShowTitle:      "Show X",
		ShowID:         42,
		ExternalID:     400,
		SeerrRequestID: 7,
		SeasonNumber:   2,
		SeasonSchedule: ledger.Schedule{EpisodeCount: 10, AiredEpisodes: 9},
		FailedEpisodes: []string{"E10"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	f.metadata.shows[400] = trakt.Item{Title: "Show X", TraktID: 42, IMDBID: "tt4"}
	f.metadata.schedules[scheduleKey(42, 2)] = trakt.SeasonSchedule{EpisodeCount: 10, AiredEpisodes: 10}
	f.metadata.aired[episodeKey(42, 2, 10)] = true
	f.confirmer.episodes["Show X/E10"] = true
	f.catalog.mediaByRequest[7] = overseerr.Media{ID: 14, TMDBID: 400}

	if err := f.service.runSubscriptionCheck(context.Background()); err != nil {
		t.Fatalf("runSubscriptionCheck() error = %v", err)
	}

	if len(f.catalog.completed) != 1 || f.catalog.completed[0] != 14 {
		t.Errorf("completed = %v, want [14]", f.catalog.completed)
	}
	entry, _, err := f.store.FindByKey("Show X", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entry.FailedEpisodes) != 0 {
		t.Errorf("failedEpisodes = %v, want empty after full confirmation", entry.FailedEpisodes)
	}
}

func TestIdleHousekeepingRunsOncePerIdleCycle(t *testing.T) {
	runs := 0
	f := newFixture(t)
	f.service.housekeep = func(context.Context) error {
		runs++
		return nil
	}
	// Zero grace: eligible as soon as the queues go quiet.
	f.service.cfg.IdleGraceSeconds = 0

	f.service.touch()
	f.service.maybeHousekeep(context.Background())
	f.service.maybeHousekeep(context.Background())
	if runs != 1 {
		t.Fatalf("housekeeping ran %d times in one idle cycle, want 1", runs)
	}

	// New activity opens a new idle cycle.
	f.service.touch()
	f.service.maybeHousekeep(context.Background())
	if runs != 2 {
		t.Errorf("housekeeping ran %d times total, want 2", runs)
	}
}

func TestRecheckListingFailureKeepsNewlyAiredEpisode(t *testing.T) {
	f := newFixture(t)
	err := f.store.Save([]ledger.Entry{{
		ShowTitle:      "Show X",
		ShowID:         42,
		ExternalID:     400,
		SeerrRequestID: 7,
		SeasonNumber:   2,
		SeasonSchedule: ledger.Schedule{EpisodeCount: 10, AiredEpisodes: 8},
		FailedEpisodes: []string{"E08"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	f.metadata.shows[400] = trakt.Item{Title: "Show X", TraktID: 42, IMDBID: "tt4"}
	f.metadata.schedules[scheduleKey(42, 2)] = trakt.SeasonSchedule{EpisodeCount: 10, AiredEpisodes: 9}
	f.metadata.aired[episodeKey(42, 2, 9)] = true

	// The listing never opens this cycle.
	f.sess.SetUnavailable(true)
	f.sess.SetReinitBroken(true)

	if err := f.service.runSubscriptionCheck(context.Background()); err != nil {
		t.Fatalf("runSubscriptionCheck() error = %v", err)
	}
	if len(f.confirmer.order) != 0 {
		t.Fatalf("episode passes = %v, want none with the session down", f.confirmer.order)
	}

	entry, _, err := f.store.FindByKey("Show X", 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.SeasonSchedule.AiredEpisodes != 9 {
		t.Errorf("airedEpisodes = %d, want 9", entry.SeasonSchedule.AiredEpisodes)
	}
	// The advance was persisted, so E09 must be carried as failed or it
	// would never appear in a work list again.
	if len(entry.FailedEpisodes) != 2 || entry.FailedEpisodes[0] != "E08" || entry.FailedEpisodes[1] != "E09" {
		t.Fatalf("failedEpisodes = %v, want [E08 E09]", entry.FailedEpisodes)
	}

	// Next cycle with a healthy session re-attempts both.
	f.sess.SetReinitBroken(false)
	f.sess.SetUnavailable(false)
	if err := f.service.runSubscriptionCheck(context.Background()); err != nil {
		t.Fatalf("runSubscriptionCheck() second cycle error = %v", err)
	}
	want := []string{"Show X/E08", "Show X/E09"}
	if len(f.confirmer.order) != len(want) {
		t.Fatalf("episode passes = %v, want %v", f.confirmer.order, want)
	}
	for i, got := range f.confirmer.order {
		if got != want[i] {
			t.Errorf("pass %d = %q, want %q", i, got, want[i])
		}
	}
}

func TestRepopulateAdvancesScheduleAtEnqueue(t *testing.T) {
	f := newFixture(t)
	f.catalog.requests = []overseerr.Request{{
		ID:      7,
		Status:  overseerr.RequestStatusApproved,
		Media:   overseerr.Media{ID: 14, MediaType: "tv", TMDBID: 400, Status: overseerr.MediaStatusProcessing},
		Seasons: []overseerr.Season{{SeasonNumber: 2}},
	}}
	f.metadata.shows[400] = trakt.Item{Title: "Show X", Year: 2020, TraktID: 42, IMDBID: "tt4"}
	f.metadata.schedules[scheduleKey(42, 2)] = trakt.SeasonSchedule{EpisodeCount: 10, AiredEpisodes: 8}
	// The schedule lags: E09 is already out.
	f.metadata.aired[episodeKey(42, 2, 9)] = true

	if err := f.service.Repopulate(context.Background()); err != nil {
		t.Fatalf("Repopulate() error = %v", err)
	}

	if len(f.metadata.airedAsks) != 1 || f.metadata.airedAsks[0] != episodeKey(42, 2, 9) {
		t.Errorf("airedAsks = %v, want one query for the next episode", f.metadata.airedAsks)
	}

	entry, found, err := f.store.FindByKey("Show X", 2)
	if err != nil || !found {
		t.Fatalf("FindByKey() = (%v, %v)", found, err)
	}
	if entry.SeasonSchedule.AiredEpisodes != 9 {
		t.Errorf("airedEpisodes = %d, want 9 (advanced by one at enqueue)", entry.SeasonSchedule.AiredEpisodes)
	}
	if len(entry.FailedEpisodes) != 9 || entry.FailedEpisodes[8] != "E09" {
		t.Errorf("failedEpisodes = %v, want E01..E09 including the newly aired episode", entry.FailedEpisodes)
	}
}
