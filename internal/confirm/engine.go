// Package confirm decides whether any listed release satisfies a request and
// drives the cache-trigger protocol to completion or failure.
package confirm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/match"
	"github.com/mjfcit/SeerrBridge/internal/session"
)

// Policy holds the match thresholds and trigger-wait bounds. These are fixed
// policy values, not derived from the data.
type Policy struct {
	// CachedScanThreshold is the minimum title similarity accepted on the
	// cached (no-click) scan.
	CachedScanThreshold int
	// FullScanThreshold is the minimum title similarity accepted on the
	// trigger scan.
	FullScanThreshold int
	// YearTolerance is the accepted distance between request and release
	// year. Applied to movies only.
	YearTolerance int
	// PollInterval and PollTimeout bound the post-trigger status wait. A
	// zero timeout disables polling and takes the trigger's own reading.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultPolicy mirrors the long-standing production values.
func DefaultPolicy() Policy {
	return Policy{
		CachedScanThreshold: 65,
		FullScanThreshold:   75,
		YearTolerance:       1,
		PollInterval:        2 * time.Second,
		PollTimeout:         15 * time.Second,
	}
}

// Target is one request unit to confirm against the current listing.
type Target struct {
	Title string
	Year  int
	IsTV  bool
	// Seasons holds normalized season labels ("Season 1"). Empty for movies.
	Seasons []string
	// Episode optionally narrows a TV season to one episode ("E03").
	Episode string
}

// Result reports what the pass confirmed.
type Result struct {
	Matched bool
	// ConfirmedSeasons holds the normalized seasons that were satisfied.
	ConfirmedSeasons map[string]bool
}

// unitState tracks one season-or-episode unit through the pass.
type unitState int

const (
	stateSearching unitState = iota
	stateCachedHit
	stateTriggering
	stateConfirmed
	stateRolledBack
	stateTimedOut
	stateExhausted
)

func (s unitState) String() string {
	switch s {
	case stateCachedHit:
		return "cached-hit"
	case stateTriggering:
		return "triggering"
	case stateConfirmed:
		return "confirmed"
	case stateRolledBack:
		return "rolled-back"
	case stateTimedOut:
		return "timed-out"
	case stateExhausted:
		return "exhausted"
	default:
		return "searching"
	}
}

// Engine runs confirmation passes against a shared availability session. The
// caller holds the session lock for the duration of a pass.
type Engine struct {
	sess   session.Session
	policy Policy
	logger zerolog.Logger
}

// New creates a confirmation engine.
func New(sess session.Session, policy Policy, logger zerolog.Logger) *Engine {
	return &Engine{
		sess:   sess,
		policy: policy,
		logger: logger.With().Str("component", "confirm").Logger(),
	}
}

// Confirm runs the full pass for a target: cached short-circuit scan first,
// then the trigger scan for whatever is still unsatisfied. Failure to match
// is reported in the result, not as an error; errors are reserved for the
// session itself becoming unusable.
func (e *Engine) Confirm(ctx context.Context, target Target) (Result, error) {
	result := Result{ConfirmedSeasons: make(map[string]bool)}

	candidates, err := e.sess.ListCandidates(ctx, session.ListFilter{})
	if err != nil {
		return result, err
	}

	if !target.IsTV {
		state := e.runUnit(ctx, target, "", candidates)
		result.Matched = state == stateCachedHit || state == stateConfirmed
		return result, ctx.Err()
	}

	for _, season := range target.Seasons {
		season = match.NormalizeSeason(season)
		state := e.runUnit(ctx, target, season, candidates)
		if state == stateCachedHit || state == stateConfirmed {
			result.ConfirmedSeasons[season] = true
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}
	result.Matched = len(result.ConfirmedSeasons) == len(target.Seasons) && len(target.Seasons) > 0
	return result, nil
}

// ConfirmEpisode runs a pass scoped to a single episode of a season. The
// caller is expected to have narrowed the listing with a filter expression
// first.
func (e *Engine) ConfirmEpisode(ctx context.Context, target Target) (bool, error) {
	if len(target.Seasons) != 1 || target.Episode == "" {
		return false, errors.New("confirm: episode pass requires exactly one season and an episode id")
	}
	candidates, err := e.sess.ListCandidates(ctx, session.ListFilter{})
	if err != nil {
		return false, err
	}
	season := match.NormalizeSeason(target.Seasons[0])
	state := e.runUnit(ctx, target, season, candidates)
	return state == stateCachedHit || state == stateConfirmed, ctx.Err()
}

// runUnit drives one season-or-episode unit through the state machine:
// Searching → CachedHit, or Searching → Triggering → {Confirmed | RolledBack
// | TimedOut} per candidate until Confirmed or AllCandidatesExhausted.
func (e *Engine) runUnit(ctx context.Context, target Target, season string, candidates []session.Candidate) unitState {
	log := e.logger.With().
		Str("title", target.Title).
		Str("season", season).
		Str("episode", target.Episode).
		Logger()

	state := stateSearching

	// Cached short-circuit: already-100% rows are free to accept.
	for _, c := range candidates {
		if !c.Cached {
			continue
		}
		if e.matches(target, season, c, e.policy.CachedScanThreshold) {
			log.Info().Str("candidate", c.Title).Msg("Cached release accepted without trigger")
			return stateCachedHit
		}
	}

	for _, c := range e.triggerOrder(target, season, candidates) {
		state = stateTriggering
		log.Debug().Str("candidate", c.Title).Msg("Triggering cache")

		status, err := e.triggerWithRetry(ctx, c)
		if err != nil {
			log.Warn().Err(err).Str("candidate", c.Title).Msg("Candidate unusable, moving on")
			continue
		}

		status = e.awaitStatus(ctx, c, status)
		switch status {
		case session.StatusConfirmed100Percent:
			log.Info().Str("candidate", c.Title).Msg("Cache confirmed")
			return stateConfirmed

		case session.StatusTriggered0Percent:
			// Never leave a 0% trigger behind, even when the context has
			// already been cancelled.
			if err := e.sess.UndoTrigger(ctx, c); err != nil {
				log.Error().Err(err).Str("candidate", c.Title).Msg("Failed to undo 0% trigger")
			}
			state = stateRolledBack
			log.Debug().Str("candidate", c.Title).Msg("Trigger rolled back, trying next candidate")

		default:
			state = stateTimedOut
			log.Debug().Str("candidate", c.Title).Msg("Status unconfirmed after wait, trying next candidate")
		}

		if ctx.Err() != nil {
			return state
		}
	}

	log.Info().Msg("No candidate confirmed")
	return stateExhausted
}

// triggerOrder selects and orders the candidates for the trigger scan:
// uncached rows only, bundle exclusions removed, complete season packs ahead
// of everything else.
func (e *Engine) triggerOrder(target Target, season string, candidates []session.Candidate) []session.Candidate {
	var packs, rest []session.Candidate
	for _, c := range candidates {
		if c.Cached {
			continue
		}
		if !target.IsTV && c.WithExtras {
			continue
		}
		if target.IsTV && target.Episode == "" && c.SingleEpisode {
			continue
		}
		if !e.matches(target, season, c, e.policy.FullScanThreshold) {
			continue
		}
		if target.IsTV && season != "" && match.MatchesCompleteSeason(c.Title, season) {
			packs = append(packs, c)
			continue
		}
		rest = append(rest, c)
	}
	return append(packs, rest...)
}

// matches applies the title/year/season/episode rules at a threshold.
func (e *Engine) matches(target Target, season string, c session.Candidate, threshold int) bool {
	score := match.SimilarAnyForm(match.CleanTitle(target.Title), match.CleanTitle(c.Title))
	if score < threshold {
		return false
	}

	if target.IsTV {
		if season != "" && !match.MatchesSingleSeason(c.Title, season) {
			return false
		}
		if target.Episode != "" &&
			!strings.Contains(strings.ToLower(c.Title), strings.ToLower(target.Episode)) {
			return false
		}
		return true
	}

	if target.Year != 0 {
		year, ok := match.ExtractYear(c.Title, 0, true)
		if !ok {
			return false
		}
		diff := year - target.Year
		if diff < 0 {
			diff = -diff
		}
		if diff > e.policy.YearTolerance {
			return false
		}
	}
	return true
}

// triggerWithRetry clicks the candidate's trigger, retrying a stale reference
// exactly once.
func (e *Engine) triggerWithRetry(ctx context.Context, c session.Candidate) (session.Status, error) {
	status, err := e.sess.TriggerCache(ctx, c)
	if errors.Is(err, session.ErrStaleCandidate) {
		status, err = e.sess.TriggerCache(ctx, c)
	}
	return status, err
}

// awaitStatus polls the candidate's status until it settles at 100% or the
// bounded wait expires. The last observed status is returned so the caller
// can roll back a lingering 0% trigger.
func (e *Engine) awaitStatus(ctx context.Context, c session.Candidate, status session.Status) session.Status {
	if status == session.StatusConfirmed100Percent || e.policy.PollTimeout <= 0 {
		return status
	}

	deadline := time.Now().Add(e.policy.PollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return status
		case <-time.After(e.policy.PollInterval):
		}

		read, err := e.sess.ReadStatus(ctx, c)
		if errors.Is(err, session.ErrStaleCandidate) {
			read, err = e.sess.ReadStatus(ctx, c)
		}
		if err != nil {
			return status
		}
		status = read
		if status == session.StatusConfirmed100Percent {
			return status
		}
	}
	return status
}
