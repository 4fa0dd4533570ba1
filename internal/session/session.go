// Package session defines the capability surface of the interactive
// availability session: the single shared browser-backed view of Debrid
// Media Manager through which candidates are discovered and caching is
// triggered. The bridge consumes this interface; the concrete driver lives
// outside the core.
package session

import (
	"context"
	"errors"
)

var (
	// ErrStaleCandidate is returned when a candidate's backing element went
	// away between enumeration and interaction. Callers retry once.
	ErrStaleCandidate = errors.New("session: stale candidate reference")

	// ErrNotFound is returned when an expected control is absent. This is a
	// normal branch, not a failure of the session itself.
	ErrNotFound = errors.New("session: element not found")

	// ErrUnavailable is returned when the session has not been initialized
	// or has been torn down.
	ErrUnavailable = errors.New("session: not initialized")
)

// Status is the post-trigger cache state of a candidate.
type Status int

const (
	// StatusUnconfirmed means no cache state could be read for the candidate.
	StatusUnconfirmed Status = iota
	// StatusTriggered0Percent means the trigger registered but nothing is
	// cached; the trigger must be undone before moving on.
	StatusTriggered0Percent
	// StatusConfirmed100Percent means the candidate is fully cached.
	StatusConfirmed100Percent
)

func (s Status) String() string {
	switch s {
	case StatusTriggered0Percent:
		return "triggered-0%"
	case StatusConfirmed100Percent:
		return "confirmed-100%"
	default:
		return "unconfirmed"
	}
}

// Candidate is one listed release for the current page.
type Candidate struct {
	// ID identifies the candidate within the current listing; it is only
	// valid until the next navigation or filter change.
	ID string
	// Title is the raw release title text.
	Title string
	// Cached marks candidates already reported as 100% cached (the red
	// button rows), which can be accepted without triggering anything.
	Cached bool
	// SingleEpisode marks releases flagged as a single-episode rip; these
	// are skipped when a season pack is wanted.
	SingleEpisode bool
	// WithExtras marks releases bundling extras; these are skipped for
	// movie requests.
	WithExtras bool
}

// ListFilter narrows ListCandidates to a subset of the current page.
type ListFilter struct {
	// CachedOnly restricts the listing to already-cached rows.
	CachedOnly bool
}

// Session is the capability surface over the shared interactive session.
// Every method takes a context; implementations are expected to enforce
// their own bounded waits and return rather than hang.
type Session interface {
	// Open navigates the session to the given URL and waits for the
	// listing to settle.
	Open(ctx context.Context, url string) error

	// ListCandidates enumerates the releases visible on the current page.
	ListCandidates(ctx context.Context, filter ListFilter) ([]Candidate, error)

	// TriggerCache clicks the candidate's cache trigger and returns the
	// status observed after a bounded wait.
	TriggerCache(ctx context.Context, c Candidate) (Status, error)

	// ReadStatus re-reads the candidate's current cache status.
	ReadStatus(ctx context.Context, c Candidate) (Status, error)

	// UndoTrigger reverts a trigger that landed at 0%.
	UndoTrigger(ctx context.Context, c Candidate) error

	// SetFilterExpression replaces the listing filter text (the torrent
	// filter box), re-filtering the current page.
	SetFilterExpression(ctx context.Context, text string) error

	// RefreshCredentials installs a new access token into the session.
	RefreshCredentials(ctx context.Context, token string) error

	// Reinitialize tears down and rebuilds the session. Used once per item
	// when the session reports ErrUnavailable.
	Reinitialize(ctx context.Context) error
}
