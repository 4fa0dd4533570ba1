// Package mock provides a scripted in-memory session for tests.
package mock

import (
	"context"
	"sync"

	"github.com/mjfcit/SeerrBridge/internal/session"
)

// Session implements session.Session against scripted page data. Tests load
// pages with SetPage, script per-candidate trigger outcomes, and inspect the
// recorded call log afterwards.
type Session struct {
	mu sync.Mutex

	pages      map[string][]session.Candidate
	currentURL string

	// triggerResults maps candidate ID to the sequence of statuses returned
	// by successive TriggerCache calls. When exhausted, the last entry
	// repeats.
	triggerResults map[string][]session.Status

	// staleOnce marks candidate IDs whose first interaction returns
	// ErrStaleCandidate; the retry succeeds.
	staleOnce map[string]bool

	// filterMatches optionally restricts the visible candidates for a given
	// filter expression. A missing entry means the filter hides everything.
	filterMatches map[string][]session.Candidate
	activeFilter  string

	unavailable  bool
	reinitBroken bool

	// Call log.
	Opens         []string
	Triggers      []string
	Undos         []string
	StatusReads   []string
	Filters       []string
	Tokens        []string
	Reinitialized int
	TriggerCalls  int
	Listings      int
}

var _ session.Session = (*Session)(nil)

// New returns an empty scripted session.
func New() *Session {
	return &Session{
		pages:          make(map[string][]session.Candidate),
		triggerResults: make(map[string][]session.Status),
		staleOnce:      make(map[string]bool),
		filterMatches:  make(map[string][]session.Candidate),
	}
}

// SetPage registers the candidate listing served for a URL.
func (s *Session) SetPage(url string, candidates []session.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = candidates
}

// ScriptTrigger sets the status sequence returned for a candidate's
// TriggerCache calls.
func (s *Session) ScriptTrigger(id string, statuses ...session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggerResults[id] = statuses
}

// ScriptStaleOnce makes the candidate's next interaction fail with
// ErrStaleCandidate exactly once.
func (s *Session) ScriptStaleOnce(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleOnce[id] = true
}

// ScriptFilter registers the candidates visible once the given filter
// expression is applied.
func (s *Session) ScriptFilter(expr string, candidates []session.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterMatches[expr] = candidates
}

// SetUnavailable forces every call to fail with ErrUnavailable until
// Reinitialize is invoked.
func (s *Session) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// SetReinitBroken makes Reinitialize fail too, keeping the session down.
func (s *Session) SetReinitBroken(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reinitBroken = v
}

func (s *Session) Open(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return session.ErrUnavailable
	}
	s.Opens = append(s.Opens, url)
	s.currentURL = url
	s.activeFilter = ""
	return nil
}

func (s *Session) ListCandidates(_ context.Context, filter session.ListFilter) ([]session.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, session.ErrUnavailable
	}
	s.Listings++

	var listing []session.Candidate
	if s.activeFilter != "" {
		listing = s.filterMatches[s.activeFilter]
	} else {
		listing = s.pages[s.currentURL]
	}

	if !filter.CachedOnly {
		return append([]session.Candidate(nil), listing...), nil
	}
	var cached []session.Candidate
	for _, c := range listing {
		if c.Cached {
			cached = append(cached, c)
		}
	}
	return cached, nil
}

func (s *Session) TriggerCache(_ context.Context, c session.Candidate) (session.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return session.StatusUnconfirmed, session.ErrUnavailable
	}
	if s.staleOnce[c.ID] {
		s.staleOnce[c.ID] = false
		return session.StatusUnconfirmed, session.ErrStaleCandidate
	}
	s.Triggers = append(s.Triggers, c.ID)
	s.TriggerCalls++

	seq, ok := s.triggerResults[c.ID]
	if !ok || len(seq) == 0 {
		return session.StatusUnconfirmed, nil
	}
	status := seq[0]
	if len(seq) > 1 {
		s.triggerResults[c.ID] = seq[1:]
	}
	return status, nil
}

func (s *Session) ReadStatus(_ context.Context, c session.Candidate) (session.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return session.StatusUnconfirmed, session.ErrUnavailable
	}
	s.StatusReads = append(s.StatusReads, c.ID)

	seq, ok := s.triggerResults[c.ID]
	if !ok || len(seq) == 0 {
		return session.StatusUnconfirmed, nil
	}
	return seq[0], nil
}

func (s *Session) UndoTrigger(_ context.Context, c session.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return session.ErrUnavailable
	}
	s.Undos = append(s.Undos, c.ID)
	return nil
}

func (s *Session) SetFilterExpression(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return session.ErrUnavailable
	}
	s.Filters = append(s.Filters, text)
	s.activeFilter = text
	return nil
}

func (s *Session) RefreshCredentials(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return session.ErrUnavailable
	}
	s.Tokens = append(s.Tokens, token)
	return nil
}

func (s *Session) Reinitialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reinitialized++
	if s.reinitBroken {
		return session.ErrUnavailable
	}
	s.unavailable = false
	return nil
}
