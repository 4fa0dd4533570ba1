package dmm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mjfcit/SeerrBridge/internal/session"
)

// Driver is the minimal control surface an external interactive driver
// exposes: navigation, raw page snapshots, and clicks keyed by candidate id.
// Everything DOM-shaped stays on this side of the boundary.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	PageSource(ctx context.Context) (string, error)
	ClickTrigger(ctx context.Context, candidateID string) error
	TriggerStatusText(ctx context.Context, candidateID string) (string, error)
	ClickUndo(ctx context.Context, candidateID string) error
	SetFilterText(ctx context.Context, text string) error
	SetAccessToken(ctx context.Context, token string) error
	Restart(ctx context.Context) error
}

// SnapshotSession adapts a Driver into the session capability surface,
// parsing candidate listings out of page snapshots with ParseCandidates.
type SnapshotSession struct {
	drv Driver
}

var _ session.Session = (*SnapshotSession)(nil)

// NewSnapshotSession wraps a driver. A nil driver yields a session that
// reports ErrUnavailable until Attach is called.
func NewSnapshotSession(drv Driver) *SnapshotSession {
	return &SnapshotSession{drv: drv}
}

// Attach installs the driver, bringing the session up.
func (s *SnapshotSession) Attach(drv Driver) {
	s.drv = drv
}

func (s *SnapshotSession) Open(ctx context.Context, url string) error {
	if s.drv == nil {
		return session.ErrUnavailable
	}
	return s.drv.Navigate(ctx, url)
}

func (s *SnapshotSession) ListCandidates(ctx context.Context, filter session.ListFilter) ([]session.Candidate, error) {
	if s.drv == nil {
		return nil, session.ErrUnavailable
	}
	src, err := s.drv.PageSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page snapshot: %w", err)
	}
	candidates, err := ParseCandidates(src)
	if err != nil {
		return nil, err
	}
	if !filter.CachedOnly {
		return candidates, nil
	}
	var cached []session.Candidate
	for _, c := range candidates {
		if c.Cached {
			cached = append(cached, c)
		}
	}
	return cached, nil
}

func (s *SnapshotSession) TriggerCache(ctx context.Context, c session.Candidate) (session.Status, error) {
	if s.drv == nil {
		return session.StatusUnconfirmed, session.ErrUnavailable
	}
	if err := s.drv.ClickTrigger(ctx, c.ID); err != nil {
		return session.StatusUnconfirmed, err
	}
	return s.ReadStatus(ctx, c)
}

func (s *SnapshotSession) ReadStatus(ctx context.Context, c session.Candidate) (session.Status, error) {
	if s.drv == nil {
		return session.StatusUnconfirmed, session.ErrUnavailable
	}
	text, err := s.drv.TriggerStatusText(ctx, c.ID)
	if err != nil {
		return session.StatusUnconfirmed, err
	}
	return statusFromText(text), nil
}

func (s *SnapshotSession) UndoTrigger(ctx context.Context, c session.Candidate) error {
	if s.drv == nil {
		return session.ErrUnavailable
	}
	return s.drv.ClickUndo(ctx, c.ID)
}

func (s *SnapshotSession) SetFilterExpression(ctx context.Context, text string) error {
	if s.drv == nil {
		return session.ErrUnavailable
	}
	return s.drv.SetFilterText(ctx, text)
}

func (s *SnapshotSession) RefreshCredentials(ctx context.Context, token string) error {
	if s.drv == nil {
		return session.ErrUnavailable
	}
	return s.drv.SetAccessToken(ctx, token)
}

func (s *SnapshotSession) Reinitialize(ctx context.Context) error {
	if s.drv == nil {
		return session.ErrUnavailable
	}
	return s.drv.Restart(ctx)
}

// statusFromText maps the trigger button's label onto a cache status:
// "RD (100%)" means fully cached, "RD (0%)" means a trigger that landed
// uncached and must be undone.
func statusFromText(text string) session.Status {
	switch {
	case strings.Contains(text, "100%"):
		return session.StatusConfirmed100Percent
	case strings.Contains(text, "0%"):
		return session.StatusTriggered0Percent
	default:
		return session.StatusUnconfirmed
	}
}
