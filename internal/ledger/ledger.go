// Package ledger persists episode discrepancies as a single JSON document.
// An entry records a TV season whose schedule had gaps at request time; the
// recheck job drains entries as episodes air and confirm.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	readRetries    = 3
	readRetryDelay = 100 * time.Millisecond
)

// Schedule is the known airing state of one season.
type Schedule struct {
	EpisodeCount  int `json:"episode_count"`
	AiredEpisodes int `json:"aired_episodes"`
}

// Entry is one tracked season with missing or unconfirmed episodes. Entries
// are keyed by (ShowTitle, SeasonNumber) and are never auto-deleted; a fully
// caught-up season keeps its entry with an empty FailedEpisodes list.
type Entry struct {
	ShowTitle      string    `json:"show_title"`
	ShowID         int64     `json:"show_id"`
	ExternalID     int64     `json:"external_id"`
	SeerrRequestID int64     `json:"seerr_request_id"`
	SeasonNumber   int       `json:"season_number"`
	SeasonSchedule Schedule  `json:"season_schedule"`
	FailedEpisodes []string  `json:"failed_episodes"`
	Timestamp      time.Time `json:"timestamp"`
}

// Key identifies an entry.
type Key struct {
	ShowTitle    string
	SeasonNumber int
}

// Key returns the entry's identity.
func (e Entry) Key() Key {
	return Key{ShowTitle: e.ShowTitle, SeasonNumber: e.SeasonNumber}
}

// document is the on-disk shape.
type document struct {
	Discrepancies []Entry `json:"discrepancies"`
}

// Store owns the ledger file. All mutations go through Update, which runs the
// caller's whole read-modify-write as one critical section; the enqueue path
// and the recheck job share the same Store instance.
type Store struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

// NewStore creates a store for the given file path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Load reads the current document. A missing file yields an empty ledger.
// Transient parse failures (a writer mid-rename on some filesystems, manual
// edits) are retried a few times before surfacing.
func (s *Store) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() ([]Entry, error) {
	var lastErr error
	for attempt := 0; attempt < readRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(readRetryDelay)
		}

		data, err := os.ReadFile(s.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			lastErr = err
			continue
		}

		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Ledger file unreadable, retrying")
			lastErr = err
			continue
		}
		return doc.Discrepancies, nil
	}
	return nil, fmt.Errorf("failed to load ledger %s: %w", s.path, lastErr)
}

// Save atomically replaces the whole document. Last writer wins; callers
// needing multi-step updates use Update instead.
func (s *Store) Save(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(entries)
}

func (s *Store) saveLocked(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(document{Discrepancies: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close ledger file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

// Update loads the document, hands it to fn, and saves whatever fn returns,
// all under the store lock, so concurrent writers cannot lose each other's
// changes.
func (s *Store) Update(fn func(entries []Entry) []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked()
	if err != nil {
		return err
	}
	return s.saveLocked(fn(entries))
}

// Upsert inserts a new entry. A duplicate key is logged and dropped; the
// existing entry always wins.
func (s *Store) Upsert(entry Entry) error {
	return s.Update(func(entries []Entry) []Entry {
		for _, existing := range entries {
			if existing.Key() == entry.Key() {
				s.logger.Info().
					Str("show", entry.ShowTitle).
					Int("season", entry.SeasonNumber).
					Msg("Discrepancy already tracked, keeping existing entry")
				return entries
			}
		}
		s.logger.Info().
			Str("show", entry.ShowTitle).
			Int("season", entry.SeasonNumber).
			Int("aired", entry.SeasonSchedule.AiredEpisodes).
			Int("total", entry.SeasonSchedule.EpisodeCount).
			Msg("Tracking new episode discrepancy")
		return append(entries, entry)
	})
}

// FindByKey returns the entry for a show and season, if tracked.
func (s *Store) FindByKey(showTitle string, seasonNumber int) (Entry, bool, error) {
	entries, err := s.Load()
	if err != nil {
		return Entry{}, false, err
	}
	want := Key{ShowTitle: showTitle, SeasonNumber: seasonNumber}
	for _, e := range entries {
		if e.Key() == want {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}
