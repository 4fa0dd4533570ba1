package trakt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.TraktConfig{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		Timeout:           5,
		RateLimit:         1000,
		RateWindowMinutes: 5,
	}
	return NewClient(cfg, zerolog.Nop()), srv
}

func TestResolveMovie(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/tmdb/438631" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("trakt-api-key"); got != "test-key" {
			t.Errorf("trakt-api-key header = %q", got)
		}
		if got := r.URL.Query().Get("type"); got != "movie" {
			t.Errorf("type query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"type":"movie","movie":{"title":"Dune","year":2021,"ids":{"trakt":12345,"imdb":"tt1160419"}}}]`))
	})

	item, err := client.ResolveMovie(context.Background(), 438631)
	if err != nil {
		t.Fatalf("ResolveMovie() error = %v", err)
	}
	if item.Title != "Dune" || item.Year != 2021 {
		t.Errorf("item = %+v", item)
	}
	if item.TraktID != 12345 {
		t.Errorf("item.TraktID = %d, want 12345", item.TraktID)
	}
}

func TestResolveShowEmptyResult(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})

	if _, err := client.ResolveShow(context.Background(), 999); err == nil {
		t.Fatal("expected error for empty search result")
	}
}

func TestSeasonSchedule(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shows/42/seasons/2/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"episode_count":10,"aired_episodes":6}`))
	})

	schedule, err := client.SeasonSchedule(context.Background(), 42, 2)
	if err != nil {
		t.Fatalf("SeasonSchedule() error = %v", err)
	}
	if schedule.EpisodeCount != 10 || schedule.AiredEpisodes != 6 {
		t.Errorf("schedule = %+v", schedule)
	}
}

func TestHasEpisodeAired(t *testing.T) {
	aired := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"aired yesterday", http.StatusOK, `{"first_aired":"` + aired + `"}`, true},
		{"airs tomorrow", http.StatusOK, `{"first_aired":"` + future + `"}`, false},
		{"no air date", http.StatusOK, `{"first_aired":null}`, false},
		{"unknown episode", http.StatusNotFound, ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			got, err := client.HasEpisodeAired(context.Background(), 42, 2, 7)
			if err != nil {
				t.Fatalf("HasEpisodeAired() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("HasEpisodeAired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := NewClient(config.TraktConfig{BaseURL: "http://unused"}, zerolog.Nop())
	if _, err := client.ResolveMovie(context.Background(), 1); err != ErrAPIKeyMissing {
		t.Errorf("error = %v, want ErrAPIKeyMissing", err)
	}
}

func TestThrottleCountsCalls(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Write([]byte(`{"episode_count":1,"aired_episodes":1}`))
	})
	// Tight budget: third call in the window must wait, so keep to two.
	client.config.RateLimit = 2
	client.config.RateWindowMinutes = 1

	for i := 0; i < 2; i++ {
		if _, err := client.SeasonSchedule(context.Background(), 1, 1); err != nil {
			t.Fatalf("SeasonSchedule() error = %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2", calls)
	}

	// The third call should block until cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.SeasonSchedule(ctx, 1, 1); err == nil {
		t.Fatal("expected throttled call to fail on context timeout")
	}
	if calls != 2 {
		t.Errorf("throttled call must not reach the server, saw %d calls", calls)
	}
}
