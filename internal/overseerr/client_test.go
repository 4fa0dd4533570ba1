package overseerr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.OverseerrConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 5,
	}, zerolog.Nop())
}

func TestFetchProcessingRequestsFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/request" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("X-Api-Key header = %q", got)
		}
		w.Write([]byte(`{"results":[
			{"id":1,"status":2,"media":{"id":11,"mediaType":"movie","tmdbId":100,"status":3}},
			{"id":2,"status":2,"media":{"id":12,"mediaType":"movie","tmdbId":200,"status":5}},
			{"id":3,"status":1,"media":{"id":13,"mediaType":"tv","tmdbId":300,"status":3}},
			{"id":4,"status":2,"media":{"id":14,"mediaType":"tv","tmdbId":400,"status":3},"seasons":[{"seasonNumber":2}]}
		]}`))
	})

	requests, err := client.FetchProcessingRequests(context.Background())
	if err != nil {
		t.Fatalf("FetchProcessingRequests() error = %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("got %d requests, want 2 (approved + processing only)", len(requests))
	}
	if requests[0].ID != 1 || requests[1].ID != 4 {
		t.Errorf("request ids = [%d %d], want [1 4]", requests[0].ID, requests[1].ID)
	}
	if len(requests[1].Seasons) != 1 || requests[1].Seasons[0].SeasonNumber != 2 {
		t.Errorf("seasons = %+v", requests[1].Seasons)
	}
}

func TestMarkCompleted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/media/11/available" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Write([]byte(`{"id":11,"tmdbId":100,"status":5}`))
	})

	if err := client.MarkCompleted(context.Background(), 11, 100); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
}

func TestMarkCompletedMismatchedEcho(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":11,"tmdbId":999,"status":5}`))
	})

	err := client.MarkCompleted(context.Background(), 11, 100)
	if !errors.Is(err, ErrCompletionMismatch) {
		t.Fatalf("error = %v, want ErrCompletionMismatch", err)
	}
}

func TestNotConfigured(t *testing.T) {
	client := NewClient(config.OverseerrConfig{}, zerolog.Nop())
	if _, err := client.FetchProcessingRequests(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
	if err := client.MarkCompleted(context.Background(), 1, 1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}
