package dmm

import "testing"

const samplePage = `
<html><body>
  <div class="border-black" data-id="abc123">
    <h2>Dune 2021 2160p</h2>
    <button class="bg-red-900/30 px-2">RD (100%)</button>
    <button class="bg-red-900/30 px-2">Report</button>
  </div>
  <div class="border-black">
    <h2>Dune 2021 1080p WEB-DL</h2>
    <button class="bg-green-900/30 px-2">Instant RD</button>
  </div>
  <div class="border-black">
    <h2>Show.S02E01.1080p</h2>
    <span class="badge">Single</span>
    <button class="bg-green-900/30 px-2">Instant RD</button>
  </div>
  <div class="border-black">
    <h2>Dune 2021 Remux</h2>
    <span>With extras</span>
  </div>
  <div class="border-black"><p>no title row</p></div>
</body></html>`

func TestParseCandidates(t *testing.T) {
	candidates, err := ParseCandidates(samplePage)
	if err != nil {
		t.Fatalf("ParseCandidates() error = %v", err)
	}

	if len(candidates) != 4 {
		t.Fatalf("ParseCandidates() returned %d candidates, want 4", len(candidates))
	}

	first := candidates[0]
	if first.ID != "abc123" {
		t.Errorf("first.ID = %q, want %q", first.ID, "abc123")
	}
	if first.Title != "Dune 2021 2160p" {
		t.Errorf("first.Title = %q", first.Title)
	}
	if !first.Cached {
		t.Error("first candidate should be cached (RD 100% button present)")
	}

	second := candidates[1]
	if second.Cached {
		t.Error("second candidate must not be cached")
	}
	if second.ID != "row-1" {
		t.Errorf("second.ID = %q, want positional fallback row-1", second.ID)
	}

	if !candidates[2].SingleEpisode {
		t.Error("third candidate should carry the single-episode marker")
	}
	if !candidates[3].WithExtras {
		t.Error("fourth candidate should carry the with-extras marker")
	}
}

func TestParseCandidatesReportButtonIgnored(t *testing.T) {
	page := `<div class="border-black"><h2>Some Show S01</h2>
	  <button class="bg-red-900/30">Report</button></div>`

	candidates, err := ParseCandidates(page)
	if err != nil {
		t.Fatalf("ParseCandidates() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Cached {
		t.Error("a lone Report button must not mark the row cached")
	}
}

func TestParseCandidatesEmptyPage(t *testing.T) {
	candidates, err := ParseCandidates("<html><body></body></html>")
	if err != nil {
		t.Fatalf("ParseCandidates() error = %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("got %d candidates from empty page, want 0", len(candidates))
	}
}
