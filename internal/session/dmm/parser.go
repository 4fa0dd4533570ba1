// Package dmm parses Debrid Media Manager DOM snapshots into candidate
// listings. The interactive driver hands the current page source to
// ParseCandidates after every navigation or filter change; everything here is
// pure parsing, no live DOM access.
package dmm

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mjfcit/SeerrBridge/internal/session"
)

// DMM page structure, as rendered at time of writing:
//   - each release row is a div carrying the "border-black" class
//   - the release title is the row's first <h2>
//   - fully cached rows show a red "RD (100%)" button ("bg-red-900/30"
//     class); "Report" buttons share the styling and must be ignored
//   - single-episode rips carry a span containing "Single"
//   - bundles with extras carry a span containing "With extras"
const (
	rowSelector       = "div.border-black"
	titleSelector     = "h2"
	cachedBtnSelector = "button.cached, button[class*='bg-red-900']"
	markerSelector    = "span"
)

// ParseCandidates extracts the release candidates from a results-page
// snapshot. Row order is preserved; it is the presentation order the
// confirmation engine iterates in.
func ParseCandidates(html string) ([]session.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page snapshot: %w", err)
	}

	var candidates []session.Candidate
	doc.Find(rowSelector).Each(func(i int, row *goquery.Selection) {
		title := strings.TrimSpace(row.Find(titleSelector).First().Text())
		if title == "" {
			return
		}

		c := session.Candidate{
			ID:    rowID(row, i),
			Title: title,
		}

		row.Find(cachedBtnSelector).EachWithBreak(func(_ int, btn *goquery.Selection) bool {
			text := strings.TrimSpace(btn.Text())
			if strings.Contains(text, "Report") {
				return true
			}
			if strings.Contains(text, "RD (100%)") {
				c.Cached = true
				return false
			}
			return true
		})

		row.Find(markerSelector).EachWithBreak(func(_ int, span *goquery.Selection) bool {
			text := span.Text()
			if strings.Contains(text, "Single") {
				c.SingleEpisode = true
			}
			if strings.Contains(text, "With extras") {
				c.WithExtras = true
			}
			return !(c.SingleEpisode && c.WithExtras)
		})

		candidates = append(candidates, c)
	})

	return candidates, nil
}

// rowID prefers the row's data-id attribute and falls back to the positional
// index, which is stable for the lifetime of one listing.
func rowID(row *goquery.Selection, index int) string {
	if id, ok := row.Attr("data-id"); ok && id != "" {
		return id
	}
	return fmt.Sprintf("row-%d", index)
}
