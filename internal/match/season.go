package match

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	seasonTokenRegex = regexp.MustCompile(`[sS](\d{1,2})`)

	// seasonMentionRegex finds every season a release title names, in either
	// token form ("S02", "s2e01") or spelled out ("Season 2").
	seasonMentionRegex = regexp.MustCompile(`(?i)\bs(\d{1,2})(?:e\d{1,3})?\b|\bseason[\s.]*(\d{1,2})\b`)
)

// NormalizeSeason converts free-form season tokens ("S01", "s1", "Season 1")
// to the canonical "Season N" form. Unrecognized input is passed through as
// "Season <input>" so the result is stable under repeated normalization.
func NormalizeSeason(season string) string {
	s := strings.ToLower(strings.TrimSpace(season))
	if rest, ok := strings.CutPrefix(s, "season"); ok {
		rest = strings.TrimSpace(rest)
		if n, err := strconv.Atoi(rest); err == nil {
			return fmt.Sprintf("Season %d", n)
		}
		// Already carries the prefix; keep the remainder so repeated
		// normalization is a no-op.
		return "Season " + rest
	}
	if rest, ok := strings.CutPrefix(s, "s"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return fmt.Sprintf("Season %d", n)
		}
	}
	return fmt.Sprintf("Season %s", strings.TrimSpace(season))
}

// SeasonNumber extracts the numeric part of a canonical "Season N" string.
func SeasonNumber(normalized string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToLower(normalized), "season")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractSeason returns the first SNN season token found in a release title
// ("naruto.s01.bdrip" -> 1).
func ExtractSeason(title string) (int, bool) {
	m := seasonTokenRegex.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// EpisodeID formats an episode number as the canonical zero-padded id
// ("E01".."E99").
func EpisodeID(n int) string {
	return fmt.Sprintf("E%02d", n)
}

// ParseEpisodeID is the inverse of EpisodeID.
func ParseEpisodeID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(id)), "E")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// SeasonsMentioned lists every season number the title names, in order of
// appearance.
func SeasonsMentioned(title string) []int {
	var out []int
	for _, m := range seasonMentionRegex.FindAllStringSubmatch(title, -1) {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		if n, err := strconv.Atoi(digits); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// MatchesSingleSeason reports whether a release title names exactly the
// requested season and no other. A release spanning several seasons must not
// satisfy a single-season request.
func MatchesSingleSeason(title, season string) bool {
	want, ok := SeasonNumber(NormalizeSeason(season))
	if !ok {
		return false
	}
	found := false
	for _, n := range SeasonsMentioned(title) {
		if n != want {
			return false
		}
		found = true
	}
	return found
}

// MatchesCompleteSeason reports whether the title advertises a complete pack
// for the requested season ("Complete Season 2", "complete.s02").
func MatchesCompleteSeason(title, season string) bool {
	if !strings.Contains(strings.ToLower(title), "complete") {
		return false
	}
	return MatchesSingleSeason(title, season)
}
