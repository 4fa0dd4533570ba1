package match

import (
	"regexp"
	"strconv"
)

var (
	yearRegex       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	resolutionRegex = regexp.MustCompile(`\b\d{3,4}p\b`)
)

// ExtractYear finds the release year in a title. When expectedYear is
// non-zero it is returned unchanged: a year from the metadata gateway is more
// trustworthy than anything parsed out of a release name ("Wonder Woman
// 1984" would otherwise mislead). With ignoreResolution set, resolution
// tokens like "2160p" are stripped before scanning. When several candidate
// years remain the largest wins, since release names commonly lead with the
// title's own number.
func ExtractYear(text string, expectedYear int, ignoreResolution bool) (int, bool) {
	if expectedYear != 0 {
		return expectedYear, true
	}
	if ignoreResolution {
		text = resolutionRegex.ReplaceAllString(text, "")
	}
	best := 0
	for _, m := range yearRegex.FindAllString(text, -1) {
		if y, err := strconv.Atoi(m); err == nil && y > best {
			best = y
		}
	}
	if best == 0 {
		return 0, false
	}
	return best, true
}
