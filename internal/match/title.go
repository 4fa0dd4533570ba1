// Package match provides title, season, and year matching utilities used to
// decide whether a scraped release candidate corresponds to a requested item.
package match

import (
	"regexp"
	"strconv"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

var (
	punctuationRegex = regexp.MustCompile(`[,:;'-]`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	seasonEpRegex    = regexp.MustCompile(`(?i)S\d+E\d+`)
	digitWordRegex   = regexp.MustCompile(`\b\d+\b`)
)

// CleanTitle produces the canonical comparison form of a title: the text
// before any SxxEyy tail, with `,:;'-` stripped, whitespace collapsed to
// single dots, lowercased. Release names use dots as separators, so the
// cleaned form lines up with scraped titles.
func CleanTitle(title string) string {
	main := title
	if loc := seasonEpRegex.FindStringIndex(title); loc != nil {
		main = strings.TrimSpace(title[:loc[0]])
	}
	cleaned := punctuationRegex.ReplaceAllString(main, "")
	cleaned = whitespaceRegex.ReplaceAllString(strings.TrimSpace(cleaned), ".")
	return strings.ToLower(cleaned)
}

// NormalizeTitle produces the display comparison form: smart punctuation
// folded to ASCII, dots treated as spaces, whitespace collapsed, lowercased.
func NormalizeTitle(title string) string {
	normalized := strings.ReplaceAll(title, "…", "...")
	normalized = strings.ReplaceAll(normalized, "’", "'")
	normalized = strings.ReplaceAll(normalized, ".", " ")
	normalized = whitespaceRegex.ReplaceAllString(normalized, " ")
	return strings.ToLower(strings.TrimSpace(normalized))
}

// BaseTitle strips a trailing "(Year)" annotation, returning the bare title.
func BaseTitle(title string) string {
	if idx := strings.Index(title, "("); idx > 0 {
		return strings.TrimSpace(title[:idx])
	}
	return strings.TrimSpace(title)
}

// Similarity returns a partial-ratio fuzzy similarity in [0,100]. Partial
// ratio aligns the shorter string against substrings of the longer one, so a
// release title with resolution/codec noise still scores high against the
// bare request title.
func Similarity(a, b string) int {
	return fuzzy.PartialRatio(strings.ToLower(a), strings.ToLower(b))
}

var numberWords = [...]string{
	"zero", "one", "two", "three", "four",
	"five", "six", "seven", "eight", "nine",
	"ten", "eleven", "twelve", "thirteen", "fourteen",
	"fifteen", "sixteen", "seventeen", "eighteen", "nineteen", "twenty",
}

// DigitsToWords replaces small standalone numbers with their word form
// ("3" -> "three") so "Se7en Part 2" and "Se7en Part Two" compare equal.
// Numbers above twenty are left alone.
func DigitsToWords(title string) string {
	return digitWordRegex.ReplaceAllStringFunc(title, func(s string) string {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n >= len(numberWords) {
			return s
		}
		return numberWords[n]
	})
}

var wordDigitRegexes = func() map[*regexp.Regexp]string {
	m := make(map[*regexp.Regexp]string, len(numberWords))
	for i, word := range numberWords {
		m[regexp.MustCompile(`(?i)\b`+word+`\b`)] = strconv.Itoa(i)
	}
	return m
}()

// WordsToDigits is the inverse of DigitsToWords.
func WordsToDigits(title string) string {
	result := title
	for re, digit := range wordDigitRegexes {
		result = re.ReplaceAllString(result, digit)
	}
	return result
}

// SimilarAnyForm compares two titles under the plain, digits-to-words, and
// words-to-digits foldings and returns the best partial-ratio score.
func SimilarAnyForm(a, b string) int {
	best := Similarity(a, b)
	if s := Similarity(DigitsToWords(a), DigitsToWords(b)); s > best {
		best = s
	}
	if s := Similarity(WordsToDigits(a), WordsToDigits(b)); s > best {
		best = s
	}
	return best
}
