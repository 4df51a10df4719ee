package transcript

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// SpeakingRate is the per-segment pace class.
type SpeakingRate string

const (
	RateSlow   SpeakingRate = "slow"
	RateNormal SpeakingRate = "normal"
	RateFast   SpeakingRate = "fast"
)

// Speaking-rate bands in words per minute.
const (
	slowBelowWpm = 120
	fastAboveWpm = 180
	// Segments shorter than this are too short to classify.
	minRateDurationMs = 100
)

// FillerLexicon is the fixed set of filler words and phrases.
var FillerLexicon = []string{
	"um", "uh", "like", "you know", "basically", "actually", "literally",
	"so", "well", "right", "okay", "er", "ah", "hmm", "i mean",
}

var fillerPattern = compileFillers(FillerLexicon)

var hesitationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(um|uh|er|ah)+\s`),       // leading filler run
	regexp.MustCompile(`(?i)\s(um|uh|er|ah)+\s`),      // embedded filler run
	regexp.MustCompile(`\.{2,}`),                      // trailing off
	regexp.MustCompile(`(?i)^i\s+(mean|think|guess)`), // hedging opener
}

// compileFillers builds one whole-word alternation, longest entries first,
// so multi-word phrases win over any word they start with.
func compileFillers(lexicon []string) *regexp.Regexp {
	entries := append([]string(nil), lexicon...)
	sort.SliceStable(entries, func(i, j int) bool { return len(entries[i]) > len(entries[j]) })

	alts := make([]string, len(entries))
	for i, e := range entries {
		words := strings.Fields(e)
		for k, w := range words {
			words[k] = regexp.QuoteMeta(w)
		}
		alts[i] = strings.Join(words, `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// Words splits text on whitespace, dropping empty tokens.
func Words(text string) []string {
	return strings.Fields(text)
}

// Fillers returns the filler occurrences in text, case preserved.
// Matches are leftmost and non-overlapping.
func Fillers(text string) []string {
	return fillerPattern.FindAllString(text, -1)
}

// IsHesitation reports whether text matches any hesitation pattern.
func IsHesitation(text string) bool {
	for _, p := range hesitationPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// ClassifyRate classifies words spoken over durationMs.
func ClassifyRate(words int, durationMs int64) SpeakingRate {
	if durationMs < minRateDurationMs {
		return RateNormal
	}
	wpm := float64(words) / float64(durationMs) * 60000
	switch {
	case wpm < slowBelowWpm:
		return RateSlow
	case wpm > fastAboveWpm:
		return RateFast
	default:
		return RateNormal
	}
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
