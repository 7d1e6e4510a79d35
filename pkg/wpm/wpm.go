// Package wpm computes per-speaker speaking rate from diarized utterances.
// Everything here is pure: no I/O, no clocks, no globals.
package wpm

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// stripPunctuation returns a fresh transformer; transform.Chain keeps state
// and must not be shared between goroutines.
func stripPunctuation() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.P)), norm.NFC)
}

// CountWords splits text on whitespace and counts the tokens that are still
// non-empty once punctuation is removed, so "hello , world !" counts 2.
func CountWords(text string) int {
	t := stripPunctuation()
	count := 0
	for _, tok := range strings.Fields(text) {
		t.Reset()
		cleaned, _, err := transform.String(t, tok)
		if err != nil {
			cleaned = tok
		}
		if cleaned != "" {
			count++
		}
	}
	return count
}

// Rate converts a word count over a duration into whole words per minute.
// A non-positive duration yields 0.
func Rate(words int, durationMs int64) int {
	if durationMs <= 0 {
		return 0
	}
	minutes := float64(durationMs) / 1000 / 60
	return int(math.Round(float64(words) / minutes))
}

type tally struct {
	label      string
	words      int
	durationMs int64
}

// Calculate groups utterances by speaker label and returns one SpeakerWPM per
// distinct non-nil label, in order of first appearance. Utterances without a
// speaker are ignored.
func Calculate(utterances []jobs.Utterance) []jobs.SpeakerWPM {
	order := make([]string, 0)
	byLabel := make(map[string]*tally)

	for _, u := range utterances {
		if u.Speaker == nil {
			continue
		}
		label := *u.Speaker
		t, ok := byLabel[label]
		if !ok {
			t = &tally{label: label}
			byLabel[label] = t
			order = append(order, label)
		}
		t.words += CountWords(u.Text)
		t.durationMs += u.DurationMs()
	}

	result := make([]jobs.SpeakerWPM, 0, len(order))
	for _, label := range order {
		t := byLabel[label]
		result = append(result, jobs.SpeakerWPM{
			ID:            jobs.SpeakerIDFor(label),
			Label:         label,
			AvgWPM:        Rate(t.words, t.durationMs),
			WordCount:     t.words,
			TotalDuration: float64(t.durationMs) / 1000,
		})
	}
	return result
}
