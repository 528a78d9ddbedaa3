// ABOUTME: In-process fallbacks used when no remote pipeline is configured.
// ABOUTME: A fixed-reply answerer and a word-overlap scorer.

package rag

import (
	"context"
	"strings"
	"unicode"
)

// Static always replies with the same text.
type Static struct {
	Reply string
}

// Answer returns the configured reply, or the apology if none is set.
func (s Static) Answer(ctx context.Context, req Request) string {
	if s.Reply == "" {
		return DefaultApology
	}
	return s.Reply
}

// OverlapScorer rates relatedness as the Jaccard index of the two word sets.
type OverlapScorer struct{}

// Score never fails.
func (OverlapScorer) Score(ctx context.Context, a, b string) (float64, error) {
	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0, nil
	}
	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	union := len(wa) + len(wb) - shared
	return float64(shared) / float64(union), nil
}

func words(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		out[w] = true
	}
	return out
}
