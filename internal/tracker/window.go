package tracker

import (
	"github.com/fankserver/discord-recitation-mcp/pkg/corpus"
	"github.com/fankserver/discord-recitation-mcp/pkg/similarity"
)

// BuildExpectedWords concatenates the words of the verse at pos with up to
// lookahead following verses of the same chapter. It stops at the first
// missing verse and returns nil when pos itself is missing.
func BuildExpectedWords(idx Index, pos corpus.Ref, lookahead int) []string {
	current, ok := idx.Lookup(pos)
	if !ok {
		return nil
	}

	words := make([]string, 0, len(current)*(lookahead+1))
	words = append(words, current...)
	for i := 1; i <= lookahead; i++ {
		next, ok := idx.Lookup(corpus.Ref{Chapter: pos.Chapter, Unit: pos.Unit + i})
		if !ok {
			break
		}
		words = append(words, next...)
	}
	return words
}

// RenderPartial classifies each word of a partial result against the
// expected window. Words past the end of the window are extra.
func RenderPartial(window, partial []string, scorer similarity.Scorer, threshold int) []WordMark {
	marks := make([]WordMark, 0, len(partial))
	for i, word := range partial {
		if i >= len(window) {
			marks = append(marks, WordMark{Word: word, Class: ClassExtra})
			continue
		}
		marks = append(marks, classify(window[i], word, scorer, threshold))
	}
	return marks
}

func classify(expected, recited string, scorer similarity.Scorer, threshold int) WordMark {
	score := scorer.Score(expected, recited)
	mark := WordMark{Word: recited, Expected: expected, Class: ClassMismatch, Score: score}
	if score >= threshold {
		mark.Class = ClassMatch
	}
	return mark
}
