package tracker

import (
	"slices"

	"github.com/fankserver/discord-recitation-mcp/pkg/corpus"
	"github.com/fankserver/discord-recitation-mcp/pkg/similarity"
)

// Jump is the best backward match found by DetectJump
type Jump struct {
	Start    corpus.Ref
	End      corpus.Ref
	Next     corpus.Ref
	Accuracy float64
	// Remaining is the buffer after the matched window
	Remaining []string

	correct int
	total   int
}

// span is a run of consecutive verses [start, end] in one chapter
type span struct {
	start, end int
}

// jumpSpans enumerates candidate runs strictly before current, longest first
// and, within one length, nearest to current first.
func jumpSpans(current, maxLen int) []span {
	var spans []span
	for length := maxLen; length >= 1; length-- {
		for start := current - 1; start >= 1; start-- {
			end := start + length - 1
			if end >= current {
				continue
			}
			spans = append(spans, span{start: start, end: end})
		}
	}
	return spans
}

// DetectJump searches the verses before pos for a run the reciter has gone
// back to. Every window of buffered that scores at least cfg.JumpThreshold
// against a run is a candidate; the most accurate candidate wins and ties go
// to the run that starts earliest.
//
// Two kinds of window are ignored: a verbatim copy of the run at a non-zero
// offset, and a window that is identical to the closing words of any earlier
// verse without being identical to the run itself.
func DetectJump(idx Index, pos corpus.Ref, buffered []string, scorer similarity.Scorer, cfg Config) (Jump, bool) {
	if cfg.MaxJumpSequence <= 0 || pos.Unit <= 1 || len(buffered) == 0 {
		return Jump{}, false
	}

	priors := priorVerses(idx, pos)

	var best *Jump
	for _, sp := range jumpSpans(pos.Unit, cfg.MaxJumpSequence) {
		sequence, ok := sequenceWords(idx, pos.Chapter, sp)
		if !ok || len(sequence) > len(buffered) {
			continue
		}

		for i := 0; i+len(sequence) <= len(buffered); i++ {
			candidate := buffered[i : i+len(sequence)]
			exact := slices.Equal(candidate, sequence)
			if i > 0 && exact {
				continue
			}

			correct := countCorrect(sequence, candidate, scorer, cfg.WordThreshold)
			if !meets(correct, len(sequence), cfg.JumpThreshold) {
				continue
			}
			if !exact && closesAnyVerse(priors, candidate) {
				continue
			}

			found := Jump{
				Start:     corpus.Ref{Chapter: pos.Chapter, Unit: sp.start},
				End:       corpus.Ref{Chapter: pos.Chapter, Unit: sp.end},
				Next:      corpus.Ref{Chapter: pos.Chapter, Unit: sp.end + 1},
				Accuracy:  percent(correct, len(sequence)),
				Remaining: clone(buffered[i+len(sequence):]),
				correct:   correct,
				total:     len(sequence),
			}
			if best == nil || better(found, *best) {
				best = &found
			}
		}
	}

	if best == nil {
		return Jump{}, false
	}
	return *best, true
}

// better reports whether a beats b: higher accuracy, then earlier start
func better(a, b Jump) bool {
	lhs, rhs := a.correct*b.total, b.correct*a.total
	if lhs != rhs {
		return lhs > rhs
	}
	return a.Start.Unit < b.Start.Unit
}

func sequenceWords(idx Index, chapter int, sp span) ([]string, bool) {
	var words []string
	for unit := sp.start; unit <= sp.end; unit++ {
		verse, ok := idx.Lookup(corpus.Ref{Chapter: chapter, Unit: unit})
		if !ok {
			return nil, false
		}
		words = append(words, verse...)
	}
	return words, true
}

// priorVerses returns the words of every existing verse before pos
func priorVerses(idx Index, pos corpus.Ref) [][]string {
	var verses [][]string
	for unit := 1; unit < pos.Unit; unit++ {
		if words, ok := idx.Lookup(corpus.Ref{Chapter: pos.Chapter, Unit: unit}); ok {
			verses = append(verses, words)
		}
	}
	return verses
}

func closesAnyVerse(verses [][]string, candidate []string) bool {
	for _, words := range verses {
		if len(words) >= len(candidate) && slices.Equal(words[len(words)-len(candidate):], candidate) {
			return true
		}
	}
	return false
}
