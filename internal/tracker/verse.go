package tracker

import (
	"github.com/fankserver/discord-recitation-mcp/pkg/similarity"
)

// VerseResult is the decision of CheckVerse. It does not mutate anything;
// the Tracker applies it.
type VerseResult struct {
	Outcome  Outcome
	Accuracy float64
	Correct  int
	// Recited is the prefix of the buffer that was scored
	Recited []string
	// Consumed is the number of buffered words used up by an advance
	Consumed int
	// Remaining is the buffer after applying the outcome
	Remaining []string
	Words     []WordMark
}

// CheckVerse scores the head of buffered against the words of one verse.
//
// A buffer shorter than the verse yields OutcomeWait. Otherwise the first
// len(expected) words are scored position by position; the verse advances
// when the share of words at or above cfg.WordThreshold reaches
// cfg.VerseThreshold, consuming exactly len(expected) words. A failed verse
// yields OutcomeRetry with an empty Remaining buffer.
func CheckVerse(expected, buffered []string, scorer similarity.Scorer, cfg Config) VerseResult {
	n := len(expected)
	if len(buffered) < n {
		return VerseResult{Outcome: OutcomeWait, Remaining: buffered}
	}
	if n == 0 {
		return VerseResult{Outcome: OutcomeAdvance, Accuracy: 100, Remaining: clone(buffered)}
	}

	candidate := buffered[:n]
	correct := countCorrect(expected, candidate, scorer, cfg.WordThreshold)

	res := VerseResult{
		Accuracy: percent(correct, n),
		Correct:  correct,
		Recited:  clone(candidate),
		Words:    CompareWords(expected, candidate, scorer, cfg.WordThreshold),
	}

	if meets(correct, n, cfg.VerseThreshold) {
		res.Outcome = OutcomeAdvance
		res.Consumed = n
		res.Remaining = clone(buffered[n:])
		return res
	}

	res.Outcome = OutcomeRetry
	res.Remaining = []string{}
	return res
}

// CompareWords classifies every position of expected against recited.
// Positions with no expected word are extra, positions with no recited word
// are missing.
func CompareWords(expected, recited []string, scorer similarity.Scorer, threshold int) []WordMark {
	n := max(len(expected), len(recited))
	marks := make([]WordMark, 0, n)
	for i := 0; i < n; i++ {
		switch {
		case i >= len(expected):
			marks = append(marks, WordMark{Word: recited[i], Class: ClassExtra})
		case i >= len(recited):
			marks = append(marks, WordMark{Word: expected[i], Expected: expected[i], Class: ClassMissing})
		default:
			marks = append(marks, classify(expected[i], recited[i], scorer, threshold))
		}
	}
	return marks
}

func countCorrect(expected, candidate []string, scorer similarity.Scorer, threshold int) int {
	correct := 0
	for i := range expected {
		if scorer.Score(expected[i], candidate[i]) >= threshold {
			correct++
		}
	}
	return correct
}

// meets reports correct/total*100 >= threshold without floating point
func meets(correct, total, threshold int) bool {
	return correct*100 >= threshold*total
}

func percent(correct, total int) float64 {
	return float64(correct) / float64(total) * 100
}

func clone(words []string) []string {
	out := make([]string, len(words))
	copy(out, words)
	return out
}
