// Package similarity scores pairs of recognized words on a 0-100 scale.
//
// Scores are symmetric, 100 for identical strings and never increase as the
// edit distance between the inputs grows. The default Ratio scorer is the
// classic fuzzy "ratio": twice the longest common subsequence over the total
// length, counted in runes so non-Latin scripts score correctly.
package similarity

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Scorer compares two words
type Scorer interface {
	Score(a, b string) int
}

// ScorerFunc adapts a plain function to the Scorer interface
type ScorerFunc func(a, b string) int

// Score calls f(a, b)
func (f ScorerFunc) Score(a, b string) int {
	return f(a, b)
}

// Ratio is the default scorer
type Ratio struct{}

// Score returns round(100 * 2*LCS / (len(a)+len(b)))
func (Ratio) Score(a, b string) int {
	if a == b {
		return 100
	}
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if a == "" || b == "" || total == 0 {
		return 0
	}
	lcs := matchr.LongestCommonSubsequence(a, b)
	return int(math.Round(100 * float64(2*lcs) / float64(total)))
}

// JaroWinkler scores with the Jaro-Winkler similarity, which rewards shared
// prefixes more than Ratio does.
type JaroWinkler struct{}

// Score returns round(100 * jaroWinkler(a, b))
func (JaroWinkler) Score(a, b string) int {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	return int(math.Round(100 * matchr.JaroWinkler(a, b, false)))
}

// New returns the scorer registered under name
func New(name string) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ratio":
		return Ratio{}, nil
	case "jarowinkler", "jaro-winkler":
		return JaroWinkler{}, nil
	default:
		return nil, fmt.Errorf("unknown similarity scorer %q", name)
	}
}
