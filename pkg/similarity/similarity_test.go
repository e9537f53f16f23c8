package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatio(t *testing.T) {
	r := Ratio{}

	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "hello", "hello", 100},
		{"both empty", "", "", 100},
		{"one empty", "abc", "", 0},
		{"one substitution", "abc", "abd", 67},
		{"disjoint", "abc", "xyz", 0},
		{"prefix", "kitab", "kit", 75},
		{"arabic identical", "ٱلرَّحْمَٰنِ", "ٱلرَّحْمَٰنِ", 100},
		{"arabic one rune off", "الرحمن", "الرحمان", 92},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Score(tt.a, tt.b))
			assert.Equal(t, tt.want, r.Score(tt.b, tt.a), "ratio must be symmetric")
		})
	}
}

func TestRatioMonotonic(t *testing.T) {
	r := Ratio{}
	base := "recitation"
	prev := r.Score(base, base)
	for _, variant := range []string{"recitatio", "recitati", "recitat", "recita", "recit"} {
		s := r.Score(base, variant)
		assert.LessOrEqual(t, s, prev, variant)
		prev = s
	}
}

func TestJaroWinkler(t *testing.T) {
	jw := JaroWinkler{}
	assert.Equal(t, 100, jw.Score("martha", "martha"))
	assert.Equal(t, 0, jw.Score("martha", ""))
	s := jw.Score("martha", "marhta")
	assert.Greater(t, s, 90)
	assert.Less(t, s, 100)
}

func TestNew(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.IsType(t, Ratio{}, s)

	s, err = New("Jaro-Winkler")
	require.NoError(t, err)
	assert.IsType(t, JaroWinkler{}, s)

	_, err = New("soundex")
	assert.Error(t, err)
}

func TestScorerFunc(t *testing.T) {
	var s Scorer = ScorerFunc(func(a, b string) int { return len(a) + len(b) })
	assert.Equal(t, 5, s.Score("ab", "cde"))
}
