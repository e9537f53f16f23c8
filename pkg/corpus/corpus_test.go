package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `1|1|a b c
1|2|d e f
not a verse
1|x|bad id
2|1|g h
2|2|i j k|extra
3|1|l`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, c.Chapters())
	assert.Equal(t, 3, c.Skipped())

	words, ok := c.Lookup(Ref{Chapter: 1, Unit: 2})
	require.True(t, ok)
	assert.Equal(t, []string{"d", "e", "f"}, words)

	_, ok = c.Lookup(Ref{Chapter: 2, Unit: 2})
	assert.False(t, ok, "line with four fields must be skipped")
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(strings.NewReader("garbage\n\n1|2\n"))
	assert.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestNextUnit(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	next, ok := c.NextUnit(Ref{Chapter: 1, Unit: 1})
	require.True(t, ok)
	assert.Equal(t, Ref{Chapter: 1, Unit: 2}, next)

	next, ok = c.NextUnit(Ref{Chapter: 1, Unit: 2})
	require.True(t, ok)
	assert.Equal(t, Ref{Chapter: 2, Unit: 1}, next)

	_, ok = c.NextUnit(Ref{Chapter: 3, Unit: 1})
	assert.False(t, ok)
}

func TestNextUnitStopsAtGap(t *testing.T) {
	c, err := Parse(strings.NewReader("1|1|a b
1|3|c d
2|2|e f
"))
	require.NoError(t, err)

	next, ok := c.NextUnit(Ref{Chapter: 1, Unit: 1})
	require.True(t, ok)
	assert.Equal(t, Ref{Chapter: 2, Unit: 1}, next)

	_, exists := c.Lookup(next)
	assert.False(t, exists)
}

func TestNextChapter(t *testing.T) {
	c, err := Parse(strings.NewReader("1|1|a\n5|1|b\n"))
	require.NoError(t, err)

	next, ok := c.NextChapter(1)
	require.True(t, ok)
	assert.Equal(t, 5, next)

	_, ok = c.NextChapter(5)
	assert.False(t, ok)
}

func TestValidateChapter(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.NoError(t, c.ValidateChapter(1))
	assert.NoError(t, c.ValidateChapter(3))
	assert.ErrorIs(t, c.ValidateChapter(0), ErrChapterOutOfRange)
	assert.ErrorIs(t, c.ValidateChapter(4), ErrChapterOutOfRange)
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "2:7", Ref{Chapter: 2, Unit: 7}.String())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.FirstChapter())
	assert.Equal(t, 3, c.LastChapter())

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
