package tracker

import (
	"strings"
	"testing"

	"github.com/fankserver/discord-recitation-mcp/pkg/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(s string) []string {
	return strings.Fields(s)
}

func TestJumpSpansOrder(t *testing.T) {
	assert.Equal(t, []span{
		{start: 1, end: 2},
		{start: 2, end: 2},
		{start: 1, end: 1},
	}, jumpSpans(3, 3))

	assert.Empty(t, jumpSpans(1, 3))
}

func TestDetectJumpTieGoesToEarliestStart(t *testing.T) {
	c := mustCorpus(t, "1|1|x y\n1|2|x y\n1|3|p q\n1|4|r s\n")

	jump, ok := DetectJump(c, ref(1, 4), fields("x y"), similarity.Ratio{}, DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, ref(1, 1), jump.Start)
	assert.Equal(t, ref(1, 1), jump.End)
	assert.Equal(t, ref(1, 2), jump.Next)
	assert.Equal(t, 100.0, jump.Accuracy)
	assert.Empty(t, jump.Remaining)
}

func TestDetectJumpPrefersMultiVerseRun(t *testing.T) {
	c := mustCorpus(t, nature+"\n1|4|wind rain snow\n")

	jump, ok := DetectJump(c, ref(1, 4), fields("sun moon star river lake sea dust"), similarity.Ratio{}, DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, ref(1, 1), jump.Start)
	assert.Equal(t, ref(1, 2), jump.End)
	assert.Equal(t, ref(1, 3), jump.Next)
	assert.Equal(t, []string{"dust"}, jump.Remaining)
}

func TestDetectJumpSuppressesVerseSuffix(t *testing.T) {
	c := mustCorpus(t, "1|1|one two three\n1|2|zero four two three\n1|3|a b c d e\n")

	// "four two three" scores 2/3 against verse 1 but only closes verse 2
	_, ok := DetectJump(c, ref(1, 3), fields("four two three"), similarity.Ratio{}, DefaultConfig())
	assert.False(t, ok)

	jump, ok := DetectJump(c, ref(1, 3), fields("one two three"), similarity.Ratio{}, DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, ref(1, 2), jump.Next)
}

func TestDetectJumpSkipsRepeatAtOffset(t *testing.T) {
	c := mustCorpus(t, "1|1|one two three\n1|2|a b c d e\n1|3|f g\n")

	_, ok := DetectJump(c, ref(1, 3), fields("x one two three"), similarity.Ratio{}, DefaultConfig())
	assert.False(t, ok)
}

func TestDetectJumpRespectsLimits(t *testing.T) {
	c := mustCorpus(t, nature)

	_, ok := DetectJump(c, ref(1, 1), fields("sun moon star"), similarity.Ratio{}, DefaultConfig())
	assert.False(t, ok, "nothing precedes the first verse")

	cfg := DefaultConfig()
	cfg.MaxJumpSequence = 0
	_, ok = DetectJump(c, ref(1, 3), fields("sun moon star"), similarity.Ratio{}, cfg)
	assert.False(t, ok, "disabled")

	_, ok = DetectJump(c, ref(1, 3), fields("sun moon"), similarity.Ratio{}, DefaultConfig())
	assert.False(t, ok, "buffer shorter than any run")
}

func TestBetterComparesExactly(t *testing.T) {
	twoThirds := Jump{Start: ref(1, 5), correct: 2, total: 3}
	fourSixths := Jump{Start: ref(1, 2), correct: 4, total: 6}
	full := Jump{Start: ref(1, 9), correct: 1, total: 1}

	assert.True(t, better(fourSixths, twoThirds))
	assert.False(t, better(twoThirds, fourSixths))
	assert.True(t, better(full, fourSixths))
}
