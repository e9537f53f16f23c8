package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// ErrEmptyCorpus is returned when no valid verse could be parsed
	ErrEmptyCorpus = errors.New("corpus contains no verses")

	// ErrChapterOutOfRange is returned when a chapter id lies outside the corpus
	ErrChapterOutOfRange = errors.New("chapter out of range")
)

// Ref addresses a single verse
type Ref struct {
	Chapter int `json:"chapter" yaml:"chapter"`
	Unit    int `json:"unit" yaml:"unit"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%d:%d", r.Chapter, r.Unit)
}

// Corpus is the read-only reference text. It is never mutated after Parse
// returns, so a single Corpus can back any number of sessions.
type Corpus struct {
	verses   map[int]map[int][]string
	chapters []int
	skipped  int
}

// Load reads a corpus file from disk
func Load(path string) (*Corpus, error) {
	// #nosec G304 - corpus path comes from server configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening corpus %q: %w", path, err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing corpus %q: %w", path, err)
	}
	return c, nil
}

// Parse reads `chapter|unit|text` records, one verse per line.
// Malformed lines are skipped rather than failing the load.
func Parse(r io.Reader) (*Corpus, error) {
	c := &Corpus{
		verses: make(map[int]map[int][]string),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ref, words, ok := parseLine(line)
		if !ok {
			c.skipped++
			logrus.WithField("line", lineNo).Debug("Skipping malformed corpus line")
			continue
		}

		chapter, exists := c.verses[ref.Chapter]
		if !exists {
			chapter = make(map[int][]string)
			c.verses[ref.Chapter] = chapter
			c.chapters = append(c.chapters, ref.Chapter)
		}
		chapter[ref.Unit] = words
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading corpus: %w", err)
	}

	if len(c.verses) == 0 {
		return nil, ErrEmptyCorpus
	}

	sort.Ints(c.chapters)

	logrus.WithFields(logrus.Fields{
		"chapters": len(c.chapters),
		"skipped":  c.skipped,
	}).Debug("Corpus parsed")

	return c, nil
}

func parseLine(line string) (Ref, []string, bool) {
	parts := strings.Split(line, "|")
	if len(parts) != 3 {
		return Ref{}, nil, false
	}
	chapter, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || chapter <= 0 {
		return Ref{}, nil, false
	}
	unit, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || unit <= 0 {
		return Ref{}, nil, false
	}
	words := strings.Fields(parts[2])
	if len(words) == 0 {
		return Ref{}, nil, false
	}
	return Ref{Chapter: chapter, Unit: unit}, words, true
}

// Lookup returns the words of a verse
func (c *Corpus) Lookup(ref Ref) ([]string, bool) {
	words, ok := c.verses[ref.Chapter][ref.Unit]
	return words, ok
}

// NextUnit returns the verse after ref. Units are contiguous: when unit+1
// is missing the chapter is over and the next chapter starts at unit 1,
// whether or not that verse exists. It reports false after the last chapter.
func (c *Corpus) NextUnit(ref Ref) (Ref, bool) {
	if _, ok := c.verses[ref.Chapter][ref.Unit+1]; ok {
		return Ref{Chapter: ref.Chapter, Unit: ref.Unit + 1}, true
	}
	next, ok := c.NextChapter(ref.Chapter)
	if !ok {
		return Ref{}, false
	}
	return Ref{Chapter: next, Unit: 1}, true
}

// NextChapter returns the smallest chapter id greater than chapter
func (c *Corpus) NextChapter(chapter int) (int, bool) {
	i := sort.SearchInts(c.chapters, chapter+1)
	if i < len(c.chapters) {
		return c.chapters[i], true
	}
	return 0, false
}

// FirstChapter returns the lowest chapter id
func (c *Corpus) FirstChapter() int {
	return c.chapters[0]
}

// LastChapter returns the highest chapter id
func (c *Corpus) LastChapter() int {
	return c.chapters[len(c.chapters)-1]
}

// ValidateChapter rejects chapter ids outside the corpus range. Values are
// never clamped.
func (c *Corpus) ValidateChapter(chapter int) error {
	if chapter < c.FirstChapter() || chapter > c.LastChapter() {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrChapterOutOfRange, chapter, c.FirstChapter(), c.LastChapter())
	}
	return nil
}

// Chapters returns all chapter ids in ascending order
func (c *Corpus) Chapters() []int {
	out := make([]int, len(c.chapters))
	copy(out, c.chapters)
	return out
}

// Skipped reports how many malformed lines were ignored
func (c *Corpus) Skipped() int {
	return c.skipped
}
