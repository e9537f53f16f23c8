// Package tracker aligns a stream of recognized words with a reference text.
//
// A Tracker owns the reading position (chapter, verse) and the buffer of
// recited words not yet consumed by a completed verse. Each finalized
// recognition result is appended to the buffer and then either resolved as a
// backward jump or scored verse by verse against the text; partial results
// are classified against the upcoming words without touching any state.
//
// A Tracker is not safe for concurrent use. Callers feed it from a single
// ordered event stream (see the pipeline package).
package tracker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fankserver/discord-recitation-mcp/pkg/corpus"
	"github.com/fankserver/discord-recitation-mcp/pkg/similarity"
	"github.com/sirupsen/logrus"
)

// ErrSessionComplete is returned once the last chapter has been recited
var ErrSessionComplete = errors.New("recitation session complete")

// Option configures a Tracker
type Option func(*Tracker)

// WithScorer replaces the default Ratio scorer
func WithScorer(s similarity.Scorer) Option {
	return func(t *Tracker) {
		t.scorer = s
	}
}

// WithConfig replaces DefaultConfig
func WithConfig(cfg Config) Option {
	return func(t *Tracker) {
		t.cfg = cfg
	}
}

// WithLogger sets the entry used for decision logging
func WithLogger(l *logrus.Entry) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// chapterValidator is implemented by indexes that know their chapter range
type chapterValidator interface {
	ValidateChapter(chapter int) error
}

// Tracker is the position state machine
type Tracker struct {
	idx    Index
	scorer similarity.Scorer
	cfg    Config
	logger *logrus.Entry

	pos    corpus.Ref
	buffer []string
	done   bool
}

// New creates a tracker listening at verse 1 of startChapter
func New(idx Index, startChapter int, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		idx:    idx,
		scorer: similarity.Ratio{},
		cfg:    DefaultConfig(),
		logger: logrus.NewEntry(logrus.StandardLogger()),
		pos:    corpus.Ref{Chapter: startChapter, Unit: 1},
	}
	for _, o := range opts {
		o(t)
	}

	if err := t.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	if startChapter <= 0 {
		return nil, fmt.Errorf("%w: %d", corpus.ErrChapterOutOfRange, startChapter)
	}
	if v, ok := idx.(chapterValidator); ok {
		if err := v.ValidateChapter(startChapter); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Position returns the verse currently expected
func (t *Tracker) Position() corpus.Ref {
	return t.pos
}

// Buffer returns a copy of the pending recited words
func (t *Tracker) Buffer() []string {
	return clone(t.buffer)
}

// Done reports whether the session reached the end of the text
func (t *Tracker) Done() bool {
	return t.done
}

// Config returns the thresholds in use
func (t *Tracker) Config() Config {
	return t.cfg
}

// ExpectedWindow returns the current verse plus the configured lookahead
func (t *Tracker) ExpectedWindow() []string {
	if t.done {
		return nil
	}
	return BuildExpectedWords(t.idx, t.pos, t.cfg.Lookahead)
}

// HandleFinal applies one finalized recognition result. Blank text and any
// input after the session completed leave the state untouched.
func (t *Tracker) HandleFinal(text string) Update {
	words := strings.Fields(text)
	if t.done || len(words) == 0 {
		return t.update(Update{})
	}

	t.buffer = append(t.buffer, words...)

	if jump, ok := DetectJump(t.idx, t.pos, t.buffer, t.scorer, t.cfg); ok {
		record := &JumpRecord{
			From:     t.pos,
			Start:    jump.Start,
			End:      jump.End,
			Next:     jump.Next,
			Accuracy: jump.Accuracy,
		}
		t.logger.WithFields(logrus.Fields{
			"from":     t.pos.String(),
			"start":    jump.Start.String(),
			"end":      jump.End.String(),
			"accuracy": jump.Accuracy,
		}).Info("Backward jump detected")

		t.pos = jump.Next
		t.buffer = jump.Remaining
		return t.update(Update{Jump: record})
	}

	var u Update
	for !t.done {
		expected, ok := t.idx.Lookup(t.pos)
		if !ok {
			// a missing verse ends the chapter
			if next, ok := t.idx.NextChapter(t.pos.Chapter); ok {
				t.moveTo(corpus.Ref{Chapter: next, Unit: 1}, &u)
			} else {
				t.complete(&u)
			}
			continue
		}

		res := CheckVerse(expected, t.buffer, t.scorer, t.cfg)
		if res.Outcome == OutcomeWait {
			break
		}

		u.Verses = append(u.Verses, VerseRecord{
			Ref:      t.pos,
			Recited:  res.Recited,
			Expected: clone(expected),
			Accuracy: res.Accuracy,
			Correct:  res.Outcome == OutcomeAdvance,
			Words:    res.Words,
		})
		t.logger.WithFields(logrus.Fields{
			"verse":    t.pos.String(),
			"accuracy": res.Accuracy,
			"outcome":  res.Outcome.String(),
		}).Debug("Verse checked")

		t.buffer = res.Remaining
		if res.Outcome == OutcomeRetry {
			break
		}
		if next, ok := t.idx.NextUnit(t.pos); ok {
			t.moveTo(next, &u)
		} else {
			t.complete(&u)
		}
	}

	return t.update(u)
}

// moveTo advances the pointer, recording a chapter change
func (t *Tracker) moveTo(next corpus.Ref, u *Update) {
	if next.Chapter != t.pos.Chapter {
		u.Chapters = append(u.Chapters, ChapterTransition{From: t.pos.Chapter, To: next.Chapter})
		t.logger.WithFields(logrus.Fields{
			"from": t.pos.Chapter,
			"to":   next.Chapter,
		}).Info("Chapter completed")
	}
	t.pos = next
}

func (t *Tracker) complete(u *Update) {
	t.done = true
	u.Completed = true
	t.logger.WithField("chapter", t.pos.Chapter).Info("Recitation complete, no chapters left")
}

// HandlePartial classifies a partial result against the expected window.
// It never changes the tracker state.
func (t *Tracker) HandlePartial(text string) PartialFeedback {
	fb := PartialFeedback{Position: t.pos}
	if t.done {
		return fb
	}
	window := BuildExpectedWords(t.idx, t.pos, t.cfg.Lookahead)
	if len(window) == 0 {
		return fb
	}
	fb.Words = RenderPartial(window, strings.Fields(text), t.scorer, t.cfg.WordThreshold)
	return fb
}

func (t *Tracker) update(u Update) Update {
	u.Position = t.pos
	u.Buffer = clone(t.buffer)
	if t.done {
		u.Completed = true
	}
	return u
}
