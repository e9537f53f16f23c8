package tracker

import (
	"github.com/fankserver/discord-recitation-mcp/pkg/corpus"
)

// Index is the read-only view of the reference text the tracker needs
type Index interface {
	Lookup(ref corpus.Ref) ([]string, bool)
	NextUnit(ref corpus.Ref) (corpus.Ref, bool)
	NextChapter(chapter int) (int, bool)
}

// Class classifies a single word position
type Class string

const (
	ClassMatch    Class = "match"
	ClassMismatch Class = "mismatch"
	// ClassMissing marks an expected word with no recited counterpart
	ClassMissing Class = "missing"
	// ClassExtra marks a recited word with no expected counterpart
	ClassExtra Class = "extra"
)

// WordMark is one classified word position for the presentation layer
type WordMark struct {
	Word     string `json:"word" yaml:"word"`
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
	Class    Class  `json:"class" yaml:"class"`
	Score    int    `json:"score" yaml:"score"`
}

// Outcome is the decision of a verse completion check
type Outcome int

const (
	// OutcomeWait means the buffer is shorter than the verse
	OutcomeWait Outcome = iota
	// OutcomeAdvance means the verse was recited correctly
	OutcomeAdvance
	// OutcomeRetry means the verse must be recited again
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWait:
		return "wait"
	case OutcomeAdvance:
		return "advance"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// VerseRecord is emitted for every verse that was scored
type VerseRecord struct {
	Ref      corpus.Ref `json:"ref" yaml:"ref"`
	Recited  []string   `json:"recited" yaml:"recited"`
	Expected []string   `json:"expected" yaml:"expected"`
	Accuracy float64    `json:"accuracy" yaml:"accuracy"`
	Correct  bool       `json:"correct" yaml:"correct"`
	Words    []WordMark `json:"words" yaml:"words"`
}

// JumpRecord describes an applied backward jump
type JumpRecord struct {
	From     corpus.Ref `json:"from" yaml:"from"`
	Start    corpus.Ref `json:"start" yaml:"start"`
	End      corpus.Ref `json:"end" yaml:"end"`
	Next     corpus.Ref `json:"next" yaml:"next"`
	Accuracy float64    `json:"accuracy" yaml:"accuracy"`
}

// ChapterTransition is emitted when a chapter runs out of verses and the
// pointer moves to the next chapter
type ChapterTransition struct {
	From int `json:"from" yaml:"from"`
	To   int `json:"to" yaml:"to"`
}

// Update is the result of one finalized recognition event
type Update struct {
	Verses    []VerseRecord       `json:"verses,omitempty" yaml:"verses,omitempty"`
	Jump      *JumpRecord         `json:"jump,omitempty" yaml:"jump,omitempty"`
	Chapters  []ChapterTransition `json:"chapters,omitempty" yaml:"chapters,omitempty"`
	Completed bool                `json:"completed" yaml:"completed"`
	Position  corpus.Ref          `json:"position" yaml:"position"`
	Buffer    []string            `json:"buffer" yaml:"buffer"`
}

// PartialFeedback is the advisory classification of a partial result
type PartialFeedback struct {
	Position corpus.Ref `json:"position" yaml:"position"`
	Words    []WordMark `json:"words" yaml:"words"`
}
