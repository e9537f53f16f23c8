package tracker

import (
	"errors"
	"fmt"
)

// Config holds the alignment thresholds. All percentages are integers in
// [0, 100] so threshold decisions are exact.
type Config struct {
	// WordThreshold is the minimum similarity for a recited word to count
	// as correct
	WordThreshold int `mapstructure:"word_threshold" json:"wordThreshold" yaml:"word_threshold"`

	// VerseThreshold is the minimum accuracy for a verse to advance
	VerseThreshold int `mapstructure:"verse_threshold" json:"verseThreshold" yaml:"verse_threshold"`

	// JumpThreshold is the minimum accuracy for a backward jump
	JumpThreshold int `mapstructure:"jump_threshold" json:"jumpThreshold" yaml:"jump_threshold"`

	// MaxJumpSequence is the longest run of earlier verses searched for a
	// jump. Zero disables jump detection.
	MaxJumpSequence int `mapstructure:"max_jump_sequence" json:"maxJumpSequence" yaml:"max_jump_sequence"`

	// Lookahead is the number of verses after the current one included in
	// the expected window for partial feedback
	Lookahead int `mapstructure:"lookahead" json:"lookahead" yaml:"lookahead"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		WordThreshold:   60,
		VerseThreshold:  60,
		JumpThreshold:   60,
		MaxJumpSequence: 3,
		Lookahead:       10,
	}
}

// Validate reports every out-of-range field
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]int{
		"word_threshold":  c.WordThreshold,
		"verse_threshold": c.VerseThreshold,
		"jump_threshold":  c.JumpThreshold,
	} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%s %d is out of range [0, 100]", name, v))
		}
	}
	if c.MaxJumpSequence < 0 {
		errs = append(errs, fmt.Errorf("max_jump_sequence %d must not be negative", c.MaxJumpSequence))
	}
	if c.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("lookahead %d must not be negative", c.Lookahead))
	}
	return errors.Join(errs...)
}
