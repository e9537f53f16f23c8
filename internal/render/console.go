package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fankserver/discord-recitation-mcp/internal/feedback"
	"github.com/fankserver/discord-recitation-mcp/internal/tracker"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ColorMode selects when the console uses ANSI colors
type ColorMode int

const (
	// ColorAuto colors output only on a terminal and when NO_COLOR is unset
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColorMode maps "auto", "always" and "never" to a ColorMode
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("unknown color mode %q", s)
	}
}

// Console writes recitation feedback for a person watching a terminal.
// Partial feedback overwrites itself in place on a TTY and is printed line
// by line otherwise.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	isTTY   bool
	color   bool
	lastLen int

	good    *color.Color
	bad     *color.Color
	extra   *color.Color
	heading *color.Color
	muted   *color.Color
}

// NewConsole creates a console renderer writing to w
func NewConsole(w io.Writer, mode ColorMode) *Console {
	if w == nil {
		w = os.Stdout
	}
	c := &Console{w: w}
	f, isFile := w.(*os.File)
	if isFile {
		c.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	switch mode {
	case ColorAlways:
		c.color = true
	case ColorAuto:
		_, noColor := os.LookupEnv("NO_COLOR")
		c.color = c.isTTY && !noColor
	}
	if c.color && isFile {
		// translates escapes for legacy Windows consoles, a no-op elsewhere
		c.w = colorable.NewColorable(f)
	}

	c.good = c.newColor(color.FgGreen)
	c.bad = c.newColor(color.FgRed)
	c.extra = c.newColor(color.FgYellow)
	c.heading = c.newColor(color.FgBlue)
	c.muted = c.newColor(color.FgHiBlack)
	return c
}

// newColor ignores fatih/color's global NoColor, which only looks at stdout
func (c *Console) newColor(attr color.Attribute) *color.Color {
	col := color.New(attr)
	if c.color {
		col.EnableColor()
	} else {
		col.DisableColor()
	}
	return col
}

// HandleEvent renders one bus event. It is meant to be registered with
// EventBus.SubscribeAll.
func (c *Console) HandleEvent(ev feedback.Event) {
	switch data := ev.Data.(type) {
	case tracker.VerseRecord:
		c.Verse(data)
	case tracker.JumpRecord:
		c.Jump(data)
	case tracker.ChapterTransition:
		c.Chapter(data)
	case tracker.PartialFeedback:
		c.Partial(data)
	case feedback.SessionCompletedData:
		c.Completed(data)
	case feedback.WarningData:
		c.Warning(data.Message)
	case feedback.SessionData:
		if ev.Type == feedback.EventSessionCreated {
			c.println(c.heading.Sprint(fmt.Sprintf("Session %s started at chapter %d", ev.SessionID, data.Chapter)))
		}
	}
}

// Verse prints the analysis of one scored verse
func (c *Console) Verse(r tracker.VerseRecord) {
	status := c.good.Sprint("correct")
	if !r.Correct {
		status = c.bad.Sprint("try again")
	}
	c.println(fmt.Sprintf("%s %s (%.1f%%)", c.heading.Sprint("Verse "+r.Ref.String()), status, r.Accuracy))
	c.println(c.muted.Sprint("  Recited:  ") + strings.Join(r.Recited, " "))
	c.println(c.muted.Sprint("  Expected: ") + strings.Join(r.Expected, " "))
	c.println("  " + c.words(r.Words))
}

// Jump prints a detected backward jump
func (c *Console) Jump(j tracker.JumpRecord) {
	span := j.Start.String()
	if j.End != j.Start {
		span += "-" + j.End.String()
	}
	c.println(c.extra.Sprint(fmt.Sprintf("Jumped back to %s (%.1f%%), continuing at %s", span, j.Accuracy, j.Next)))
}

// Chapter prints a move to the next chapter
func (c *Console) Chapter(t tracker.ChapterTransition) {
	c.println(c.heading.Sprint(fmt.Sprintf("Chapter %d complete, moving to chapter %d", t.From, t.To)))
}

// Completed prints the end of the text
func (c *Console) Completed(d feedback.SessionCompletedData) {
	c.println(c.good.Sprint(fmt.Sprintf("Recitation complete: %d of %d verses correct", d.Correct, d.Verses)))
}

// Warning prints a recognizer status message
func (c *Console) Warning(message string) {
	c.println(c.extra.Sprint("Warning: "+message))
}

// Partial prints live feedback for a partial result
func (c *Console) Partial(fb tracker.PartialFeedback) {
	line := fmt.Sprintf("%s %s", c.muted.Sprint(fb.Position.String()+" ..."), c.words(fb.Words))
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isTTY {
		c.writeLocked(line + "\n")
		return
	}
	pad := 0
	if l := visibleLen(line); c.lastLen > l {
		pad = c.lastLen - l
	}
	c.writeLocked("\r" + line + strings.Repeat(" ", pad))
	c.lastLen = visibleLen(line)
}

// Info prints a plain status line, clearing any in-place partial first
func (c *Console) Info(format string, args ...any) {
	c.println(fmt.Sprintf(format, args...))
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isTTY && c.lastLen > 0 {
		c.writeLocked("\r" + strings.Repeat(" ", c.lastLen) + "\r")
	}
	c.writeLocked(s + "\n")
	c.lastLen = 0
}

func (c *Console) writeLocked(s string) {
	// a closed terminal is not worth failing the session over
	_, _ = io.WriteString(c.w, s)
}

func (c *Console) words(marks []tracker.WordMark) string {
	parts := make([]string, 0, len(marks))
	for _, m := range marks {
		parts = append(parts, c.word(m))
	}
	return strings.Join(parts, " ")
}

func (c *Console) word(m tracker.WordMark) string {
	if !c.color {
		switch m.Class {
		case tracker.ClassMismatch:
			return "~" + m.Word + "~"
		case tracker.ClassMissing:
			return "[" + m.Expected + "]"
		case tracker.ClassExtra:
			return "+" + m.Word
		default:
			return m.Word
		}
	}
	switch m.Class {
	case tracker.ClassMatch:
		return c.good.Sprint(m.Word)
	case tracker.ClassMismatch:
		return c.bad.Sprint(m.Word)
	case tracker.ClassMissing:
		return c.bad.Sprint("[" + m.Expected + "]")
	default:
		return c.extra.Sprint(m.Word)
	}
}

// visibleLen counts runes outside ANSI escape sequences
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			n++
		}
	}
	return n
}
