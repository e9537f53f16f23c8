package render

import (
	"fmt"
	"strings"

	"github.com/fankserver/discord-recitation-mcp/internal/feedback"
	"github.com/fankserver/discord-recitation-mcp/internal/tracker"
)

// Markdown renders a bus event as a Discord message. Partial feedback and
// events without a message return false.
func Markdown(ev feedback.Event) (string, bool) {
	switch data := ev.Data.(type) {
	case tracker.VerseRecord:
		return VerseMarkdown(data), true
	case tracker.JumpRecord:
		span := data.Start.String()
		if data.End != data.Start {
			span += "-" + data.End.String()
		}
		return fmt.Sprintf("↩️ Jumped back to **%s** (%.0f%%). Continue from **%s**.", span, data.Accuracy, data.Next), true
	case tracker.ChapterTransition:
		return fmt.Sprintf("📖 Chapter %d complete. Moving on to chapter **%d**.", data.From, data.To), true
	case feedback.SessionCompletedData:
		return fmt.Sprintf("🎉 Recitation complete! %d of %d verses correct.", data.Correct, data.Verses), true
	case feedback.WarningData:
		return "⚠️ " + escape(data.Message), true
	case feedback.SessionData:
		switch ev.Type {
		case feedback.EventSessionCreated:
			return fmt.Sprintf("🎙️ Listening. Start reciting chapter **%d**.", data.Chapter), true
		case feedback.EventSessionEnded:
			return "Session ended.", true
		}
	}
	return "", false
}

// VerseMarkdown renders the analysis of one verse
func VerseMarkdown(r tracker.VerseRecord) string {
	var b strings.Builder
	if r.Correct {
		fmt.Fprintf(&b, "✅ **%s** (%.0f%%)\n", r.Ref, r.Accuracy)
	} else {
		fmt.Fprintf(&b, "❌ **%s** (%.0f%%) try again\n", r.Ref, r.Accuracy)
	}
	b.WriteString("> ")
	b.WriteString(WordsMarkdown(r.Words))
	if !r.Correct {
		b.WriteString("\nExpected: ")
		b.WriteString(escape(strings.Join(r.Expected, " ")))
	}
	return b.String()
}

// WordsMarkdown marks mismatched words as struck through, missing words as
// bold brackets and extra words in italics
func WordsMarkdown(marks []tracker.WordMark) string {
	parts := make([]string, 0, len(marks))
	for _, m := range marks {
		switch m.Class {
		case tracker.ClassMismatch:
			parts = append(parts, "~~"+escape(m.Word)+"~~")
		case tracker.ClassMissing:
			parts = append(parts, "**["+escape(m.Expected)+"]**")
		case tracker.ClassExtra:
			parts = append(parts, "_"+escape(m.Word)+"_")
		default:
			parts = append(parts, escape(m.Word))
		}
	}
	return strings.Join(parts, " ")
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"|", `\|`,
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
