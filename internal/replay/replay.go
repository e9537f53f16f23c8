// Package replay feeds recorded recognizer output through a session. Each
// line of a replay file is "final|text", "partial|text" or "warning|text";
// blank lines and lines starting with # are skipped.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fankserver/discord-recitation-mcp/internal/pipeline"
	"github.com/fankserver/discord-recitation-mcp/internal/tracker"
	"github.com/sirupsen/logrus"
)

// Event is one recorded recognizer result
type Event struct {
	Line int
	Kind pipeline.Kind
	Text string
}

// Sink receives replayed events. Partials are processed synchronously: a
// queued partial would usually be superseded by the final recorded after it.
type Sink interface {
	ProcessPartial(ctx context.Context, id, text string) (tracker.PartialFeedback, bool, error)
	SubmitFinal(ctx context.Context, id, text string) error
	SubmitWarning(ctx context.Context, id, message string) error
}

// Load parses a replay file
func Load(path string) ([]Event, error) {
	// #nosec G304 - the path is given by the operator on the command line
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening replay file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads replay events from r
func Parse(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		kind, text, ok := strings.Cut(raw, "|")
		if !ok {
			return nil, fmt.Errorf("line %d: expected kind|text", line)
		}
		ev := Event{Line: line, Text: strings.TrimSpace(text)}
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "final":
			ev.Kind = pipeline.KindFinal
		case "partial":
			ev.Kind = pipeline.KindPartial
		case "warning":
			ev.Kind = pipeline.KindWarning
		default:
			return nil, fmt.Errorf("line %d: unknown event kind %q", line, kind)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading replay events: %w", err)
	}
	return events, nil
}

// Run submits events to session id in order. Events after the session
// completes are skipped. It returns how many events were submitted.
func Run(ctx context.Context, sink Sink, id string, events []Event) (int, error) {
	submitted := 0
	for _, ev := range events {
		var err error
		switch ev.Kind {
		case pipeline.KindFinal:
			err = sink.SubmitFinal(ctx, id, ev.Text)
		case pipeline.KindPartial:
			_, _, err = sink.ProcessPartial(ctx, id, ev.Text)
		default:
			err = sink.SubmitWarning(ctx, id, ev.Text)
		}

		if errors.Is(err, tracker.ErrSessionComplete) {
			logrus.WithField("line", ev.Line).Info("Recitation complete, skipping remaining events")
			return submitted, nil
		}
		if err != nil {
			return submitted, fmt.Errorf("line %d: %w", ev.Line, err)
		}
		submitted++
	}
	return submitted, nil
}
