package main

import (
	"fmt"
	"strings"

	"github.com/fankserver/discord-recitation-mcp/internal/config"
	"github.com/fankserver/discord-recitation-mcp/internal/feedback"
	"github.com/fankserver/discord-recitation-mcp/internal/session"
	"github.com/fankserver/discord-recitation-mcp/pkg/corpus"
	"github.com/fankserver/discord-recitation-mcp/pkg/similarity"
	"github.com/fankserver/discord-recitation-mcp/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

// engine is the corpus, event bus and session manager shared by every
// command
type engine struct {
	corpus   *corpus.Corpus
	bus      *feedback.EventBus
	sessions *session.Manager
}

func newEngine(cfg config.Config) (*engine, error) {
	c, err := corpus.Load(cfg.Corpus)
	if err != nil {
		return nil, err
	}
	scorer, err := similarity.New(cfg.Scorer)
	if err != nil {
		return nil, err
	}

	bus := feedback.NewEventBus(cfg.EventBuffer)
	sessions := session.NewManager(c,
		session.WithScorer(scorer),
		session.WithTrackerConfig(cfg.Tracker),
		session.WithEventBus(bus),
		session.WithExportDir(cfg.ExportDir),
		session.WithQueueConfig(cfg.Queue),
	)

	logrus.WithFields(logrus.Fields{
		"corpus":   cfg.Corpus,
		"chapters": len(c.Chapters()),
		"skipped":  c.Skipped(),
		"scorer":   cfg.Scorer,
	}).Info("Corpus loaded")

	return &engine{corpus: c, bus: bus, sessions: sessions}, nil
}

// Close ends all sessions, then delivers their remaining events
func (e *engine) Close() {
	e.sessions.Close()
	e.bus.Stop()

	m := e.bus.GetMetrics()
	var published int64
	for _, n := range m.EventsPublished {
		published += n
	}
	logrus.WithFields(logrus.Fields{
		"published": published,
		"delivered": m.EventsDelivered,
		"dropped":   m.EventsDropped,
	}).Debug("Event bus stopped")
}

func newTranscriber(cfg config.Config) (transcriber.Transcriber, error) {
	switch strings.ToLower(cfg.Transcriber) {
	case "whisper":
		t, err := transcriber.NewWhisperTranscriber(cfg.Whisper)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize whisper transcriber: %w", err)
		}
		logrus.WithField("model", cfg.Whisper.ModelPath).Info("Using whisper transcriber")
		return t, nil
	default:
		logrus.Info("Using mock transcriber")
		return transcriber.NewMockTranscriber(), nil
	}
}
