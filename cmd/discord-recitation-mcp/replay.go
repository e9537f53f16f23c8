package main

import (
	"fmt"

	"github.com/fankserver/discord-recitation-mcp/internal/render"
	"github.com/fankserver/discord-recitation-mcp/internal/replay"
	"github.com/fankserver/discord-recitation-mcp/internal/session"
	"github.com/spf13/cobra"
)

var (
	replayChapter int
	replayExport  string
)

var replayCmd = &cobra.Command{
	Use:   "replay <events-file>",
	Short: "Track a recorded recitation and print feedback to the terminal",
	Long: `Replay feeds recorded recognizer output through a recitation session.

Each line of the events file is one recognizer result:

  partial|bismi allahi
  final|bismi allahi alrrahmani alrraheemi
  warning|recognizer restarted

Blank lines and lines starting with # are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVar(&replayChapter, "chapter", 0, "chapter to start at (default: first chapter of the corpus)")
	replayCmd.Flags().StringVar(&replayExport, "export", "", "export the session afterwards: json or yaml")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := cfgMgr.Get()

	events, err := replay.Load(args[0])
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			eng.Close()
		}
	}()

	mode, _ := render.ParseColorMode(cfg.Color)
	console := render.NewConsole(cmd.OutOrStdout(), mode)
	eng.bus.SubscribeAll(console.HandleEvent)

	chapter := replayChapter
	if chapter == 0 {
		chapter = eng.corpus.FirstChapter()
	}
	id, err := eng.sessions.CreateSession(ctx, session.Options{Chapter: chapter, Source: "replay"})
	if err != nil {
		return err
	}

	submitted, err := replay.Run(ctx, eng.sessions, id, events)
	if err != nil {
		return err
	}
	if err := eng.sessions.EndSession(id); err != nil {
		return err
	}

	var exported string
	if replayExport != "" {
		if exported, err = eng.sessions.ExportSession(id, replayExport); err != nil {
			return fmt.Errorf("failed to export session: %w", err)
		}
	}

	snap, err := eng.sessions.GetSession(id)
	if err != nil {
		return err
	}

	// drain the bus so the summary comes after all feedback
	eng.Close()
	closed = true

	console.Info("Replayed %d of %d events: %d of %d verses correct, %d jumps, stopped at %s",
		submitted, len(events), snap.Stats.VersesCorrect, snap.Stats.VersesChecked, snap.Stats.Jumps, snap.Position)
	if exported != "" {
		console.Info("Session exported to %s", exported)
	}
	return nil
}
