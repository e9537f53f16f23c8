package main

import (
	"context"
	"errors"
	"os"

	"github.com/fankserver/discord-recitation-mcp/internal/bot"
	"github.com/fankserver/discord-recitation-mcp/internal/config"
	"github.com/fankserver/discord-recitation-mcp/internal/mcp"
	"github.com/fankserver/discord-recitation-mcp/internal/render"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveConsole   bool
	serveNoDiscord bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recitation tools over MCP stdio, with the Discord bot when a token is set",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveConsole, "console", false, "also render feedback to stderr")
	serveCmd.Flags().BoolVar(&serveNoDiscord, "no-discord", false, "do not connect to Discord even if a token is configured")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := cfgMgr.Get()

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	if serveConsole {
		mode, _ := render.ParseColorMode(cfg.Color)
		unsubscribe := eng.bus.SubscribeAll(render.NewConsole(os.Stderr, mode).HandleEvent)
		defer unsubscribe()
	}

	// threshold changes apply to sessions started afterwards
	cfgMgr.OnChange(func(c config.Config) {
		c.ApplyLogging()
		if err := eng.sessions.SetTrackerConfig(c.Tracker); err != nil {
			logrus.WithError(err).Warn("Ignoring tracker config change")
		}
	})
	cfgMgr.WatchConfig()

	trans, err := newTranscriber(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := trans.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close transcriber")
		}
	}()

	// an interface holding a nil *bot.VoiceBot would not compare equal to nil
	var voice mcp.VoiceController
	if cfg.Discord.Token != "" && !serveNoDiscord {
		vb, err := bot.New(cfg.Discord.Token, eng.sessions, eng.bus, trans, cfg.Audio)
		if err != nil {
			return err
		}
		if err := vb.Connect(); err != nil {
			return err
		}
		defer func() {
			if err := vb.Disconnect(); err != nil {
				logrus.WithError(err).Warn("Failed to disconnect voice bot")
			}
		}()
		logrus.Info("Connected to Discord")
		if cfg.Discord.UserID != "" {
			logrus.WithField("user_id", cfg.Discord.UserID).Info("Configured to follow user")
		}
		voice = vb
	} else {
		logrus.Info("No Discord token configured, voice tools disabled")
	}

	srv := mcp.NewServer(eng.sessions, voice, cfg.Discord.UserID, Version)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logrus.Info("Shutting down gracefully...")
	return nil
}
