package main

import (
	"github.com/fankserver/discord-recitation-mcp/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfgMgr  *config.Manager
)

var rootCmd = &cobra.Command{
	Use:   "discord-recitation-mcp",
	Short: "Streaming recitation tracker for Discord voice and MCP clients",
	Long: `discord-recitation-mcp follows a reciter through a reference text.

Recognizer output arrives as partial and final transcripts, from Discord
voice, an MCP client or a replay file. Each final result is aligned against
the expected verse; the tracker reports per-word accuracy, detects jumps
back to earlier verses and advances through chapters until the text ends.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		m, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr = m
		m.Get().ApplyLogging()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.discord-recitation-mcp/config.yaml)",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)
}
