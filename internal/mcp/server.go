package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fankserver/discord-recitation-mcp/internal/bot"
	"github.com/fankserver/discord-recitation-mcp/internal/render"
	"github.com/fankserver/discord-recitation-mcp/internal/session"
	"github.com/fankserver/discord-recitation-mcp/internal/tracker"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// ErrNoVoice is returned by the voice tools when no Discord bot is running
var ErrNoVoice = errors.New("discord bot is not configured")

// VoiceController is the Discord side of the tool surface
type VoiceController interface {
	StartRecitation(ctx context.Context, req bot.Request) (string, error)
	StopRecitation() (string, error)
	GetStatus() bot.Status
}

// Server exposes recitation sessions as MCP tools
type Server struct {
	mcpServer *mcp.Server
	sessions  *session.Manager
	voice     VoiceController
	userID    string
}

// Tool input types

type EmptyInput struct{}

type StartRecitationInput struct {
	Chapter int    `json:"chapter" jsonschema:"chapter to start reciting from, at its first verse"`
	Source  string `json:"source,omitempty" jsonschema:"free-form label for where transcripts come from"`
}

type SubmitTranscriptInput struct {
	SessionID string `json:"sessionId" jsonschema:"the session ID"`
	Text      string `json:"text" jsonschema:"recognized text"`
	Final     bool   `json:"final,omitempty" jsonschema:"true for a finalized result, false for a partial hypothesis"`
}

type SessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"the session ID"`
}

type ExportSessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"the session ID to export"`
	Format    string `json:"format,omitempty" jsonschema:"json (default) or yaml"`
}

type JoinVoiceChannelInput struct {
	GuildID       string `json:"guildId" jsonschema:"the Discord guild ID"`
	ChannelID     string `json:"channelId" jsonschema:"the voice channel ID"`
	Chapter       int    `json:"chapter" jsonschema:"chapter to start reciting from"`
	UserID        string `json:"userId,omitempty" jsonschema:"reciter to listen to, defaults to the configured user"`
	TextChannelID string `json:"textChannelId,omitempty" jsonschema:"text channel for feedback messages"`
}

// NewServer creates a new MCP server. voice may be nil when no Discord bot
// is running; userID is the default reciter for join_voice_channel.
func NewServer(sessions *session.Manager, voice VoiceController, userID string, version string) *Server {
	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    "discord-recitation-mcp",
			Version: version,
		}, nil),
		sessions: sessions,
		voice:    voice,
		userID:   userID,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "start_recitation",
		Description: "Start a recitation session at the first verse of a chapter",
	}, s.handleStartRecitation)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "submit_transcript",
		Description: "Submit a partial or final recognition result to a session and get the feedback",
	}, s.handleSubmitTranscript)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_position",
		Description: "Get the current verse, buffered words and expected text of a session",
	}, s.handleGetPosition)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_session",
		Description: "Get the full history of a session as JSON",
	}, s.handleGetSession)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List all recitation sessions",
	}, s.handleListSessions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "end_session",
		Description: "End a recitation session",
	}, s.handleEndSession)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_session",
		Description: "Export a session to a JSON or YAML file",
	}, s.handleExportSession)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "join_voice_channel",
		Description: "Join a Discord voice channel and follow a reciter",
	}, s.handleJoinVoiceChannel)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "leave_voice_channel",
		Description: "Stop following the reciter and leave the voice channel",
	}, s.handleLeaveVoiceChannel)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_bot_status",
		Description: "Get the Discord bot's voice status",
	}, s.handleGetBotStatus)
}

// Run serves the tools over stdio until ctx is cancelled or the client
// disconnects
func (s *Server) Run(ctx context.Context) error {
	logrus.Info("MCP server started")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves the tools over an arbitrary transport
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func text(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// Tool handlers

func (s *Server) handleStartRecitation(ctx context.Context, _ *mcp.CallToolRequest, in StartRecitationInput) (*mcp.CallToolResult, any, error) {
	source := in.Source
	if source == "" {
		source = "mcp"
	}
	id, err := s.sessions.CreateSession(ctx, session.Options{Chapter: in.Chapter, Source: source})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start recitation: %w", err)
	}
	snap, err := s.sessions.GetSession(id)
	if err != nil {
		return nil, nil, err
	}
	expected, _ := s.sessions.ExpectedWords(id)

	logrus.WithFields(logrus.Fields{"session_id": id, "chapter": in.Chapter}).Info("Recitation started via MCP")
	return text("Started session %s at %s\nExpected: %s", id, snap.Position, strings.Join(expected, " ")), nil, nil
}

func (s *Server) handleSubmitTranscript(ctx context.Context, _ *mcp.CallToolRequest, in SubmitTranscriptInput) (*mcp.CallToolResult, any, error) {
	if !in.Final {
		fb, accepted, err := s.sessions.ProcessPartial(ctx, in.SessionID, in.Text)
		if err != nil {
			return nil, nil, err
		}
		if !accepted {
			return text("Partial ignored (repeated or empty)"), nil, nil
		}
		return text("Partial at %s: %s", fb.Position, render.WordsMarkdown(fb.Words)), nil, nil
	}

	u, err := s.sessions.ProcessFinal(ctx, in.SessionID, in.Text)
	if err != nil {
		return nil, nil, err
	}
	return text("%s", formatUpdate(u)), nil, nil
}

func formatUpdate(u tracker.Update) string {
	var b strings.Builder
	if j := u.Jump; j != nil {
		fmt.Fprintf(&b, "Jumped back to %s-%s (%.0f%%), continuing at %s\n", j.Start, j.End, j.Accuracy, j.Next)
	}
	for _, v := range u.Verses {
		b.WriteString(render.VerseMarkdown(v))
		b.WriteString("\n")
	}
	for _, c := range u.Chapters {
		fmt.Fprintf(&b, "Chapter %d complete, moving to chapter %d\n", c.From, c.To)
	}
	if u.Completed {
		b.WriteString("Recitation complete\n")
	} else {
		fmt.Fprintf(&b, "Position: %s\n", u.Position)
	}
	fmt.Fprintf(&b, "Buffer: %s", strings.Join(u.Buffer, " "))
	return b.String()
}

func (s *Server) handleGetPosition(_ context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, any, error) {
	snap, err := s.sessions.GetSession(in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	expected, err := s.sessions.ExpectedWords(in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return text("Status: %s\nPosition: %s\nBuffer: %s\nExpected: %s",
		snap.Status, snap.Position, strings.Join(snap.Buffer, " "), strings.Join(expected, " ")), nil, nil
}

func (s *Server) handleGetSession(_ context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, any, error) {
	snap, err := s.sessions.GetSession(in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	data, err := session.MarshalSession(snap, "json")
	if err != nil {
		return nil, nil, err
	}
	return text("%s", data), nil, nil
}

func (s *Server) handleListSessions(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	snaps := s.sessions.ListSessions()
	if len(snaps) == 0 {
		return text("No sessions found"), nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d session(s):\n", len(snaps))
	for _, snap := range snaps {
		fmt.Fprintf(&b, "- %s: %s at %s, %d/%d verses correct, started %s\n",
			snap.ID, snap.Status, snap.Position,
			snap.Stats.VersesCorrect, snap.Stats.VersesChecked,
			snap.StartTime.Format("2006-01-02 15:04:05"))
	}
	return text("%s", b.String()), nil, nil
}

func (s *Server) handleEndSession(_ context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, any, error) {
	if err := s.sessions.EndSession(in.SessionID); err != nil {
		return nil, nil, err
	}
	return text("Session %s ended", in.SessionID), nil, nil
}

func (s *Server) handleExportSession(_ context.Context, _ *mcp.CallToolRequest, in ExportSessionInput) (*mcp.CallToolResult, any, error) {
	path, err := s.sessions.ExportSession(in.SessionID, in.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to export session: %w", err)
	}
	return text("Session exported to %s", path), nil, nil
}

func (s *Server) handleJoinVoiceChannel(ctx context.Context, _ *mcp.CallToolRequest, in JoinVoiceChannelInput) (*mcp.CallToolResult, any, error) {
	if s.voice == nil {
		return nil, nil, ErrNoVoice
	}
	reciter := in.UserID
	if reciter == "" {
		reciter = s.userID
	}
	id, err := s.voice.StartRecitation(ctx, bot.Request{
		GuildID:        in.GuildID,
		VoiceChannelID: in.ChannelID,
		TextChannelID:  in.TextChannelID,
		ReciterID:      reciter,
		Chapter:        in.Chapter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to join voice channel: %w", err)
	}
	who := "everyone"
	if reciter != "" {
		who = "user " + reciter
	}
	return text("Joined voice channel %s, listening to %s. Session %s", in.ChannelID, who, id), nil, nil
}

func (s *Server) handleLeaveVoiceChannel(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	if s.voice == nil {
		return nil, nil, ErrNoVoice
	}
	id, err := s.voice.StopRecitation()
	if errors.Is(err, bot.ErrNotReciting) {
		return text("Not in a voice channel"), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return text("Left voice channel, session %s ended", id), nil, nil
}

func (s *Server) handleGetBotStatus(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	if s.voice == nil {
		return text("Bot Status:\n- Discord: not configured"), nil, nil
	}
	st := s.voice.GetStatus()
	var b strings.Builder
	fmt.Fprintf(&b, "Bot Status:\n- Connected: %v\n- In Voice: %v\n", st.Connected, st.InVoice)
	if st.InVoice {
		fmt.Fprintf(&b, "- Guild: %s\n- Channel: %s\n- Session: %s\n", st.GuildID, st.ChannelID, st.SessionID)
		if st.ReciterID != "" {
			fmt.Fprintf(&b, "- Reciter: %s\n", st.ReciterID)
		}
	}
	return text("%s", b.String()), nil, nil
}
