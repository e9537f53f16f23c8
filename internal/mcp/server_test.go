package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/fankserver/discord-recitation-mcp/internal/bot"
	"github.com/fankserver/discord-recitation-mcp/internal/session"
	"github.com/fankserver/discord-recitation-mcp/pkg/corpus"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockVoice struct {
	mock.Mock
}

func (m *mockVoice) StartRecitation(ctx context.Context, req bot.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockVoice) StopRecitation() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockVoice) GetStatus() bot.Status {
	return m.Called().Get(0).(bot.Status)
}

func newTestServer(t *testing.T, voice VoiceController) (*Server, *session.Manager) {
	t.Helper()
	c, err := corpus.Parse(strings.NewReader("1|1|sun moon star\n1|2|river lake sea\n2|1|wind rain snow\n"))
	require.NoError(t, err)
	sessions := session.NewManager(c, session.WithExportDir(t.TempDir()))
	t.Cleanup(sessions.Close)
	return NewServer(sessions, voice, "reciter-1", "test"), sessions
}

// connect returns a client session talking to srv over in-memory transports
func connect(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := srv.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text, res.IsError
}

func TestToolsAreListed(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	cs := connect(t, srv)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"start_recitation", "submit_transcript", "get_position", "get_session",
		"list_sessions", "end_session", "export_session",
		"join_voice_channel", "leave_voice_channel", "get_bot_status",
	}, names)
}

func TestRecitationOverMCP(t *testing.T) {
	srv, sessions := newTestServer(t, nil)
	cs := connect(t, srv)

	out, isErr := callText(t, cs, "start_recitation", map[string]any{"chapter": 1})
	require.False(t, isErr, out)
	assert.Contains(t, out, "at 1:1")
	assert.Contains(t, out, "Expected: sun moon star river lake sea")

	snaps := sessions.ListSessions()
	require.Len(t, snaps, 1)
	id := snaps[0].ID

	out, isErr = callText(t, cs, "submit_transcript", map[string]any{"sessionId": id, "text": "sun xyz"})
	require.False(t, isErr, out)
	assert.Equal(t, "Partial at 1:1: sun ~~xyz~~", out)

	out, _ = callText(t, cs, "submit_transcript", map[string]any{"sessionId": id, "text": "sun  xyz"})
	assert.Equal(t, "Partial ignored (repeated or empty)", out)

	out, isErr = callText(t, cs, "submit_transcript", map[string]any{"sessionId": id, "text": "sun moon star river", "final": true})
	require.False(t, isErr, out)
	assert.Contains(t, out, "**1:1** (100%)")
	assert.Contains(t, out, "Position: 1:2")
	assert.Contains(t, out, "Buffer: river")

	out, _ = callText(t, cs, "get_position", map[string]any{"sessionId": id})
	assert.Contains(t, out, "Status: active")
	assert.Contains(t, out, "Position: 1:2")
	assert.Contains(t, out, "Buffer: river")

	out, _ = callText(t, cs, "list_sessions", map[string]any{})
	assert.Contains(t, out, "Found 1 session(s)")
	assert.Contains(t, out, id+": active at 1:2, 1/1 verses correct")

	out, _ = callText(t, cs, "get_session", map[string]any{"sessionId": id})
	assert.Contains(t, out, `"id": "`+id+`"`)

	out, isErr = callText(t, cs, "export_session", map[string]any{"sessionId": id, "format": "yaml"})
	require.False(t, isErr, out)
	assert.Contains(t, out, ".yaml")

	out, _ = callText(t, cs, "end_session", map[string]any{"sessionId": id})
	assert.Equal(t, "Session "+id+" ended", out)

	_, isErr = callText(t, cs, "submit_transcript", map[string]any{"sessionId": id, "text": "lake sea", "final": true})
	assert.True(t, isErr)
}

func TestToolErrorsAreToolResults(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	cs := connect(t, srv)

	out, isErr := callText(t, cs, "start_recitation", map[string]any{"chapter": 7})
	assert.True(t, isErr)
	assert.Contains(t, out, "chapter out of range")

	out, isErr = callText(t, cs, "get_position", map[string]any{"sessionId": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, out, "session not found")

	out, isErr = callText(t, cs, "export_session", map[string]any{"sessionId": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, out, "failed to export session")
}

func TestVoiceToolsWithoutBot(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, _, err := srv.handleJoinVoiceChannel(context.Background(), nil, JoinVoiceChannelInput{GuildID: "g", ChannelID: "v", Chapter: 1})
	assert.ErrorIs(t, err, ErrNoVoice)

	_, _, err = srv.handleLeaveVoiceChannel(context.Background(), nil, EmptyInput{})
	assert.ErrorIs(t, err, ErrNoVoice)

	res, _, err := srv.handleGetBotStatus(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "not configured")
}

func TestJoinVoiceChannelDefaultsToConfiguredUser(t *testing.T) {
	voice := new(mockVoice)
	srv, _ := newTestServer(t, voice)

	voice.On("StartRecitation", mock.Anything, bot.Request{
		GuildID:        "g",
		VoiceChannelID: "v",
		ReciterID:      "reciter-1",
		Chapter:        2,
	}).Return("sess-1", nil)

	res, _, err := srv.handleJoinVoiceChannel(context.Background(), nil, JoinVoiceChannelInput{GuildID: "g", ChannelID: "v", Chapter: 2})
	require.NoError(t, err)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "listening to user reciter-1. Session sess-1")
	voice.AssertExpectations(t)
}

func TestLeaveAndStatusWithBot(t *testing.T) {
	voice := new(mockVoice)
	srv, _ := newTestServer(t, voice)

	voice.On("StopRecitation").Return("", bot.ErrNotReciting).Once()
	res, _, err := srv.handleLeaveVoiceChannel(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, "Not in a voice channel", res.Content[0].(*mcp.TextContent).Text)

	voice.On("StopRecitation").Return("sess-1", nil).Once()
	res, _, err = srv.handleLeaveVoiceChannel(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "session sess-1 ended")

	voice.On("GetStatus").Return(bot.Status{Connected: true, InVoice: true, GuildID: "g", ChannelID: "v", SessionID: "sess-2", ReciterID: "r"})
	res, _, err = srv.handleGetBotStatus(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	status := res.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, status, "Connected: true")
	assert.Contains(t, status, "Session: sess-2")
	assert.Contains(t, status, "Reciter: r")
}
