package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/discord-recitation-mcp/internal/audio"
	"github.com/fankserver/discord-recitation-mcp/internal/feedback"
	"github.com/fankserver/discord-recitation-mcp/internal/render"
	"github.com/fankserver/discord-recitation-mcp/internal/session"
	"github.com/fankserver/discord-recitation-mcp/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

// ErrNotReciting is returned by StopRecitation when no recitation is active
var ErrNotReciting = errors.New("no active recitation")

const helpText = "**Recitation commands**\n" +
	"`!recite [chapter]` join your voice channel and follow your recitation\n" +
	"`!stop` stop listening\n" +
	"`!status` show the current position\n" +
	"`!help` show this message"

// Request describes a recitation to follow in a voice channel
type Request struct {
	GuildID        string
	VoiceChannelID string
	// TextChannelID receives feedback messages; empty disables them
	TextChannelID string
	// ReciterID restricts capture to one user; empty accepts every speaker
	ReciterID string
	Chapter   int
}

// Status describes the bot's voice state
type Status struct {
	Connected bool   `json:"connected"`
	InVoice   bool   `json:"inVoice"`
	GuildID   string `json:"guildId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	ReciterID string `json:"reciterId,omitempty"`
}

type recitation struct {
	req       Request
	sessionID string
	conn      *discordgo.VoiceConnection
	processor *audio.Processor
	cancel    context.CancelFunc
	done      chan struct{}
}

// VoiceBot follows one reciter in a Discord voice channel and posts
// recitation feedback to the text channel the recitation was started from
type VoiceBot struct {
	discord     *discordgo.Session
	sessions    *session.Manager
	transcriber transcriber.Transcriber
	config      audio.ProcessorConfig
	ssrc        *SSRCManager
	send        func(channelID, content string) error
	unsubscribe func()

	mu     sync.Mutex
	active *recitation

	routesMu sync.RWMutex
	routes   map[string]string
}

// New creates a new VoiceBot instance. Feedback is posted for events on
// bus; a nil bus disables it.
func New(token string, sessions *session.Manager, bus *feedback.EventBus, t transcriber.Transcriber, config audio.ProcessorConfig) (*VoiceBot, error) {
	discord, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	vb := &VoiceBot{
		discord:     discord,
		sessions:    sessions,
		transcriber: t,
		config:      config,
		ssrc:        NewSSRCManager(),
		routes:      make(map[string]string),
	}
	vb.send = func(channelID, content string) error {
		_, err := discord.ChannelMessageSend(channelID, content)
		return err
	}

	discord.AddHandler(vb.ready)
	discord.AddHandler(vb.voiceStateUpdate)
	discord.AddHandler(vb.messageCreate)

	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	if bus != nil {
		vb.unsubscribe = bus.SubscribeAll(vb.onEvent)
	}

	return vb, nil
}

// Connect establishes connection to Discord
func (vb *VoiceBot) Connect() error {
	return vb.discord.Open()
}

// Disconnect stops any active recitation and closes the Discord connection
func (vb *VoiceBot) Disconnect() error {
	if _, err := vb.StopRecitation(); err != nil && !errors.Is(err, ErrNotReciting) {
		logrus.WithError(err).Warn("Error stopping recitation")
	}
	if vb.unsubscribe != nil {
		vb.unsubscribe()
	}
	return vb.discord.Close()
}

// StartRecitation joins the voice channel and starts a session that follows
// the reciter. A recitation already in progress is stopped first.
func (vb *VoiceBot) StartRecitation(ctx context.Context, req Request) (string, error) {
	if err := vb.sessions.Corpus().ValidateChapter(req.Chapter); err != nil {
		return "", err
	}
	if _, err := vb.StopRecitation(); err != nil && !errors.Is(err, ErrNotReciting) {
		logrus.WithError(err).Warn("Error stopping previous recitation")
	}

	vc, err := vb.discord.ChannelVoiceJoin(req.GuildID, req.VoiceChannelID, false, false)
	if err != nil {
		return "", fmt.Errorf("error joining voice channel: %w", err)
	}
	vb.ssrc.SetChannel(req.GuildID, req.VoiceChannelID)
	vc.AddHandler(vb.ssrc.speakingHandler(vb.discord.State, req.GuildID))

	id, err := vb.sessions.CreateSession(ctx, session.Options{
		Chapter:   req.Chapter,
		Source:    "discord",
		UserID:    req.ReciterID,
		ChannelID: req.VoiceChannelID,
	})
	if err != nil {
		if derr := vc.Disconnect(); derr != nil {
			logrus.WithError(derr).Debug("Error disconnecting from voice channel")
		}
		return "", err
	}
	if req.TextChannelID != "" {
		vb.routesMu.Lock()
		vb.routes[id] = req.TextChannelID
		vb.routesMu.Unlock()
	}

	processor := audio.NewProcessor(vb.transcriber, vb.sessions, id, vb.config)
	captureCtx, cancel := context.WithCancel(context.Background())
	r := &recitation{
		req:       req,
		sessionID: id,
		conn:      vc,
		processor: processor,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		processor.ProcessVoiceReceive(captureCtx, vc.OpusRecv, vb.ssrc, req.ReciterID)
	}()

	vb.mu.Lock()
	vb.active = r
	vb.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": id,
		"guild_id":   req.GuildID,
		"channel_id": req.VoiceChannelID,
		"reciter_id": req.ReciterID,
		"chapter":    req.Chapter,
	}).Info("Started recitation")

	return id, nil
}

// StopRecitation flushes buffered speech, ends the session and leaves the
// voice channel. It returns the ended session's id.
func (vb *VoiceBot) StopRecitation() (string, error) {
	vb.mu.Lock()
	r := vb.active
	vb.active = nil
	vb.mu.Unlock()

	if r == nil {
		return "", ErrNotReciting
	}

	r.cancel()
	<-r.done
	r.processor.Close()

	err := vb.sessions.EndSession(r.sessionID)
	if derr := r.conn.Disconnect(); derr != nil {
		logrus.WithError(derr).Debug("Error disconnecting from voice channel")
	}
	vb.ssrc.Clear()

	logrus.WithField("session_id", r.sessionID).Info("Stopped recitation")
	return r.sessionID, err
}

// GetStatus returns current bot status
func (vb *VoiceBot) GetStatus() Status {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	status := Status{Connected: vb.discord.DataReady}
	if r := vb.active; r != nil {
		status.InVoice = true
		status.GuildID = r.req.GuildID
		status.ChannelID = r.req.VoiceChannelID
		status.SessionID = r.sessionID
		status.ReciterID = r.req.ReciterID
	}
	return status
}

// onEvent posts bus events of routed sessions to their text channel
func (vb *VoiceBot) onEvent(ev feedback.Event) {
	vb.routesMu.RLock()
	channelID, ok := vb.routes[ev.SessionID]
	vb.routesMu.RUnlock()
	if !ok {
		return
	}

	switch ev.Type {
	case feedback.EventSessionCreated:
		return
	case feedback.EventSessionEnded:
		vb.routesMu.Lock()
		delete(vb.routes, ev.SessionID)
		vb.routesMu.Unlock()
		return
	}

	msg, ok := render.Markdown(ev)
	if !ok {
		return
	}
	if err := vb.send(channelID, msg); err != nil {
		logrus.WithError(err).WithField("session_id", ev.SessionID).Debug("Failed to post feedback")
	}
}

// Event handlers

func (vb *VoiceBot) ready(s *discordgo.Session, event *discordgo.Ready) {
	logrus.WithFields(logrus.Fields{
		"username": event.User.Username,
		"guilds":   len(event.Guilds),
	}).Info("Bot is ready")
}

func (vb *VoiceBot) voiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	vb.mu.Lock()
	r := vb.active
	vb.mu.Unlock()
	if r == nil || r.req.ReciterID == "" || vsu.UserID != r.req.ReciterID {
		return
	}
	if vsu.ChannelID == r.req.VoiceChannelID {
		return
	}

	logrus.WithField("user_id", vsu.UserID).Info("Reciter left the voice channel")
	go func() {
		if _, err := vb.StopRecitation(); err != nil && !errors.Is(err, ErrNotReciting) {
			logrus.WithError(err).Warn("Error stopping recitation")
		}
		if r.req.TextChannelID != "" {
			vb.reply(r.req.TextChannelID, "Reciter left the voice channel, stopped listening.")
		}
	}()
}

func (vb *VoiceBot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if !strings.HasPrefix(m.Content, "!") {
		return
	}

	if reply := vb.handleCommand(m.GuildID, m.ChannelID, m.Author.ID, m.Content); reply != "" {
		vb.reply(m.ChannelID, reply)
	}
}

// handleCommand runs one chat command and returns the reply
func (vb *VoiceBot) handleCommand(guildID, channelID, authorID, content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return ""
	}

	switch strings.ToLower(fields[0]) {
	case "!recite":
		chapter := vb.sessions.Corpus().FirstChapter()
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return "Usage: `!recite [chapter]`"
			}
			chapter = n
		}
		if err := vb.sessions.Corpus().ValidateChapter(chapter); err != nil {
			return fmt.Sprintf("Chapter %d is not available (%d-%d).", chapter,
				vb.sessions.Corpus().FirstChapter(), vb.sessions.Corpus().LastChapter())
		}

		voiceChannelID, ok := vb.voiceChannelOf(guildID, authorID)
		if !ok {
			return "You need to be in a voice channel!"
		}
		_, err := vb.StartRecitation(context.Background(), Request{
			GuildID:        guildID,
			VoiceChannelID: voiceChannelID,
			TextChannelID:  channelID,
			ReciterID:      authorID,
			Chapter:        chapter,
		})
		if err != nil {
			logrus.WithError(err).Error("Failed to start recitation")
			return "Could not start the recitation: " + err.Error()
		}
		return fmt.Sprintf("🎙️ Listening to <@%s>. Start reciting chapter **%d**.", authorID, chapter)

	case "!stop":
		if _, err := vb.StopRecitation(); err != nil {
			if errors.Is(err, ErrNotReciting) {
				return "Nothing to stop."
			}
			return "Error stopping: " + err.Error()
		}
		return "Stopped listening."

	case "!status":
		status := vb.GetStatus()
		if !status.InVoice {
			return "Not listening to anyone. Use `!recite [chapter]` to start."
		}
		snap, err := vb.sessions.GetSession(status.SessionID)
		if err != nil {
			return "Error: " + err.Error()
		}
		return fmt.Sprintf("Listening at **%s**, %d of %d verses correct.",
			snap.Position, snap.Stats.VersesCorrect, snap.Stats.VersesChecked)

	case "!help":
		return helpText
	}
	return ""
}

func (vb *VoiceBot) voiceChannelOf(guildID, userID string) (string, bool) {
	g, err := vb.discord.State.Guild(guildID)
	if err != nil || g == nil {
		logrus.WithFields(logrus.Fields{
			"guild_id": guildID,
			"error":    err,
		}).Debug("Could not find guild in state")
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

func (vb *VoiceBot) reply(channelID, content string) {
	if err := vb.send(channelID, content); err != nil {
		logrus.WithError(err).Debug("Failed to send message")
	}
}
