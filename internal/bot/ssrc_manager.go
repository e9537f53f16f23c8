package bot

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// UserInfo identifies a speaker in the voice channel
type UserInfo struct {
	UserID   string
	Username string
	Nickname string
}

// SSRCManager maps voice SSRCs to users. Mappings come only from
// VoiceSpeakingUpdate events; unknown SSRCs are never guessed.
type SSRCManager struct {
	mu         sync.RWMutex
	ssrcToUser map[uint32]UserInfo
	userToSSRC map[string]uint32

	guildID   string
	channelID string
}

// NewSSRCManager creates an empty SSRC manager
func NewSSRCManager() *SSRCManager {
	return &SSRCManager{
		ssrcToUser: make(map[uint32]UserInfo),
		userToSSRC: make(map[string]uint32),
	}
}

// SetChannel starts a fresh mapping for a new voice channel
func (m *SSRCManager) SetChannel(guildID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.guildID = guildID
	m.channelID = channelID
	m.ssrcToUser = make(map[uint32]UserInfo)
	m.userToSSRC = make(map[string]uint32)

	logrus.WithFields(logrus.Fields{
		"guild_id":   guildID,
		"channel_id": channelID,
	}).Debug("SSRC mappings reset for channel")
}

// MapSSRC records that ssrc belongs to the user. A user who reconnects gets
// a new SSRC; the old one is forgotten.
func (m *SSRCManager) MapSSRC(ssrc uint32, info UserInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.userToSSRC[info.UserID]; ok && old != ssrc {
		delete(m.ssrcToUser, old)
	}
	if prev, ok := m.ssrcToUser[ssrc]; ok && prev.UserID != info.UserID {
		delete(m.userToSSRC, prev.UserID)
	}
	m.ssrcToUser[ssrc] = info
	m.userToSSRC[info.UserID] = ssrc

	logrus.WithFields(logrus.Fields{
		"ssrc":     ssrc,
		"user_id":  info.UserID,
		"username": info.Username,
	}).Debug("SSRC mapped to user")
}

// GetUserBySSRC returns the user for ssrc. Unknown SSRCs resolve to the
// SSRC itself as user id, which never matches a Discord user.
func (m *SSRCManager) GetUserBySSRC(ssrc uint32) (userID, username, nickname string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if info, ok := m.ssrcToUser[ssrc]; ok {
		return info.UserID, info.Username, info.Nickname
	}
	id := strconv.FormatUint(uint64(ssrc), 10)
	return id, "Unknown-" + id, "Unknown-" + id
}

// SSRCForUser returns the SSRC last seen for userID
func (m *SSRCManager) SSRCForUser(userID string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ssrc, ok := m.userToSSRC[userID]
	return ssrc, ok
}

// Count returns the number of known mappings
func (m *SSRCManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ssrcToUser)
}

// Clear resets all mappings
func (m *SSRCManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ssrcToUser = make(map[uint32]UserInfo)
	m.userToSSRC = make(map[string]uint32)
}

// speakingHandler returns a voice handler that maps SSRCs as users start
// speaking, resolving names from the guild state when available
func (m *SSRCManager) speakingHandler(state *discordgo.State, guildID string) func(*discordgo.VoiceConnection, *discordgo.VoiceSpeakingUpdate) {
	return func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		if vs == nil || vs.SSRC < 0 {
			return
		}
		info := UserInfo{UserID: vs.UserID, Username: vs.UserID, Nickname: vs.UserID}
		if state != nil {
			if member, err := state.Member(guildID, vs.UserID); err == nil && member.User != nil {
				info.Username = member.User.Username
				info.Nickname = member.Nick
				if info.Nickname == "" {
					info.Nickname = info.Username
				}
			}
		}
		m.MapSSRC(uint32(vs.SSRC), info)
	}
}
