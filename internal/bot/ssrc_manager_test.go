package bot

import (
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestSSRCManagerBasicMapping(t *testing.T) {
	manager := NewSSRCManager()
	assert.Zero(t, manager.Count())

	userID, username, nickname := manager.GetUserBySSRC(12345)
	assert.Equal(t, "12345", userID)
	assert.Equal(t, "Unknown-12345", username)
	assert.Equal(t, "Unknown-12345", nickname)

	manager.MapSSRC(12345, UserInfo{UserID: "user123", Username: "TestUser", Nickname: "TestNick"})

	userID, username, nickname = manager.GetUserBySSRC(12345)
	assert.Equal(t, "user123", userID)
	assert.Equal(t, "TestUser", username)
	assert.Equal(t, "TestNick", nickname)
	assert.Equal(t, 1, manager.Count())

	ssrc, ok := manager.SSRCForUser("user123")
	assert.True(t, ok)
	assert.Equal(t, uint32(12345), ssrc)
}

func TestSSRCManagerUserReconnects(t *testing.T) {
	manager := NewSSRCManager()
	manager.MapSSRC(1, UserInfo{UserID: "u1"})
	manager.MapSSRC(2, UserInfo{UserID: "u1"})

	assert.Equal(t, 1, manager.Count())
	userID, _, _ := manager.GetUserBySSRC(1)
	assert.Equal(t, "1", userID)
	userID, _, _ = manager.GetUserBySSRC(2)
	assert.Equal(t, "u1", userID)
}

func TestSSRCManagerSSRCReassigned(t *testing.T) {
	manager := NewSSRCManager()
	manager.MapSSRC(7, UserInfo{UserID: "u1"})
	manager.MapSSRC(7, UserInfo{UserID: "u2"})

	_, ok := manager.SSRCForUser("u1")
	assert.False(t, ok)
	userID, _, _ := manager.GetUserBySSRC(7)
	assert.Equal(t, "u2", userID)
}

func TestSSRCManagerSetChannelClears(t *testing.T) {
	manager := NewSSRCManager()
	manager.MapSSRC(12345, UserInfo{UserID: "user-123"})

	manager.SetChannel("guild", "channel")
	assert.Zero(t, manager.Count())
	assert.Equal(t, "guild", manager.guildID)
	assert.Equal(t, "channel", manager.channelID)

	manager.MapSSRC(1, UserInfo{UserID: "a"})
	manager.Clear()
	assert.Zero(t, manager.Count())
}

func TestSpeakingHandlerMapsWithoutState(t *testing.T) {
	manager := NewSSRCManager()
	handler := manager.speakingHandler(nil, "guild")

	handler(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u9", SSRC: 99, Speaking: true})
	handler(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bad", SSRC: -1})
	handler(nil, nil)

	userID, username, _ := manager.GetUserBySSRC(99)
	assert.Equal(t, "u9", userID)
	assert.Equal(t, "u9", username)
	assert.Equal(t, 1, manager.Count())
}

func TestSpeakingHandlerResolvesMember(t *testing.T) {
	state := discordgo.NewState()
	guild := &discordgo.Guild{ID: "g1"}
	assert.NoError(t, state.GuildAdd(guild))
	assert.NoError(t, state.MemberAdd(&discordgo.Member{
		GuildID: "g1",
		User:    &discordgo.User{ID: "u1", Username: "reciter"},
	}))

	manager := NewSSRCManager()
	manager.speakingHandler(state, "g1")(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u1", SSRC: 5})

	_, username, nickname := manager.GetUserBySSRC(5)
	assert.Equal(t, "reciter", username)
	assert.Equal(t, "reciter", nickname)
}

func TestSSRCManagerConcurrentAccess(t *testing.T) {
	manager := NewSSRCManager()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ssrc := uint32(id*1000 + j)
				manager.MapSSRC(ssrc, UserInfo{UserID: fmt.Sprintf("user-%d-%d", id, j)})
				manager.GetUserBySSRC(ssrc)
				manager.Count()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, manager.Count())
}
