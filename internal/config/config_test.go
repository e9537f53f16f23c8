package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Scorer = "soundex"
	cfg.Transcriber = "whisper"
	cfg.Tracker.WordThreshold = 101

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "scorer")
	assert.Contains(t, err.Error(), "whisper.model_path")
	assert.Contains(t, err.Error(), "word_threshold 101")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
corpus: /data/quran.txt
scorer: jaro-winkler
tracker:
  word_threshold: 70
  lookahead: 5
audio:
  partial_interval: 1s
  vad:
    silence_frames: 20
`)
	t.Setenv("RECITE_TRACKER_VERSE_THRESHOLD", "80")
	t.Setenv("DISCORD_TOKEN", "legacy-token")

	m, err := Load(path)
	require.NoError(t, err)
	cfg := m.Get()

	assert.Equal(t, path, m.ConfigFile())
	assert.Equal(t, "/data/quran.txt", cfg.Corpus)
	assert.Equal(t, "jaro-winkler", cfg.Scorer)
	assert.Equal(t, 70, cfg.Tracker.WordThreshold)
	assert.Equal(t, 80, cfg.Tracker.VerseThreshold)
	assert.Equal(t, 60, cfg.Tracker.JumpThreshold)
	assert.Equal(t, 3, cfg.Tracker.MaxJumpSequence)
	assert.Equal(t, 5, cfg.Tracker.Lookahead)
	assert.Equal(t, time.Second, cfg.Audio.PartialInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Audio.SilenceTimeout)
	assert.Equal(t, 20, cfg.Audio.VAD.SilenceFramesRequired)
	assert.Equal(t, "legacy-token", cfg.Discord.Token)
	assert.Equal(t, "ar", cfg.Whisper.Language)
	assert.Equal(t, 64, cfg.Queue.Size)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "tracker:\n  jump_threshold: 150\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jump_threshold 150")
}

func TestReloadNotifiesAndKeepsValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "tracker:\n  word_threshold: 65\n")

	m, err := Load(path)
	require.NoError(t, err)

	var got []int
	m.OnChange(func(c Config) { got = append(got, c.Tracker.WordThreshold) })

	writeConfig(t, dir, "tracker:\n  word_threshold: 75\n")
	require.NoError(t, m.Reload())
	assert.Equal(t, 75, m.Get().Tracker.WordThreshold)

	writeConfig(t, dir, "tracker:\n  word_threshold: -1\n")
	assert.Error(t, m.Reload())
	assert.Equal(t, 75, m.Get().Tracker.WordThreshold)

	assert.Equal(t, []int{75}, got)
}
