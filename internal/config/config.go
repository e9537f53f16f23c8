package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fankserver/discord-recitation-mcp/internal/audio"
	"github.com/fankserver/discord-recitation-mcp/internal/pipeline"
	"github.com/fankserver/discord-recitation-mcp/internal/render"
	"github.com/fankserver/discord-recitation-mcp/internal/tracker"
	"github.com/fankserver/discord-recitation-mcp/pkg/similarity"
	"github.com/fankserver/discord-recitation-mcp/pkg/transcriber"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// RECITE_TRACKER_WORD_THRESHOLD
const EnvPrefix = "RECITE"

// DiscordConfig holds the bot credentials
type DiscordConfig struct {
	Token string `mapstructure:"token"`
	// UserID is the default reciter for voice sessions
	UserID string `mapstructure:"user_id"`
}

// Config is the complete runtime configuration
type Config struct {
	LogLevel    string                    `mapstructure:"log_level"`
	LogFormat   string                    `mapstructure:"log_format"`
	Corpus      string                    `mapstructure:"corpus"`
	ExportDir   string                    `mapstructure:"export_dir"`
	Scorer      string                    `mapstructure:"scorer"`
	Color       string                    `mapstructure:"color"`
	Transcriber string                    `mapstructure:"transcriber"`
	EventBuffer int                       `mapstructure:"event_buffer"`
	Tracker     tracker.Config            `mapstructure:"tracker"`
	Queue       pipeline.QueueConfig      `mapstructure:"queue"`
	Discord     DiscordConfig             `mapstructure:"discord"`
	Whisper     transcriber.WhisperConfig `mapstructure:"whisper"`
	Audio       audio.ProcessorConfig     `mapstructure:"audio"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Corpus:      "corpus.txt",
		ExportDir:   "exports",
		Scorer:      "ratio",
		Color:       "auto",
		Transcriber: "mock",
		EventBuffer: 256,
		Tracker:     tracker.DefaultConfig(),
		Queue:       pipeline.DefaultQueueConfig(),
		Whisper:     transcriber.DefaultWhisperConfig(),
		Audio:       audio.DefaultProcessorConfig(),
	}
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.Corpus == "" {
		errs = append(errs, errors.New("corpus path is required"))
	}
	if _, err := similarity.New(c.Scorer); err != nil {
		errs = append(errs, fmt.Errorf("scorer: %w", err))
	}
	if _, err := render.ParseColorMode(c.Color); err != nil {
		errs = append(errs, fmt.Errorf("color: %w", err))
	}
	if t := strings.ToLower(c.Transcriber); t != "mock" && t != "whisper" {
		errs = append(errs, fmt.Errorf("transcriber %q must be mock or whisper", c.Transcriber))
	}
	if c.Transcriber == "whisper" && c.Whisper.ModelPath == "" {
		errs = append(errs, errors.New("whisper.model_path is required for the whisper transcriber"))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event_buffer %d must be positive", c.EventBuffer))
	}
	if err := c.Tracker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracker: %w", err))
	}
	return errors.Join(errs...)
}

// ApplyLogging configures the global logrus logger. Logs go to stderr since
// stdout carries the MCP transport.
func (c Config) ApplyLogging() {
	logrus.SetOutput(os.Stderr)
	if strings.ToLower(c.LogFormat) == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// Manager loads configuration from defaults, an optional YAML file, a .env
// file and RECITE_* environment variables, and reloads it when the file
// changes
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    Config
	callbacks []func(Config)
}

// Load reads the configuration. An empty cfgFile searches for config.yaml
// in the working directory and $HOME/.discord-recitation-mcp; a missing
// file is not an error.
func Load(cfgFile string) (*Manager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("No .env file loaded, using environment variables")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// unprefixed names kept for existing deployments
	_ = v.BindEnv("discord.token", EnvPrefix+"_DISCORD_TOKEN", "DISCORD_TOKEN")
	_ = v.BindEnv("discord.user_id", EnvPrefix+"_DISCORD_USER_ID", "DISCORD_USER_ID")
	_ = v.BindEnv("log_level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("whisper.model_path", EnvPrefix+"_WHISPER_MODEL_PATH", "WHISPER_MODEL_PATH")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.discord-recitation-mcp")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	m := &Manager{v: v}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return m, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("corpus", d.Corpus)
	v.SetDefault("export_dir", d.ExportDir)
	v.SetDefault("scorer", d.Scorer)
	v.SetDefault("color", d.Color)
	v.SetDefault("transcriber", d.Transcriber)
	v.SetDefault("event_buffer", d.EventBuffer)

	v.SetDefault("tracker.word_threshold", d.Tracker.WordThreshold)
	v.SetDefault("tracker.verse_threshold", d.Tracker.VerseThreshold)
	v.SetDefault("tracker.jump_threshold", d.Tracker.JumpThreshold)
	v.SetDefault("tracker.max_jump_sequence", d.Tracker.MaxJumpSequence)
	v.SetDefault("tracker.lookahead", d.Tracker.Lookahead)

	v.SetDefault("queue.size", d.Queue.Size)

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.user_id", "")

	v.SetDefault("whisper.model_path", d.Whisper.ModelPath)
	v.SetDefault("whisper.binary", d.Whisper.Binary)
	v.SetDefault("whisper.ffmpeg", d.Whisper.FFmpeg)
	v.SetDefault("whisper.language", d.Whisper.Language)
	v.SetDefault("whisper.threads", d.Whisper.Threads)
	v.SetDefault("whisper.beam_size", d.Whisper.BeamSize)
	v.SetDefault("whisper.gpu_layers", d.Whisper.GPULayers)

	v.SetDefault("audio.partial_interval", d.Audio.PartialInterval)
	v.SetDefault("audio.silence_timeout", d.Audio.SilenceTimeout)
	v.SetDefault("audio.min_speech", d.Audio.MinSpeech)
	v.SetDefault("audio.max_segment", d.Audio.MaxSegment)
	v.SetDefault("audio.language", d.Audio.Language)
	v.SetDefault("audio.vad.energy_threshold", d.Audio.VAD.EnergyThreshold)
	v.SetDefault("audio.vad.speech_frames", d.Audio.VAD.SpeechFramesRequired)
	v.SetDefault("audio.vad.silence_frames", d.Audio.VAD.SilenceFramesRequired)
}

func (m *Manager) load() (Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Get returns the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ConfigFile returns the file the configuration was read from, if any
func (m *Manager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

// OnChange registers a callback for configuration reloads
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig reloads the configuration when the file changes. An invalid
// file is logged and the previous configuration stays in effect.
func (m *Manager) WatchConfig() {
	if m.v.ConfigFileUsed() == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if err := m.Reload(); err != nil {
			logrus.WithError(err).WithField("file", e.Name).Warn("Ignoring invalid config change")
		}
	})
	m.v.WatchConfig()
}

// Reload re-reads the config file and notifies OnChange callbacks. On error
// the previous configuration is kept.
func (m *Manager) Reload() error {
	if m.v.ConfigFileUsed() != "" {
		if err := m.v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	cfg, err := m.load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := make([]func(Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	logrus.WithField("file", m.v.ConfigFileUsed()).Info("Configuration reloaded")
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}
