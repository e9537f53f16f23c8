package transcriber

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Transcriber interface for different transcription providers
type Transcriber interface {
	Transcribe(audio []byte) (string, error)
	Close() error
}

// WhisperConfig configures the whisper.cpp CLI transcriber
type WhisperConfig struct {
	ModelPath string `mapstructure:"model_path"`
	Binary    string `mapstructure:"binary"`
	FFmpeg    string `mapstructure:"ffmpeg"`
	Language  string `mapstructure:"language"`
	Threads   int    `mapstructure:"threads"`
	BeamSize  int    `mapstructure:"beam_size"`
	GPULayers int    `mapstructure:"gpu_layers"`
}

// DefaultWhisperConfig returns default configuration
func DefaultWhisperConfig() WhisperConfig {
	return WhisperConfig{
		Binary:   "whisper-cli",
		FFmpeg:   "ffmpeg",
		Language: "ar",
		Threads:  4,
		BeamSize: 1,
	}
}

// WhisperTranscriber uses the whisper.cpp CLI for transcription. Input is
// 48kHz stereo s16le PCM as produced by the Discord voice decoder.
type WhisperTranscriber struct {
	config      WhisperConfig
	whisperPath string
	ffmpegPath  string
}

// NewWhisperTranscriber creates a whisper.cpp based transcriber
func NewWhisperTranscriber(config WhisperConfig) (*WhisperTranscriber, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("whisper model file not found: %s", config.ModelPath)
		}
		return nil, fmt.Errorf("whisper model file not accessible: %w", err)
	}

	whisperPath, err := exec.LookPath(config.Binary)
	if err != nil {
		return nil, fmt.Errorf("whisper executable not found in PATH: %w", err)
	}

	ffmpegPath, err := exec.LookPath(config.FFmpeg)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg executable not found in PATH: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"whisper":    whisperPath,
		"ffmpeg":     ffmpegPath,
		"model":      config.ModelPath,
		"language":   config.Language,
		"threads":    config.Threads,
		"beam_size":  config.BeamSize,
		"gpu_layers": config.GPULayers,
	}).Info("Whisper transcriber initialized")

	return &WhisperTranscriber{
		config:      config,
		whisperPath: whisperPath,
		ffmpegPath:  ffmpegPath,
	}, nil
}

// Transcribe transcribes without a prompt
func (wt *WhisperTranscriber) Transcribe(audio []byte) (string, error) {
	return wt.TranscribeWithContext(audio, TranscribeOptions{})
}

// TranscribeWithContext transcribes with an optional prompt and language
// override
func (wt *WhisperTranscriber) TranscribeWithContext(audio []byte, opts TranscribeOptions) (string, error) {
	startTime := time.Now()

	// #nosec G204 - ffmpegPath is resolved at initialization
	cmd := exec.Command(wt.ffmpegPath,
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "-",
		"-ar", "16000",
		"-ac", "1",
		"-f", "wav",
		"-",
	)
	cmd.Stdin = bytes.NewReader(audio)

	var wavBuf, ffErr bytes.Buffer
	cmd.Stdout = &wavBuf
	cmd.Stderr = &ffErr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg error: %w: %s", err, strings.TrimSpace(ffErr.String()))
	}

	// #nosec G204 - whisperPath is resolved at initialization
	whisperCmd := exec.Command(wt.whisperPath, wt.args(opts)...)
	whisperCmd.Stdin = &wavBuf

	var outBuf, errBuf bytes.Buffer
	whisperCmd.Stdout = &outBuf
	whisperCmd.Stderr = &errBuf

	if err := whisperCmd.Run(); err != nil {
		logrus.WithFields(logrus.Fields{
			"error":  err,
			"stderr": errBuf.String(),
		}).Error("Whisper transcription failed")
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}

	transcript := CleanTranscript(outBuf.String())

	logrus.WithFields(logrus.Fields{
		"transcript_length": len(transcript),
		"processing_time":   time.Since(startTime),
		"has_prompt":        opts.Prompt != "",
	}).Debug("Whisper transcription complete")

	return transcript, nil
}

func (wt *WhisperTranscriber) args(opts TranscribeOptions) []string {
	language := wt.config.Language
	if opts.Language != "" {
		language = opts.Language
	}

	args := []string{
		"-m", wt.config.ModelPath,
		"-l", language,
		"-t", strconv.Itoa(wt.config.Threads),
		"-bs", strconv.Itoa(wt.config.BeamSize),
		"--no-timestamps",
	}
	if wt.config.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(wt.config.GPULayers))
	}
	if opts.Prompt != "" {
		args = append(args, "--prompt", opts.Prompt)
	}
	return append(args, "-f", "-")
}

func (wt *WhisperTranscriber) Close() error {
	return nil
}

// CleanTranscript removes whisper's non-speech markers and collapses
// whitespace. Audio without speech yields an empty string.
func CleanTranscript(raw string) string {
	var words []string
	for _, w := range strings.Fields(raw) {
		if strings.HasPrefix(w, "[") && strings.HasSuffix(w, "]") {
			continue
		}
		if strings.HasPrefix(w, "(") && strings.HasSuffix(w, ")") {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

// ErrScriptExhausted is returned by a strict MockTranscriber with no
// scripted texts left
var ErrScriptExhausted = errors.New("mock transcript script exhausted")

// MockTranscriber returns scripted texts in order, for tests and for running
// without a recognizer
type MockTranscriber struct {
	mu      sync.Mutex
	script  []string
	strict  bool
	prompts []string
	calls   int
}

// NewMockTranscriber creates a mock that returns texts one call at a time.
// Once the script is used up it returns empty transcripts.
func NewMockTranscriber(texts ...string) *MockTranscriber {
	return &MockTranscriber{script: texts}
}

// Strict makes an exhausted script fail with ErrScriptExhausted
func (mt *MockTranscriber) Strict() *MockTranscriber {
	mt.strict = true
	return mt
}

func (mt *MockTranscriber) Transcribe(audio []byte) (string, error) {
	return mt.TranscribeWithContext(audio, TranscribeOptions{})
}

func (mt *MockTranscriber) TranscribeWithContext(_ []byte, opts TranscribeOptions) (string, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.calls++
	mt.prompts = append(mt.prompts, opts.Prompt)
	if len(mt.script) == 0 {
		if mt.strict {
			return "", ErrScriptExhausted
		}
		return "", nil
	}
	text := mt.script[0]
	mt.script = mt.script[1:]
	return text, nil
}

// Calls returns how many transcriptions were requested
func (mt *MockTranscriber) Calls() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.calls
}

// Prompts returns the prompt passed with every call
func (mt *MockTranscriber) Prompts() []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return append([]string{}, mt.prompts...)
}

func (mt *MockTranscriber) Close() error {
	return nil
}
