package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/discord-recitation-mcp/pkg/transcriber"
	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

const (
	// Audio configuration (these are fixed by Discord)
	sampleRate = 48000
	channels   = 2
	frameSize  = 960 // 20ms @ 48kHz

	bytesPerSecond = sampleRate * channels * 2
)

// UserResolver interface for resolving SSRC to user information
type UserResolver interface {
	GetUserBySSRC(ssrc uint32) (userID, username, nickname string)
}

// Sink receives recognizer events for one recitation session
type Sink interface {
	SubmitPartial(ctx context.Context, id, text string) error
	SubmitFinal(ctx context.Context, id, text string) error
	SubmitWarning(ctx context.Context, id, message string) error
	ExpectedWords(id string) ([]string, error)
}

// ProcessorConfig holds audio segmentation settings
type ProcessorConfig struct {
	// PartialInterval is the amount of new speech between partial
	// transcriptions
	PartialInterval time.Duration `mapstructure:"partial_interval"`
	// SilenceTimeout finalizes a segment when no packets arrive at all
	SilenceTimeout time.Duration `mapstructure:"silence_timeout"`
	// MinSpeech discards segments shorter than this
	MinSpeech time.Duration `mapstructure:"min_speech"`
	// MaxSegment forces a final transcription of long segments
	MaxSegment time.Duration `mapstructure:"max_segment"`
	Language   string        `mapstructure:"language"`
	VAD        VADConfig     `mapstructure:"vad"`
}

// DefaultProcessorConfig returns default configuration
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PartialInterval: 2 * time.Second,
		SilenceTimeout:  1500 * time.Millisecond,
		MinSpeech:       300 * time.Millisecond,
		MaxSegment:      30 * time.Second,
	}
}

type job struct {
	audio []byte
	final bool
}

// Processor turns one reciter's voice into partial and final transcriptions
// for a session. Transcriptions run one at a time so results reach the
// session in the order the audio was spoken.
type Processor struct {
	transcriber transcriber.Transcriber
	sink        Sink
	sessionID   string
	config      ProcessorConfig
	logger      *logrus.Entry

	mu           sync.Mutex
	vad          *VoiceActivityDetector
	segment      []byte
	sincePartial int
	silenceTimer *time.Timer
	// silenceDeadline is zero while no timeout is pending
	silenceDeadline time.Time
	inSpeech        bool

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewProcessor creates a processor feeding sessionID and starts its
// transcription loop
func NewProcessor(t transcriber.Transcriber, sink Sink, sessionID string, config ProcessorConfig) *Processor {
	defaults := DefaultProcessorConfig()
	if config.PartialInterval <= 0 {
		config.PartialInterval = defaults.PartialInterval
	}
	if config.SilenceTimeout <= 0 {
		config.SilenceTimeout = defaults.SilenceTimeout
	}
	if config.MaxSegment <= 0 {
		config.MaxSegment = defaults.MaxSegment
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		transcriber: t,
		sink:        sink,
		sessionID:   sessionID,
		config:      config,
		logger:      logrus.WithField("session_id", sessionID),
		vad:         NewVoiceActivityDetector(config.VAD),
		jobs:        make(chan job, 8),
		ctx:         ctx,
		cancel:      cancel,
	}

	p.wg.Add(1)
	go p.transcribeLoop()

	return p
}

// ProcessVoiceReceive decodes packets from the reciter until the channel
// closes or ctx is cancelled. Packets from other speakers are ignored; an
// empty reciterID accepts every speaker.
func (p *Processor) ProcessVoiceReceive(ctx context.Context, packets <-chan *discordgo.Packet, resolver UserResolver, reciterID string) {
	decoder, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		p.logger.WithError(err).Error("Error creating opus decoder")
		p.warn(fmt.Sprintf("audio decoder unavailable: %v", err))
		return
	}

	p.logger.WithField("reciter", reciterID).Info("Started processing voice receive")
	defer p.logger.Info("Voice receive stopped")

	for {
		var packet *discordgo.Packet
		var ok bool
		select {
		case <-ctx.Done():
			return
		case packet, ok = <-packets:
			if !ok {
				p.Flush()
				return
			}
		}

		if reciterID != "" {
			if userID, _, _ := resolver.GetUserBySSRC(packet.SSRC); userID != reciterID {
				continue
			}
		}

		// Discord sends 3-byte opus frames during silence
		if len(packet.Opus) <= 3 {
			p.HandlePCM(make([]int16, frameSize*channels))
			continue
		}

		pcm, err := decoder.Decode(packet.Opus, frameSize, false)
		if err != nil {
			p.logger.WithError(err).Debug("Error decoding opus")
			continue
		}
		p.HandlePCM(pcm)
	}
}

// HandlePCM consumes one frame of interleaved 48kHz stereo samples
func (p *Processor) HandlePCM(pcm []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	switch p.vad.Process(pcm) {
	case SpeechStarted:
		p.inSpeech = true
		p.logger.Debug("Speech started")
	case SpeechEnded:
		p.logger.Debug("Speech ended")
		p.appendLocked(pcm)
		p.finalizeLocked()
		return
	}

	if !p.inSpeech && !p.vad.IsSpeaking() {
		// keep the onset frames that led up to SpeechStarted
		p.appendLocked(pcm)
		if keep := onsetBytes(p.config); len(p.segment) > keep {
			p.segment = p.segment[len(p.segment)-keep:]
		}
		p.sincePartial = 0
		return
	}

	p.appendLocked(pcm)
	p.resetSilenceTimerLocked()

	if len(p.segment) >= durationBytes(p.config.MaxSegment) {
		p.finalizeLocked()
		return
	}
	if p.sincePartial >= durationBytes(p.config.PartialInterval) {
		p.sincePartial = 0
		p.enqueueLocked(job{audio: clone(p.segment), final: false})
	}
}

// Flush finalizes buffered speech, as if the reciter had fallen silent
func (p *Processor) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.finalizeLocked()
}

// Close flushes buffered speech, waits for pending transcriptions and stops
// the processor
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.finalizeLocked()
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// onsetBytes is the amount of audio kept from before speech was detected
func onsetBytes(c ProcessorConfig) int {
	frames := c.VAD.SpeechFramesRequired
	if frames <= 0 {
		frames = 3
	}
	return (frames + 2) * frameSize * channels * 2
}

func (p *Processor) appendLocked(pcm []int16) {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		// #nosec G115 - reinterpreting the bits, not converting the value
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	p.segment = append(p.segment, buf...)
	p.sincePartial += len(buf)
}

func (p *Processor) finalizeLocked() {
	if p.silenceTimer != nil {
		p.silenceTimer.Stop()
	}
	p.silenceDeadline = time.Time{}

	wasSpeech := p.inSpeech
	audio := p.segment
	p.segment = nil
	p.sincePartial = 0
	p.inSpeech = false
	p.vad.Reset()

	if !wasSpeech || len(audio) < durationBytes(p.config.MinSpeech) {
		return
	}
	p.enqueueLocked(job{audio: audio, final: true})
}

func (p *Processor) resetSilenceTimerLocked() {
	p.silenceDeadline = time.Now().Add(p.config.SilenceTimeout)
	if p.silenceTimer == nil {
		p.silenceTimer = time.AfterFunc(p.config.SilenceTimeout, p.silenceExpired)
		return
	}
	p.silenceTimer.Reset(p.config.SilenceTimeout)
}

// silenceExpired runs on the timer goroutine. A firing that lost the race
// with a newer frame or a finalize finds the deadline moved or cleared and
// leaves the segment alone.
func (p *Processor) silenceExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.silenceDeadline.IsZero() || time.Now().Before(p.silenceDeadline) {
		return
	}
	p.logger.WithField("silence_duration", p.config.SilenceTimeout).Debug("Silence timeout, finalizing segment")
	p.finalizeLocked()
}

// enqueueLocked hands a job to the transcription loop. Finals always get
// through; a partial is skipped when the loop is behind. The loop never
// takes p.mu, so blocking here cannot deadlock.
func (p *Processor) enqueueLocked(j job) {
	if j.final {
		p.jobs <- j
		return
	}
	select {
	case p.jobs <- j:
	default:
		p.logger.Debug("Transcriber busy, skipping partial")
	}
}

func (p *Processor) transcribeLoop() {
	defer p.wg.Done()

	for j := range p.jobs {
		p.transcribe(j)
	}
}

func (p *Processor) transcribe(j job) {
	var opts transcriber.TranscribeOptions
	opts.Language = p.config.Language
	if words, err := p.sink.ExpectedWords(p.sessionID); err == nil {
		opts.Prompt = transcriber.CreateContextPrompt(words)
	}

	start := time.Now()
	text, err := transcriber.TranscribeWithContext(p.transcriber, j.audio, opts)
	if err != nil {
		p.logger.WithError(err).Error("Error transcribing audio")
		p.warn(fmt.Sprintf("transcription failed: %v", err))
		return
	}

	p.logger.WithFields(logrus.Fields{
		"final":        j.final,
		"audio_sec":    float64(len(j.audio)) / bytesPerSecond,
		"process_time": time.Since(start),
		"text_length":  len(text),
	}).Debug("Transcription complete")

	if text == "" {
		return
	}

	if j.final {
		err = p.sink.SubmitFinal(p.ctx, p.sessionID, text)
	} else {
		err = p.sink.SubmitPartial(p.ctx, p.sessionID, text)
	}
	if err != nil {
		p.logger.WithError(err).Debug("Session rejected transcription")
	}
}

func (p *Processor) warn(message string) {
	if err := p.sink.SubmitWarning(p.ctx, p.sessionID, message); err != nil {
		p.logger.WithError(err).Debug("Session rejected warning")
	}
}

func durationBytes(d time.Duration) int {
	return int(d.Seconds() * bytesPerSecond)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
