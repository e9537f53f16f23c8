package audio

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Transition is a change of the detector's speaking state
type Transition int

const (
	// NoTransition means the state is unchanged
	NoTransition Transition = iota
	// SpeechStarted means enough voiced frames were seen
	SpeechStarted
	// SpeechEnded means enough silent frames followed speech
	SpeechEnded
)

// VADConfig holds configuration for Voice Activity Detector
type VADConfig struct {
	EnergyThreshold       float64 `mapstructure:"energy_threshold"`
	SpeechFramesRequired  int     `mapstructure:"speech_frames"`
	SilenceFramesRequired int     `mapstructure:"silence_frames"`
}

// VoiceActivityDetector classifies 20ms PCM frames as voice or silence from
// their energy and zero-crossing rate, with hysteresis on both edges
type VoiceActivityDetector struct {
	energyThreshold      float64
	adaptiveThreshold    float64
	backgroundNoiseLevel float64
	zcThreshold          float64
	smoothingFactor      float64

	speechCount           int
	silenceCount          int
	speechFramesRequired  int
	silenceFramesRequired int

	isSpeaking bool
}

// NewVoiceActivityDetector creates a new VAD instance
func NewVoiceActivityDetector(config VADConfig) *VoiceActivityDetector {
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = 0.01
	}
	if config.SpeechFramesRequired <= 0 {
		config.SpeechFramesRequired = 3
	}
	if config.SilenceFramesRequired <= 0 {
		// 600ms at 20ms frames; reciters pause briefly between words
		config.SilenceFramesRequired = 30
	}

	return &VoiceActivityDetector{
		energyThreshold:       config.EnergyThreshold,
		adaptiveThreshold:     config.EnergyThreshold,
		backgroundNoiseLevel:  0.001,
		zcThreshold:           0.25,
		smoothingFactor:       0.1,
		speechFramesRequired:  config.SpeechFramesRequired,
		silenceFramesRequired: config.SilenceFramesRequired,
	}
}

// Process analyzes one frame of interleaved samples and reports whether the
// speaking state changed
func (vad *VoiceActivityDetector) Process(samples []int16) Transition {
	if len(samples) == 0 {
		return NoTransition
	}

	energy := calculateRMS(samples)
	zcr := calculateZeroCrossingRate(samples)

	vad.updateNoiseEstimate(energy)
	isVoice := vad.classifyFrame(energy, zcr)

	was := vad.isSpeaking
	vad.updateState(isVoice)

	logrus.WithFields(logrus.Fields{
		"energy":      energy,
		"zcr":         zcr,
		"threshold":   vad.adaptiveThreshold,
		"is_voice":    isVoice,
		"is_speaking": vad.isSpeaking,
	}).Trace("VAD analysis")

	switch {
	case !was && vad.isSpeaking:
		return SpeechStarted
	case was && !vad.isSpeaking:
		return SpeechEnded
	default:
		return NoTransition
	}
}

// updateNoiseEstimate tracks background noise while not speaking
func (vad *VoiceActivityDetector) updateNoiseEstimate(energy float64) {
	if vad.isSpeaking || energy >= vad.adaptiveThreshold*2 {
		return
	}
	vad.backgroundNoiseLevel = vad.smoothingFactor*energy +
		(1-vad.smoothingFactor)*vad.backgroundNoiseLevel
	vad.adaptiveThreshold = math.Max(vad.backgroundNoiseLevel*3.0, vad.energyThreshold)
}

func (vad *VoiceActivityDetector) classifyFrame(energy, zcr float64) bool {
	if energy < vad.adaptiveThreshold {
		return false
	}
	// very high ZCR is noise rather than voice
	if zcr > vad.zcThreshold*2 {
		return false
	}
	return energy >= vad.backgroundNoiseLevel*2
}

func (vad *VoiceActivityDetector) updateState(isVoice bool) {
	if isVoice {
		vad.speechCount++
		vad.silenceCount = 0
		if vad.speechCount >= vad.speechFramesRequired {
			vad.isSpeaking = true
		}
		return
	}

	vad.silenceCount++
	vad.speechCount = 0
	if vad.silenceCount >= vad.silenceFramesRequired {
		vad.isSpeaking = false
	}
}

func calculateRMS(samples []int16) float64 {
	var sum float64
	for _, sample := range samples {
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func calculateZeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// Reset resets the VAD state
func (vad *VoiceActivityDetector) Reset() {
	vad.speechCount = 0
	vad.silenceCount = 0
	vad.isSpeaking = false
	vad.backgroundNoiseLevel = 0.001
	vad.adaptiveThreshold = vad.energyThreshold
}

// IsSpeaking returns the current speaking state
func (vad *VoiceActivityDetector) IsSpeaking() bool {
	return vad.isSpeaking
}
