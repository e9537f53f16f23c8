package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// voicedFrame is a 20ms stereo frame of a low-frequency tone
func voicedFrame() []int16 {
	frame := make([]int16, frameSize*channels)
	for i := range frame {
		angle := float64(i/channels) * 2.0 * math.Pi / 240.0
		frame[i] = int16(10000 * math.Sin(angle))
	}
	return frame
}

func silentFrame() []int16 {
	return make([]int16, frameSize*channels)
}

func TestVADConfigDefaults(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{})

	assert.Equal(t, 0.01, vad.energyThreshold)
	assert.Equal(t, 3, vad.speechFramesRequired)
	assert.Equal(t, 30, vad.silenceFramesRequired)
	assert.False(t, vad.IsSpeaking())

	vad = NewVoiceActivityDetector(VADConfig{EnergyThreshold: 0.02, SpeechFramesRequired: 5, SilenceFramesRequired: 20})
	assert.Equal(t, 0.02, vad.energyThreshold)
	assert.Equal(t, 5, vad.speechFramesRequired)
	assert.Equal(t, 20, vad.silenceFramesRequired)
}

func TestVADEmptyFrame(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{})
	assert.Equal(t, NoTransition, vad.Process(nil))
	assert.False(t, vad.IsSpeaking())
}

func TestVADSilence(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{})
	for i := 0; i < 40; i++ {
		assert.Equal(t, NoTransition, vad.Process(silentFrame()))
	}
	assert.False(t, vad.IsSpeaking())
}

func TestVADRejectsHighFrequencyNoise(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{})
	noise := make([]int16, frameSize*channels)
	for i := range noise {
		if i%2 == 0 {
			noise[i] = 5000
		} else {
			noise[i] = -5000
		}
	}
	for i := 0; i < 10; i++ {
		vad.Process(noise)
	}
	assert.False(t, vad.IsSpeaking())
}

func TestVADTransitionsWithHysteresis(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{SpeechFramesRequired: 3, SilenceFramesRequired: 5})

	assert.Equal(t, NoTransition, vad.Process(voicedFrame()))
	assert.Equal(t, NoTransition, vad.Process(voicedFrame()))
	assert.Equal(t, SpeechStarted, vad.Process(voicedFrame()))
	assert.Equal(t, NoTransition, vad.Process(voicedFrame()))

	for i := 0; i < 4; i++ {
		assert.Equal(t, NoTransition, vad.Process(silentFrame()), "still speaking during hysteresis")
		assert.True(t, vad.IsSpeaking())
	}
	assert.Equal(t, SpeechEnded, vad.Process(silentFrame()))
	assert.False(t, vad.IsSpeaking())
}

func TestVADNoiseAdaptation(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{})
	low := make([]int16, frameSize*channels)
	for i := range low {
		low[i] = 100
	}

	initial := vad.backgroundNoiseLevel
	for i := 0; i < 50; i++ {
		vad.Process(low)
	}
	assert.NotEqual(t, initial, vad.backgroundNoiseLevel)
	assert.GreaterOrEqual(t, vad.adaptiveThreshold, vad.energyThreshold)
}

func TestCalculateRMS(t *testing.T) {
	assert.InDelta(t, 0.0, calculateRMS([]int16{0, 0, 0, 0}), 0.001)
	assert.InDelta(t, 1000.0/32768.0, calculateRMS([]int16{1000, -1000, 1000, -1000}), 0.001)
	assert.InDelta(t, 32767.0/32768.0, calculateRMS([]int16{32767, 32767}), 0.001)
}

func TestCalculateZeroCrossingRate(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{"no_crossings", []int16{100, 200, 300, 400}, 0.0},
		{"all_crossings", []int16{100, -100, 100, -100}, 1.0},
		{"one_crossing", []int16{100, 100, -100, -100}, 1.0 / 3.0},
		{"with_zero", []int16{100, 0, -100}, 1.0 / 2.0},
		{"single_sample", []int16{100}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, calculateZeroCrossingRate(tt.samples), 0.01)
		})
	}
}

func TestVADReset(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{})
	vad.speechCount = 5
	vad.silenceCount = 10
	vad.isSpeaking = true
	vad.backgroundNoiseLevel = 0.05
	vad.adaptiveThreshold = 0.1

	vad.Reset()

	assert.Equal(t, 0, vad.speechCount)
	assert.Equal(t, 0, vad.silenceCount)
	assert.False(t, vad.isSpeaking)
	assert.Equal(t, 0.001, vad.backgroundNoiseLevel)
	assert.Equal(t, vad.energyThreshold, vad.adaptiveThreshold)
}

func BenchmarkVADProcess(b *testing.B) {
	vad := NewVoiceActivityDetector(VADConfig{})
	frame := voicedFrame()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vad.Process(frame)
	}
}
