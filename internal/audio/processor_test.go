package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fankserver/discord-recitation-mcp/pkg/transcriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submission struct {
	kind string
	text string
}

// fakeSink records what the processor submits
type fakeSink struct {
	mu       sync.Mutex
	got      []submission
	expected []string
}

func (s *fakeSink) record(kind, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, submission{kind: kind, text: text})
	return nil
}

func (s *fakeSink) SubmitPartial(_ context.Context, _, text string) error {
	return s.record("partial", text)
}

func (s *fakeSink) SubmitFinal(_ context.Context, _, text string) error {
	return s.record("final", text)
}

func (s *fakeSink) SubmitWarning(_ context.Context, _, message string) error {
	return s.record("warning", message)
}

func (s *fakeSink) ExpectedWords(string) ([]string, error) {
	return s.expected, nil
}

func (s *fakeSink) submissions() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submission{}, s.got...)
}

func testConfig() ProcessorConfig {
	return ProcessorConfig{
		PartialInterval: 100 * time.Millisecond,
		SilenceTimeout:  time.Hour,
		VAD: VADConfig{
			SpeechFramesRequired:  2,
			SilenceFramesRequired: 3,
		},
	}
}

func TestProcessorPartialsThenFinal(t *testing.T) {
	mt := transcriber.NewMockTranscriber("bismi", "bismi allahi", "bismi allahi alrrahmani")
	sink := &fakeSink{expected: []string{"bismi", "allahi"}}
	p := NewProcessor(mt, sink, "s1", testConfig())

	// 2 onset frames plus 10 frames of speech: two partials at 100ms each
	for i := 0; i < 12; i++ {
		p.HandlePCM(voicedFrame())
	}
	require.Eventually(t, func() bool { return mt.Calls() == 2 }, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		p.HandlePCM(silentFrame())
	}
	p.Close()

	assert.Equal(t, []submission{
		{"partial", "bismi"},
		{"partial", "bismi allahi"},
		{"final", "bismi allahi alrrahmani"},
	}, sink.submissions())
	assert.Equal(t, []string{"bismi allahi", "bismi allahi", "bismi allahi"}, mt.Prompts())
}

func TestProcessorSilenceTimeoutFinalizes(t *testing.T) {
	mt := transcriber.NewMockTranscriber("alhamdu lillahi")
	sink := &fakeSink{}
	cfg := testConfig()
	cfg.SilenceTimeout = 30 * time.Millisecond
	p := NewProcessor(mt, sink, "s1", cfg)
	defer p.Close()

	for i := 0; i < 4; i++ {
		p.HandlePCM(voicedFrame())
	}

	require.Eventually(t, func() bool {
		return len(sink.submissions()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, submission{"final", "alhamdu lillahi"}, sink.submissions()[0])
}

func TestProcessorStaleSilenceTimeoutKeepsSegment(t *testing.T) {
	mt := transcriber.NewMockTranscriber("alhamdu lillahi")
	sink := &fakeSink{}
	p := NewProcessor(mt, sink, "s1", testConfig())

	for i := 0; i < 4; i++ {
		p.HandlePCM(voicedFrame())
	}
	p.mu.Lock()
	require.True(t, p.inSpeech)
	segment := len(p.segment)
	p.mu.Unlock()

	// a firing that was queued before the last frame re-armed the timer
	p.silenceExpired()

	p.mu.Lock()
	assert.True(t, p.inSpeech)
	assert.Equal(t, segment, len(p.segment))
	p.mu.Unlock()

	// and one that arrives after the segment was finalized
	p.Flush()
	p.silenceExpired()
	p.Close()

	assert.Equal(t, []submission{{"final", "alhamdu lillahi"}}, sink.submissions())
	assert.Equal(t, 1, mt.Calls())
}

func TestProcessorIgnoresSilenceOnly(t *testing.T) {
	mt := transcriber.NewMockTranscriber("unused")
	sink := &fakeSink{}
	p := NewProcessor(mt, sink, "s1", testConfig())

	for i := 0; i < 20; i++ {
		p.HandlePCM(silentFrame())
	}
	p.Flush()
	p.Close()

	assert.Zero(t, mt.Calls())
	assert.Empty(t, sink.submissions())
}

func TestProcessorDiscardsShortSpeech(t *testing.T) {
	mt := transcriber.NewMockTranscriber("unused")
	sink := &fakeSink{}
	cfg := testConfig()
	cfg.MinSpeech = time.Second
	p := NewProcessor(mt, sink, "s1", cfg)

	for i := 0; i < 3; i++ {
		p.HandlePCM(voicedFrame())
	}
	p.Flush()
	p.Close()

	assert.Zero(t, mt.Calls())
}

func TestProcessorReportsTranscriberErrors(t *testing.T) {
	mt := transcriber.NewMockTranscriber().Strict()
	sink := &fakeSink{}
	p := NewProcessor(mt, sink, "s1", testConfig())

	for i := 0; i < 3; i++ {
		p.HandlePCM(voicedFrame())
	}
	p.Flush()
	p.Close()

	got := sink.submissions()
	require.Len(t, got, 1)
	assert.Equal(t, "warning", got[0].kind)
	assert.Contains(t, got[0].text, "transcription failed")
}

func TestProcessorEmptyTranscriptIsNotSubmitted(t *testing.T) {
	mt := transcriber.NewMockTranscriber("")
	sink := &fakeSink{}
	p := NewProcessor(mt, sink, "s1", testConfig())

	for i := 0; i < 3; i++ {
		p.HandlePCM(voicedFrame())
	}
	p.Flush()
	p.Close()

	assert.Equal(t, 1, mt.Calls())
	assert.Empty(t, sink.submissions())
}

func TestProcessorMaxSegment(t *testing.T) {
	mt := transcriber.NewMockTranscriber("one", "two")
	sink := &fakeSink{}
	cfg := testConfig()
	cfg.PartialInterval = time.Hour
	cfg.MaxSegment = 200 * time.Millisecond
	p := NewProcessor(mt, sink, "s1", cfg)

	// 2 onset frames + 8 speech frames = 200ms triggers a forced final
	for i := 0; i < 10; i++ {
		p.HandlePCM(voicedFrame())
	}
	p.Close()

	got := sink.submissions()
	require.NotEmpty(t, got)
	assert.Equal(t, submission{"final", "one"}, got[0])
}

func TestProcessorCloseIsIdempotent(t *testing.T) {
	p := NewProcessor(transcriber.NewMockTranscriber(), &fakeSink{}, "s1", testConfig())
	p.Close()
	p.Close()
	p.HandlePCM(voicedFrame())
	p.Flush()
}

func TestDurationBytes(t *testing.T) {
	assert.Equal(t, bytesPerSecond, durationBytes(time.Second))
	assert.Equal(t, frameSize*channels*2, durationBytes(20*time.Millisecond))
}
