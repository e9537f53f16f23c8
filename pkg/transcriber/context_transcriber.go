package transcriber

import "strings"

const (
	// ContextWordCount is the number of expected words passed as prompt
	ContextWordCount = 30
)

// TranscribeOptions provides additional context for transcription
type TranscribeOptions struct {
	// Prompt primes the recognizer with the text it is about to hear
	Prompt string

	// Language hint overriding the configured one (e.g., "ar")
	Language string
}

// ContextAwareTranscriber extends the basic Transcriber with context support
type ContextAwareTranscriber interface {
	Transcriber
	// TranscribeWithContext performs transcription with additional context
	TranscribeWithContext(audio []byte, opts TranscribeOptions) (string, error)
}

// TranscribeWithContext attempts to use context-aware transcription if available,
// falling back to basic transcription if not supported
func TranscribeWithContext(t Transcriber, audio []byte, opts TranscribeOptions) (string, error) {
	if cat, ok := t.(ContextAwareTranscriber); ok {
		return cat.TranscribeWithContext(audio, opts)
	}
	return t.Transcribe(audio)
}

// CreateContextPrompt builds a prompt from the leading ContextWordCount
// words of the expected text
func CreateContextPrompt(expected []string) string {
	if len(expected) > ContextWordCount {
		expected = expected[:ContextWordCount]
	}
	return strings.Join(expected, " ")
}
