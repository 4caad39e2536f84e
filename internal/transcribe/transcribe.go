// Package transcribe wraps the external speech-to-text provider behind a
// narrow interface so it can be swapped or faked in tests without network
// access.
package transcribe

import (
	"context"
	"errors"
	"fmt"
)

// MaxAudioBytes is the upper bound on audio size. Oversized payloads are
// rejected locally before any network call.
const MaxAudioBytes int64 = 10 << 20

var (
	// ErrFileTooLarge means the audio payload exceeds MaxAudioBytes.
	ErrFileTooLarge = errors.New("audio file too large")

	// ErrNoSpeech means the provider returned an empty or whitespace-only
	// transcript.
	ErrNoSpeech = errors.New("no speech detected")
)

// ProviderError is a non-2xx response from the transcription provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("transcription provider returned status %d", e.Status)
}

// Transcriber converts raw audio bytes plus a MIME type into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}
