// Package speech defines the transcription and synthesis interfaces the
// voice pipeline consumes, plus HTTP clients for Whisper- and
// Piper-style servers. Both engines are external black boxes; only
// their request/response contracts live here.
package speech

import (
	"context"
	"errors"
)

// ErrNoSpeech reports that the transcription service found no speech in
// the submitted audio. The voice pipeline treats this as a recoverable
// condition, not a transport failure.
var ErrNoSpeech = errors.New("speech: no speech detected")

// Transcription is the result of converting recorded audio to text.
type Transcription struct {
	Text     string
	Language string
}

// Transcriber converts recorded audio to text with a detected language.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Transcription, error)
}

// Synthesizer converts reply text to playable audio. Synthesis failures
// are non-fatal to a turn: the caller logs them and completes the turn
// with a text-only response.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}
