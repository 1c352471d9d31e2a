package providers

import (
	"context"
	"errors"
	"time"

	"voxlate/internal/audio"
	"voxlate/internal/models"
)

// ErrEmptyResult is returned when a provider answers without content.
var ErrEmptyResult = errors.New("provider returned an empty result")

// Transcription is the text recognized from an audio clip.
type Transcription struct {
	Text       string
	Confidence float64
	Language   string
}

// Transcriber turns speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, format audio.Format, language string) (Transcription, error)
}

// Translation is a translated text.
type Translation struct {
	Text       string
	Confidence float64
}

// Translator translates text between languages.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (Translation, error)
}

// Speech is synthesized audio.
type Speech struct {
	Audio    []byte
	Format   audio.Format
	Duration time.Duration
}

// Synthesizer turns text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string, quality models.Quality) (Speech, error)
}
