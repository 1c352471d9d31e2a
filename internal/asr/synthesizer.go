package asr

import (
	"context"
	"fmt"
	"sync"
	"time"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"voxlate/internal/audio"
	"voxlate/internal/models"
	"voxlate/internal/providers"
)

// Synthesizer generates speech locally with a Sherpa-ONNX VITS model.
// It implements providers.Synthesizer and always returns mono WAV.
type Synthesizer struct {
	config *TTSConfig
	tts    *sherpa.OfflineTts

	mu       sync.Mutex
	generate func(text string, sid int, speed float32) ([]float32, int)
}

var _ providers.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a new TTS engine with the given configuration
func NewSynthesizer(config *TTSConfig) (*Synthesizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid TTS config: %w", err)
	}

	ttsConfig := sherpa.OfflineTtsConfig{}
	ttsConfig.Model.Vits.Model = config.ModelPath
	ttsConfig.Model.Vits.Tokens = config.TokensPath
	ttsConfig.Model.Vits.Lexicon = config.LexiconPath
	ttsConfig.Model.Vits.DataDir = config.DataDir
	ttsConfig.Model.NumThreads = config.NumThreads
	ttsConfig.Model.Provider = "cpu"
	ttsConfig.MaxNumSentences = 1

	tts := sherpa.NewOfflineTts(&ttsConfig)
	if tts == nil {
		return nil, fmt.Errorf("failed to create offline TTS")
	}

	s := &Synthesizer{config: config, tts: tts}
	s.generate = s.generateSherpa
	return s, nil
}

func (s *Synthesizer) generateSherpa(text string, sid int, speed float32) ([]float32, int) {
	generated := s.tts.Generate(text, sid, speed)
	if generated == nil {
		return nil, 0
	}
	return generated.Samples, generated.SampleRate
}

// Synthesize renders text as speech. The local model has a single quality
// level, so quality is ignored.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string, _ models.Quality) (providers.Speech, error) {
	if err := ctx.Err(); err != nil {
		return providers.Speech{}, err
	}
	if !sameLanguage(s.config.Language, language) {
		return providers.Speech{}, fmt.Errorf("TTS voice speaks %q only, got %q", s.config.Language, language)
	}

	speed := s.config.Speed
	if speed <= 0 {
		speed = 1.0
	}

	s.mu.Lock()
	samples, sampleRate := s.generate(text, s.config.SpeakerID, speed)
	s.mu.Unlock()

	if len(samples) == 0 || sampleRate <= 0 {
		return providers.Speech{}, providers.ErrEmptyResult
	}

	return providers.Speech{
		Audio:    audio.EncodeWAV(samples, sampleRate),
		Format:   audio.FormatWav,
		Duration: time.Duration(len(samples)) * time.Second / time.Duration(sampleRate),
	}, nil
}

// Close releases resources used by the TTS engine
func (s *Synthesizer) Close() error {
	if s.tts != nil {
		sherpa.DeleteOfflineTts(s.tts)
		s.tts = nil
	}
	return nil
}
