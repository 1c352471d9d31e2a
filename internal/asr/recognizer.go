package asr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"voxlate/internal/audio"
	"voxlate/internal/providers"
)

// Recognizer handles speech recognition using Sherpa-ONNX.
// It implements providers.Transcriber for 16-bit PCM WAV input.
type Recognizer struct {
	config     *Config
	recognizer *sherpa.OfflineRecognizer

	mu     sync.Mutex
	decode func(samples []float32, sampleRate int) string
}

var _ providers.Transcriber = (*Recognizer)(nil)

// NewRecognizer creates a new ASR recognizer with the given configuration
func NewRecognizer(config *Config) (*Recognizer, error) {
	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Create sherpa-onnx configuration
	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: config.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Transducer: sherpa.OfflineTransducerModelConfig{
				Encoder: config.EncoderPath,
				Decoder: config.DecoderPath,
				Joiner:  config.JoinerPath,
			},
			Tokens:     config.TokensPath,
			NumThreads: config.NumThreads,
			Debug:      0,
		},
	}

	// Create recognizer
	recognizer := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("failed to create offline recognizer")
	}

	r := &Recognizer{
		config:     config,
		recognizer: recognizer,
	}
	r.decode = r.decodeSherpa
	return r, nil
}

func (r *Recognizer) decodeSherpa(samples []float32, sampleRate int) string {
	// Create stream
	stream := sherpa.NewOfflineStream(r.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	// Accept waveform
	stream.AcceptWaveform(sampleRate, samples)

	// Decode
	r.recognizer.Decode(stream)

	return stream.GetResult().Text
}

// Transcribe recognizes speech in a WAV clip recorded at the model's
// sample rate. Other formats must be converted first. The clip is split at
// pauses and each block is decoded separately. Confidence is not reported
// by the model and is left at 0.
func (r *Recognizer) Transcribe(ctx context.Context, data []byte, format audio.Format, language string) (providers.Transcription, error) {
	if err := ctx.Err(); err != nil {
		return providers.Transcription{}, err
	}
	if !sameLanguage(r.config.Language, language) {
		return providers.Transcription{}, fmt.Errorf("recognizer model supports %q only, got %q", r.config.Language, language)
	}
	if format != audio.FormatWav {
		return providers.Transcription{}, fmt.Errorf("recognizer expects WAV input, got %s", format)
	}

	wav, err := audio.ParseWAV(data)
	if err != nil {
		return providers.Transcription{}, fmt.Errorf("failed to read audio: %w", err)
	}
	if wav.SampleRate != r.config.SampleRate {
		return providers.Transcription{}, fmt.Errorf("recognizer expects %d Hz audio, got %d Hz", r.config.SampleRate, wav.SampleRate)
	}
	samples, err := wav.Samples()
	if err != nil {
		return providers.Transcription{}, err
	}

	// Silent clips yield no blocks and an empty transcript
	blocks := detectSpeechBlocks(samples, wav.SampleRate, r.config.Silence)
	texts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return providers.Transcription{}, err
		}

		r.mu.Lock()
		text := r.decode(block.samples(samples, wav.SampleRate), wav.SampleRate)
		r.mu.Unlock()

		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}

	lang := language
	if lang == "" {
		lang = r.config.Language
	}
	return providers.Transcription{
		Text:     strings.Join(texts, " "),
		Language: lang,
	}, nil
}

// Close releases resources used by the recognizer
func (r *Recognizer) Close() error {
	if r.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(r.recognizer)
		r.recognizer = nil
	}
	return nil
}

// sameLanguage compares primary language subtags ("en-US" matches "en").
// An empty model language accepts anything.
func sameLanguage(model, requested string) bool {
	if model == "" || requested == "" {
		return true
	}
	primary := func(s string) string {
		s = strings.ToLower(s)
		if i := strings.IndexAny(s, "-_"); i >= 0 {
			s = s[:i]
		}
		return s
	}
	return primary(model) == primary(requested)
}
