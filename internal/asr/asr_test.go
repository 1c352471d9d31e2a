package asr

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlate/internal/audio"
	"voxlate/internal/models"
	"voxlate/internal/providers"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func TestNewConfigDetectsModelFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "encoder.onnx", "encoder.int8.onnx", "decoder.onnx", "joiner.onnx", "tokens.txt")

	config, err := NewConfig(dir, "ja")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "encoder.int8.onnx"), config.EncoderPath, "int8 preferred")
	assert.Equal(t, filepath.Join(dir, "joiner.onnx"), config.JoinerPath)
	assert.Equal(t, 16000, config.SampleRate)
	assert.NoError(t, config.Validate())

	require.NoError(t, os.Remove(config.TokensPath))
	assert.Error(t, config.Validate())
}

func TestNewConfigMissingFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "encoder.onnx", "decoder.onnx")

	_, err := NewConfig(dir, "")
	assert.ErrorContains(t, err, "joiner model not found")
}

func TestNewTTSConfig(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "en_US-amy-low.onnx", "tokens.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "espeak-ng-data"), 0o755))

	config, err := NewTTSConfig(dir, "en")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "en_US-amy-low.onnx"), config.ModelPath)
	assert.Equal(t, filepath.Join(dir, "espeak-ng-data"), config.DataDir)
	assert.Empty(t, config.LexiconPath)
	assert.NoError(t, config.Validate())

	_, err = NewTTSConfig(t.TempDir(), "en")
	assert.ErrorContains(t, err, "TTS model not found")
}

func TestRecognizerTranscribe(t *testing.T) {
	var gotRate, gotLen int
	r := &Recognizer{
		config: &Config{Language: "ja", SampleRate: 16000},
		decode: func(samples []float32, sampleRate int) string {
			gotRate, gotLen = sampleRate, len(samples)
			return " こんにちは \n"
		},
	}

	wav := audio.EncodeWAV(make([]float32, 8000), 16000)
	res, err := r.Transcribe(context.Background(), wav, audio.FormatWav, "ja-JP")
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", res.Text)
	assert.Equal(t, "ja-JP", res.Language)
	assert.Equal(t, 16000, gotRate)
	assert.Equal(t, 8000, gotLen)
}

func TestRecognizerRejectsUnsupportedInput(t *testing.T) {
	r := &Recognizer{
		config: &Config{Language: "ja", SampleRate: 16000},
		decode: func([]float32, int) string { return "x" },
	}
	ctx := context.Background()

	_, err := r.Transcribe(ctx, audio.EncodeWAV(make([]float32, 10), 16000), audio.FormatWav, "en")
	assert.ErrorContains(t, err, "supports")

	_, err = r.Transcribe(ctx, []byte{0xFF, 0xFB}, audio.FormatMp3, "ja")
	assert.ErrorContains(t, err, "expects WAV")

	_, err = r.Transcribe(ctx, audio.EncodeWAV(make([]float32, 10), 44100), audio.FormatWav, "ja")
	assert.ErrorContains(t, err, "16000 Hz")
}

func TestSynthesizerSynthesize(t *testing.T) {
	s := &Synthesizer{
		config: &TTSConfig{Language: "en", SpeakerID: 3},
		generate: func(text string, sid int, speed float32) ([]float32, int) {
			assert.Equal(t, 3, sid)
			assert.Equal(t, float32(1.0), speed)
			return make([]float32, 22050), 22050
		},
	}

	res, err := s.Synthesize(context.Background(), "hello", "en", models.QualityHigh)
	require.NoError(t, err)
	assert.Equal(t, audio.FormatWav, res.Format)
	assert.Equal(t, time.Second, res.Duration)

	w, err := audio.ParseWAV(res.Audio)
	require.NoError(t, err)
	assert.Equal(t, 22050, w.SampleRate)
	assert.Equal(t, 1, w.Channels)
}

func TestSynthesizerEmptyOutput(t *testing.T) {
	s := &Synthesizer{
		config:   &TTSConfig{},
		generate: func(string, int, float32) ([]float32, int) { return nil, 0 },
	}
	_, err := s.Synthesize(context.Background(), "hello", "fr", models.QualityStandard)
	assert.ErrorIs(t, err, providers.ErrEmptyResult)
}

func TestSameLanguage(t *testing.T) {
	assert.True(t, sameLanguage("", "fr"))
	assert.True(t, sameLanguage("en", "EN_us"))
	assert.False(t, sameLanguage("ja", "en"))
}

// TestRecognizerWithModel runs the real model when it is available.
//
// This test requires SHERPA_ASR_MODEL_DIR pointing at a transducer model
// and testdata/speech.wav (16 kHz mono, not committed, local only).
func TestRecognizerWithModel(t *testing.T) {
	modelDir := os.Getenv("SHERPA_ASR_MODEL_DIR")
	if modelDir == "" {
		t.Skip("SHERPA_ASR_MODEL_DIR not set")
	}
	data, err := os.ReadFile(filepath.Join("testdata", "speech.wav"))
	if err != nil {
		t.Skip("Test audio not found: testdata/speech.wav (local test only)")
	}

	config, err := NewConfig(modelDir, "")
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}
	recognizer, err := NewRecognizer(config)
	if err != nil {
		t.Fatalf("Failed to create recognizer: %v", err)
	}
	defer recognizer.Close()

	result, err := recognizer.Transcribe(context.Background(), data, audio.FormatWav, "")
	if err != nil {
		t.Fatalf("Transcription failed: %v", err)
	}
	if result.Text == "" {
		t.Errorf("Expected non-empty transcription")
	}
	t.Logf("Transcription result: %s", result.Text)
}

func tone(seconds float64, sampleRate int, amplitude float32) []float32 {
	n := int(seconds * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude * float32(math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestDetectSpeechBlocks(t *testing.T) {
	const rate = 16000
	var samples []float32
	samples = append(samples, tone(1, rate, 0.5)...)
	samples = append(samples, make([]float32, rate)...) // 1s pause
	samples = append(samples, tone(0.5, rate, 0.5)...)

	blocks := detectSpeechBlocks(samples, rate, DefaultSilenceConfig())
	require.Len(t, blocks, 2)
	assert.InDelta(t, 0.0, blocks[0].StartTime, 0.05)
	assert.InDelta(t, 1.0, blocks[0].EndTime, 0.05)
	assert.InDelta(t, 2.0, blocks[1].StartTime, 0.05)
	assert.InDelta(t, 2.5, blocks[1].EndTime, 0.05)

	assert.Empty(t, detectSpeechBlocks(make([]float32, rate), rate, DefaultSilenceConfig()))
	assert.Empty(t, detectSpeechBlocks(nil, rate, DefaultSilenceConfig()))
}

func TestSplitLongBlocks(t *testing.T) {
	blocks := splitLongBlocks([]SpeechBlock{{StartTime: 0, EndTime: 5}, {StartTime: 6, EndTime: 7}}, 2)
	assert.Equal(t, []SpeechBlock{
		{StartTime: 0, EndTime: 2},
		{StartTime: 2, EndTime: 4},
		{StartTime: 4, EndTime: 5},
		{StartTime: 6, EndTime: 7},
	}, blocks)
}

func TestRecognizerDecodesBlocks(t *testing.T) {
	const rate = 16000
	var samples []float32
	samples = append(samples, tone(1, rate, 0.5)...)
	samples = append(samples, make([]float32, rate)...)
	samples = append(samples, tone(1, rate, 0.5)...)

	var calls int
	r := &Recognizer{
		config: &Config{SampleRate: rate, Silence: DefaultSilenceConfig()},
		decode: func(block []float32, _ int) string {
			calls++
			if calls == 1 {
				return "hello"
			}
			return " world "
		},
	}

	res, err := r.Transcribe(context.Background(), audio.EncodeWAV(samples, rate), audio.FormatWav, "en")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "hello world", res.Text)

	calls = 0
	res, err = r.Transcribe(context.Background(), audio.EncodeWAV(make([]float32, rate), rate), audio.FormatWav, "en")
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Empty(t, res.Text)
}
