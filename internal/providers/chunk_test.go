package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlate/internal/audio"
	"voxlate/internal/models"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "Hola. ¿Cómo estás? ¡Bien!", []string{"Hola.", "¿Cómo estás?", "¡Bien!"}},
		{"decimal stays", "Pi is 3.14 roughly. Yes.", []string{"Pi is 3.14 roughly.", "Yes."}},
		{"ellipsis and runs", "Wait... what?! Ok", []string{"Wait...", "what?!", "Ok"}},
		{"closing quote", `He said "stop." Then left.`, []string{`He said "stop."`, "Then left."}},
		{"full width", "こんにちは。元気ですか？はい。", []string{"こんにちは。", "元気ですか？", "はい。"}},
		{"no terminal", "  just words  ", []string{"just words"}},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.in))
		})
	}
}

func TestChunkTextPreservesContent(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40) +
		"Is this the end? Not quite! " +
		strings.Repeat("Another sentence without much meaning follows here. ", 25)

	for _, max := range []int{60, 100, 250, 1000} {
		chunks := ChunkText(text, max)
		require.Greater(t, len(chunks), 1, "max=%d", max)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), max)
			assert.Equal(t, strings.TrimSpace(c), c)
		}
		assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")), "max=%d", max)
	}
}

func TestChunkTextKeepsSentencesWhole(t *testing.T) {
	chunks := ChunkText("One two three. Four five six. Seven eight nine.", 30)
	assert.Equal(t, []string{"One two three. Four five six.", "Seven eight nine."}, chunks)
}

func TestChunkTextOversizedSentence(t *testing.T) {
	long := "alpha beta gamma delta epsilon zeta eta theta iota kappa."
	chunks := ChunkText(long, 20)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 20)
	}
	assert.Equal(t, strings.Fields(long), strings.Fields(strings.Join(chunks, " ")))

	word := strings.Repeat("x", 25)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), "xxxxx"}, ChunkText(word, 10))
}

func TestChunkTextShortInput(t *testing.T) {
	assert.Equal(t, []string{"short"}, ChunkText("  short ", 100))
	assert.Equal(t, []string{"no limit at all"}, ChunkText("no limit at all", 0))
	assert.Nil(t, ChunkText("", 10))
}

type recordingTranslator struct {
	inputs []string
	fail   int
}

func (r *recordingTranslator) Translate(_ context.Context, text, _, _ string) (Translation, error) {
	r.inputs = append(r.inputs, text)
	if r.fail > 0 && len(r.inputs) == r.fail {
		return Translation{}, errors.New("rate limited")
	}
	return Translation{Text: "[" + text + "]", Confidence: 0.8}, nil
}

func TestChunkedTranslator(t *testing.T) {
	inner := &recordingTranslator{}
	tr := &ChunkedTranslator{Inner: inner, MaxChars: 30}

	res, err := tr.Translate(context.Background(), "One two three. Four five six. Seven eight nine.", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, []string{"One two three. Four five six.", "Seven eight nine."}, inner.inputs)
	assert.Equal(t, "[One two three. Four five six.] [Seven eight nine.]", res.Text)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestChunkedTranslatorShortInputPassesThrough(t *testing.T) {
	inner := &recordingTranslator{}
	tr := &ChunkedTranslator{Inner: inner, MaxChars: 100}

	_, err := tr.Translate(context.Background(), " Hola. ", "es", "en")
	require.NoError(t, err)
	assert.Equal(t, []string{" Hola. "}, inner.inputs)
}

func TestChunkedTranslatorStopsOnError(t *testing.T) {
	inner := &recordingTranslator{fail: 2}
	tr := &ChunkedTranslator{Inner: inner, MaxChars: 15}

	_, err := tr.Translate(context.Background(), "Aaaa bbbb. Cccc dddd. Eeee ffff.", "en", "de")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Len(t, inner.inputs, 2)
}

func TestChunkedTranslatorHonorsContextBetweenChunks(t *testing.T) {
	inner := &recordingTranslator{}
	tr := &ChunkedTranslator{Inner: inner, MaxChars: 15, Delay: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Translate(ctx, "Aaaa bbbb. Cccc dddd. Eeee ffff.", "en", "de")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, inner.inputs, 1)
}

type wavSynth struct {
	calls  int
	format audio.Format
}

func (w *wavSynth) Synthesize(_ context.Context, text, _ string, _ models.Quality) (Speech, error) {
	w.calls++
	format := w.format
	if format == "" {
		format = audio.FormatWav
	}
	samples := make([]float32, 160*len(text))
	return Speech{Audio: audio.EncodeWAV(samples, 16000), Format: format, Duration: time.Duration(len(text)) * 10 * time.Millisecond}, nil
}

func TestChunkedSynthesizerStitchesWAV(t *testing.T) {
	inner := &wavSynth{}
	s := &ChunkedSynthesizer{Inner: inner, MaxChars: 15}

	text := "Aaaa bbbb. Cccc dddd. Eeee ffff."
	res, err := s.Synthesize(context.Background(), text, "en", models.QualityStandard)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, audio.FormatWav, res.Format)

	w, err := audio.ParseWAV(res.Audio)
	require.NoError(t, err, "stitched output is a single valid WAV file")
	assert.Len(t, w.Data, 3*160*10*2)
	assert.Equal(t, 300*time.Millisecond, res.Duration)
}

type flakySynth struct{ n int }

func (f *flakySynth) Synthesize(_ context.Context, _, _ string, _ models.Quality) (Speech, error) {
	f.n++
	if f.n == 2 {
		return Speech{Format: audio.FormatMp3}, nil
	}
	return Speech{Audio: []byte{0xFF, 0xFB}, Format: audio.FormatMp3}, nil
}

func TestChunkedSynthesizerEmptyChunk(t *testing.T) {
	s := &ChunkedSynthesizer{Inner: &flakySynth{}, MaxChars: 15}
	_, err := s.Synthesize(context.Background(), "Aaaa bbbb. Cccc dddd. Eeee ffff.", "en", models.QualityHigh)
	assert.ErrorIs(t, err, ErrEmptyResult)
}
