package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlate/internal/audio"
	"voxlate/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)
	c.backoff = func(int) time.Duration { return 0 }
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "es", r.FormValue("language"))

		if _, header, err := r.FormFile("file"); assert.NoError(t, err) {
			assert.Equal(t, "audio.wav", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text": "  hola mundo \n"}`)
	}))

	res, err := NewTranscriber(c).Transcribe(context.Background(), audio.EncodeWAV(make([]float32, 160), 16000), audio.FormatWav, "es")
	require.NoError(t, err)
	assert.Equal(t, "hola mundo", res.Text)
	assert.Equal(t, "es", res.Language)
}

func TestTranslateRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error": {"message": "slow down", "type": "requests"}}`)
			return
		}

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		if assert.Len(t, body.Messages, 2) {
			assert.Equal(t, "system", body.Messages[0].Role)
			assert.Contains(t, body.Messages[0].Content, "from es to en")
			assert.Equal(t, "hola mundo", body.Messages[1].Content)
		}

		io.WriteString(w, `{"id": "c1", "object": "chat.completion", "created": 0, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello world"}}]}`)
	}))

	res, err := NewTranslator(c).Translate(context.Background(), "hola mundo", "es", "en")
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTranslateGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error": {"message": "overloaded"}}`)
	}))

	_, err := NewTranslator(c).Translate(context.Background(), "hola", "es", "en")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, int32(MaxRetries+1), calls.Load())
}

func TestTranslateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"message": "bad model"}}`)
	}))

	_, err := NewTranslator(c).Translate(context.Background(), "hola", "es", "en")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSynthesize(t *testing.T) {
	wav := audio.EncodeWAV(make([]float32, 24000), 24000)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tts-1-hd", body["model"])
		assert.Equal(t, "alloy", body["voice"])
		assert.Equal(t, "wav", body["response_format"])
		assert.Equal(t, "hello world", body["input"])

		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))

	res, err := NewSynthesizer(c, audio.FormatWav).Synthesize(context.Background(), "hello world", "en", models.QualityHigh)
	require.NoError(t, err)
	assert.Equal(t, wav, res.Audio)
	assert.Equal(t, audio.FormatWav, res.Format)
	assert.Equal(t, time.Second, res.Duration)
}

func TestResponseFormat(t *testing.T) {
	assert.EqualValues(t, "opus", responseFormat(audio.FormatOgg))
	assert.EqualValues(t, "mp3", responseFormat(audio.FormatMp3))
	assert.EqualValues(t, "flac", responseFormat(audio.FormatFlac))
}
