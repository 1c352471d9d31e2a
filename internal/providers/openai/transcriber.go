package openai

import (
	"bytes"
	"context"
	"strings"

	"github.com/openai/openai-go/v3"

	"voxlate/internal/audio"
	"voxlate/internal/providers"
)

// Transcriber は OpenAI の音声文字起こし API を使う providers.Transcriber
type Transcriber struct {
	*Client
}

// NewTranscriber は Transcriber を作成する
func NewTranscriber(c *Client) *Transcriber {
	return &Transcriber{Client: c}
}

var _ providers.Transcriber = (*Transcriber)(nil)

// Transcribe は音声データを文字起こしする
// API は信頼度を返さないため Confidence は 0（不明）
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, format audio.Format, language string) (providers.Transcription, error) {
	if !format.Valid() {
		format = audio.Detect("", data, "")
	}

	var text string
	err := t.withRetry(ctx, "transcription", func() error {
		params := openai.AudioTranscriptionNewParams{
			File:  openai.File(bytes.NewReader(data), "audio"+format.Extension(), format.ContentType()),
			Model: openai.AudioModel(t.cfg.TranscriptionModel),
		}
		if language != "" {
			params.Language = openai.String(language)
		}

		res, err := t.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return err
		}
		text = res.Text
		return nil
	})
	if err != nil {
		return providers.Transcription{}, err
	}

	return providers.Transcription{
		Text:     strings.TrimSpace(text),
		Language: language,
	}, nil
}
