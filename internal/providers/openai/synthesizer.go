package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go/v3"

	"voxlate/internal/audio"
	"voxlate/internal/models"
	"voxlate/internal/providers"
)

// MaxSpeechChars は音声合成 API の入力上限
const MaxSpeechChars = 4096

// Synthesizer は OpenAI の音声合成 API を使う providers.Synthesizer
type Synthesizer struct {
	*Client
	format audio.Format
}

// NewSynthesizer は指定フォーマットで音声を返す Synthesizer を作成する
func NewSynthesizer(c *Client, format audio.Format) *Synthesizer {
	if !format.Valid() {
		format = audio.FormatMp3
	}
	return &Synthesizer{Client: c, format: format}
}

var _ providers.Synthesizer = (*Synthesizer)(nil)

// responseFormat は API の response_format 名を返す（ogg は Ogg Opus）
func responseFormat(f audio.Format) openai.AudioSpeechNewParamsResponseFormat {
	if f == audio.FormatOgg {
		return openai.AudioSpeechNewParamsResponseFormat("opus")
	}
	return openai.AudioSpeechNewParamsResponseFormat(string(f))
}

// Synthesize はテキストから音声を生成する
// 言語は入力テキストから API が判定する
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string, quality models.Quality) (providers.Speech, error) {
	model := s.cfg.SpeechModel
	if quality == models.QualityHigh {
		model = s.cfg.SpeechHDModel
	}

	var data []byte
	err := s.withRetry(ctx, "speech", func() error {
		resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
			Input:          text,
			Model:          openai.SpeechModel(model),
			Voice:          openai.AudioSpeechNewParamsVoice(s.cfg.Voice),
			ResponseFormat: responseFormat(s.format),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read speech audio: %w", err)
		}
		return nil
	})
	if err != nil {
		return providers.Speech{}, err
	}

	speech := providers.Speech{Audio: data, Format: s.format}
	if s.format == audio.FormatWav {
		if w, err := audio.ParseWAV(data); err == nil {
			speech.Duration = w.Duration()
		}
	}
	return speech, nil
}
