package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"voxlate/internal/providers"
)

// MaxTranslationChars は1リクエストで翻訳する最大文字数の目安
const MaxTranslationChars = 4000

const translationPrompt = `You are a professional translator. Translate the user's text from %s to %s.
Reply with the translation only. Keep the meaning, tone and sentence order. Do not add notes or quotes.`

// Translator はチャット補完 API で翻訳する providers.Translator
type Translator struct {
	*Client
}

// NewTranslator は Translator を作成する
func NewTranslator(c *Client) *Translator {
	return &Translator{Client: c}
}

var _ providers.Translator = (*Translator)(nil)

// Translate はテキストを翻訳する
// API は信頼度を返さないため Confidence は 0（不明）
func (t *Translator) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (providers.Translation, error) {
	var out string
	err := t.withRetry(ctx, "translation", func() error {
		completion, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(t.cfg.TranslationModel),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(fmt.Sprintf(translationPrompt, sourceLanguage, targetLanguage)),
				openai.UserMessage(text),
			},
			Temperature: openai.Float(0),
		})
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return fmt.Errorf("no completion choices returned")
		}
		out = completion.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return providers.Translation{}, err
	}

	return providers.Translation{Text: strings.TrimSpace(out)}, nil
}
