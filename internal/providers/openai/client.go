package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultTranscriptionModel はデフォルトの文字起こしモデル
	DefaultTranscriptionModel = "whisper-1"

	// DefaultTranslationModel はデフォルトの翻訳モデル
	DefaultTranslationModel = "gpt-4o-mini"

	// DefaultSpeechModel は standard 品質の音声合成モデル
	DefaultSpeechModel = "tts-1"

	// DefaultSpeechHDModel は high 品質の音声合成モデル
	DefaultSpeechHDModel = "tts-1-hd"

	// DefaultVoice はデフォルトの話者
	DefaultVoice = "alloy"

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Config は OpenAI プロバイダーの設定
type Config struct {
	APIKey             string
	BaseURL            string // 空なら公式エンドポイント
	TranscriptionModel string
	TranslationModel   string
	SpeechModel        string
	SpeechHDModel      string
	Voice              string
}

func (c *Config) applyDefaults() {
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.TranslationModel == "" {
		c.TranslationModel = DefaultTranslationModel
	}
	if c.SpeechModel == "" {
		c.SpeechModel = DefaultSpeechModel
	}
	if c.SpeechHDModel == "" {
		c.SpeechHDModel = DefaultSpeechHDModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
}

// Client は OpenAI API クライアントと共通のリトライ処理を保持する
type Client struct {
	client  openai.Client
	cfg     Config
	logger  *slog.Logger
	backoff func(attempt int) time.Duration
}

// NewClient は新しい Client を作成する
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// リトライは withRetry で行う
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		logger:  logger,
		backoff: exponentialBackoff,
	}, nil
}

func exponentialBackoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * BaseBackoff
	if d > MaxBackoff {
		d = MaxBackoff
	}
	return d
}

// withRetry はレート制限・一時的なサーバーエラーの場合に再試行する
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			c.logger.Warn("openai request retry", "op", op, "attempt", attempt, "wait", wait, "error", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable(err) {
			continue
		}
		return fmt.Errorf("OpenAI %s failed: %w", op, err)
	}

	return fmt.Errorf("OpenAI %s: %w: %v", op, ErrMaxRetriesExceeded, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}
