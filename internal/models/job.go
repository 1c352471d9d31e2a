package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"voxlate/internal/audio"
)

// TranslationJob は音声翻訳リクエスト1件とその処理状態
type TranslationJob struct {
	ID string `json:"id"`

	// 作成時に確定する属性
	SourceLanguage   string        `json:"source_language"`
	TargetLanguage   string        `json:"target_language"`
	OriginalFilename string        `json:"original_filename"`
	OriginalFileSize int64         `json:"original_file_size"`
	OriginalDuration time.Duration `json:"original_duration"`
	InputFormat      audio.Format  `json:"input_format"`
	UserID           string        `json:"user_id,omitempty"`
	Quality          Quality       `json:"quality"`
	Priority         int           `json:"priority"`

	// 処理状態
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	CurrentStep  string `json:"current_step,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	RetryCount   int    `json:"retry_count"`

	// 各ステップで生成されるファイルのパス（未生成なら空）
	OriginalAudioPath   string `json:"original_audio_path,omitempty"`
	TranslatedAudioPath string `json:"translated_audio_path,omitempty"`
	TranscriptPath      string `json:"transcript_path,omitempty"`
	TranslatedTextPath  string `json:"translated_text_path,omitempty"`

	// 出力
	OutputFormat       audio.Format  `json:"output_format,omitempty"`
	OutputFileSize     int64         `json:"output_file_size,omitempty"`
	ProcessingDuration time.Duration `json:"processing_duration,omitempty"`

	// タイムスタンプ（UTC）
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// Status はジョブの状態
type Status string

// ジョブステータス
const (
	StatusQueued                 Status = "queued"
	StatusValidating             Status = "validating"
	StatusProcessingSpeechToText Status = "processing_speech_to_text"
	StatusProcessingTranslation  Status = "processing_translation"
	StatusProcessingTextToSpeech Status = "processing_text_to_speech"
	StatusCompleted              Status = "completed"
	StatusFailed                 Status = "failed"
	StatusCancelled              Status = "cancelled"
	StatusExpired                Status = "expired"
)

// IsTerminal は終端状態かどうかを返す
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsActive は処理中（Queued・終端以外）かどうかを返す
func (s Status) IsActive() bool {
	return s != StatusQueued && !s.IsTerminal()
}

// 進捗チェックポイント
const (
	ProgressQueued       = 10
	ProgressValidating   = 15
	ProgressPreparing    = 25
	ProgressTranscribing = 40
	ProgressTranslating  = 60
	ProgressSynthesizing = 80
	ProgressCompleted    = 100
)

// Quality は音声合成の品質
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// ParseQuality は文字列を Quality に変換する（空なら standard）
func ParseQuality(s string) (Quality, error) {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case "", QualityStandard:
		return QualityStandard, nil
	case QualityHigh:
		return QualityHigh, nil
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// ジョブ優先度
const (
	JobPriorityImmediate = 0 // 即時処理
	JobPriorityNormal    = 5 // 通常処理
	JobPriorityBatch     = 9 // バッチ処理
)

const (
	// DefaultTTL は作成からの有効期限
	DefaultTTL = 24 * time.Hour

	// MaxRetries は明示的な再試行の上限
	MaxRetries = 3
)

var (
	// ErrTerminal は終端状態からの遷移を拒否したときのエラー
	ErrTerminal = errors.New("job is in a terminal state")

	// ErrNotRetryable は再試行できないジョブに対するエラー
	ErrNotRetryable = errors.New("job cannot be retried")
)

// NewJobParams はジョブ作成時の入力
type NewJobParams struct {
	SourceLanguage   string
	TargetLanguage   string
	OriginalFilename string
	OriginalFileSize int64
	OriginalDuration time.Duration
	InputFormat      audio.Format
	UserID           string
	Quality          Quality
	Priority         int
	TTL              time.Duration // 0 なら DefaultTTL
}

// NewTranslationJob は Queued 状態の新しいジョブを作成する
func NewTranslationJob(p NewJobParams, now time.Time) *TranslationJob {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	quality := p.Quality
	if quality == "" {
		quality = QualityStandard
	}
	now = now.UTC()

	return &TranslationJob{
		ID:               uuid.New().String(),
		SourceLanguage:   p.SourceLanguage,
		TargetLanguage:   p.TargetLanguage,
		OriginalFilename: p.OriginalFilename,
		OriginalFileSize: p.OriginalFileSize,
		OriginalDuration: p.OriginalDuration,
		InputFormat:      p.InputFormat,
		UserID:           p.UserID,
		Quality:          quality,
		Priority:         p.Priority,
		Status:           StatusQueued,
		CurrentStep:      "uploaded",
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
}

// SetProgress は進捗と現在のステップを更新する（0〜100に丸める）
func (j *TranslationJob) SetProgress(progress int, step string) {
	j.Progress = clamp(progress)
	if step != "" {
		j.CurrentStep = step
	}
}

// UpdateStatus は状態を遷移させる。終端状態からの遷移は ErrTerminal。
func (j *TranslationJob) UpdateStatus(status Status, progress int, step string, now time.Time) error {
	if j.Status.IsTerminal() && status != j.Status {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, j.Status, status)
	}

	now = now.UTC()
	if status.IsActive() && j.StartedAt == nil {
		j.StartedAt = &now
	}

	j.Status = status
	j.SetProgress(progress, step)

	if status == StatusCompleted {
		j.Progress = ProgressCompleted
		j.CompletedAt = &now
		if j.StartedAt != nil {
			j.ProcessingDuration = now.Sub(*j.StartedAt)
		}
	}
	return nil
}

// MarkFailed は Failed に遷移させ、再試行回数を加算する
func (j *TranslationJob) MarkFailed(message, detail string) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, j.Status, StatusFailed)
	}
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ErrorDetail = detail
	j.RetryCount++
	j.CurrentStep = "failed"
	return nil
}

// CanBeCancelled はキャンセル可能かどうかを返す
func (j *TranslationJob) CanBeCancelled() bool {
	return !j.Status.IsTerminal()
}

// Cancel は Cancelled に遷移させる。遷移しなかった場合は false。
func (j *TranslationJob) Cancel() bool {
	if !j.CanBeCancelled() {
		return false
	}
	j.Status = StatusCancelled
	j.CurrentStep = "cancelled"
	return true
}

// IsExpired は有効期限を過ぎているかどうかを返す
func (j *TranslationJob) IsExpired(now time.Time) bool {
	return now.After(j.ExpiresAt)
}

// Expire は Expired に遷移させる（期限切れ処理からの明示的な操作）
func (j *TranslationJob) Expire() bool {
	if j.Status == StatusExpired {
		return false
	}
	j.Status = StatusExpired
	j.CurrentStep = "expired"
	return true
}

// CanBeRetried は Failed かつ再試行回数が上限未満のとき true
func (j *TranslationJob) CanBeRetried() bool {
	return j.Status == StatusFailed && j.RetryCount < MaxRetries
}

// ResetForRetry は Failed のジョブを Queued に戻す。処理は最初のステップからやり直す。
func (j *TranslationJob) ResetForRetry() error {
	if !j.CanBeRetried() {
		return fmt.Errorf("%w: status=%s retries=%d", ErrNotRetryable, j.Status, j.RetryCount)
	}
	j.Status = StatusQueued
	j.Progress = ProgressQueued
	j.CurrentStep = "queued for retry"
	j.ErrorMessage = ""
	j.ErrorDetail = ""
	j.CompletedAt = nil
	return nil
}

// Clone はジョブのコピーを返す
func (j *TranslationJob) Clone() *TranslationJob {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func clamp(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
