package storage

import (
	"context"
	"errors"
	"time"

	"voxlate/internal/models"
)

var (
	// ErrJobExists は同じIDのジョブが既に存在する場合のエラー
	ErrJobExists = errors.New("job already exists")

	// ErrJobNotFound は更新対象のジョブが存在しない場合のエラー
	ErrJobNotFound = errors.New("job not found")
)

// DefaultListLimit は一覧取得の既定件数
const DefaultListLimit = 50

// JobRepository は翻訳ジョブの永続化層
//
// 複数のワーカーが別々のジョブを同時に更新し、並行してステータス参照が
// 行われることを前提とする。
type JobRepository interface {
	// Create は新しいジョブを保存する。同じIDが存在する場合は ErrJobExists。
	Create(ctx context.Context, job *models.TranslationJob) error

	// GetByID はIDでジョブを取得する。存在しない場合は nil, nil。
	GetByID(ctx context.Context, id string) (*models.TranslationJob, error)

	// Update はジョブ全体を置き換える（後勝ち）。存在しない場合は ErrJobNotFound。
	Update(ctx context.Context, job *models.TranslationJob) error

	// UpdateIfStatus は保存済みのステータスが expected の場合のみ置き換える。
	// 置き換えなかった場合は false。
	UpdateIfStatus(ctx context.Context, job *models.TranslationJob, expected models.Status) (bool, error)

	// Delete はジョブを削除する。存在しなくてもエラーにしない。
	Delete(ctx context.Context, id string) error

	// ListByUser はユーザーのジョブを新しい順に取得
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.TranslationJob, error)

	// ListExpired は有効期限切れで、まだ Expired になっていないジョブを取得
	ListExpired(ctx context.Context, now time.Time) ([]*models.TranslationJob, error)

	// ListByStatus はステータスでジョブ一覧を取得（優先度順、古い順）
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.TranslationJob, error)

	// ListFinishedBefore は cutoff より前に終了した終端状態のジョブを取得
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.TranslationJob, error)

	// CountByStatus はステータスごとのジョブ数を取得
	CountByStatus(ctx context.Context) (map[models.Status]int, error)
}

// terminalStatuses は終端状態の一覧
func terminalStatuses() []models.Status {
	return []models.Status{
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusCancelled,
		models.StatusExpired,
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
