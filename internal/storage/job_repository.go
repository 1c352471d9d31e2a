package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"voxlate/internal/audio"
	"voxlate/internal/models"
)

const jobColumns = `id, source_language, target_language, original_filename, original_file_size,
	original_duration, input_format, user_id, quality, priority,
	status, progress, current_step, error_message, error_detail, retry_count,
	original_audio_path, translated_audio_path, transcript_path, translated_text_path,
	output_format, output_file_size, processing_duration,
	created_at, started_at, completed_at, expires_at`

const jobAssignments = `source_language = ?, target_language = ?, original_filename = ?, original_file_size = ?,
	original_duration = ?, input_format = ?, user_id = ?, quality = ?, priority = ?,
	status = ?, progress = ?, current_step = ?, error_message = ?, error_detail = ?, retry_count = ?,
	original_audio_path = ?, translated_audio_path = ?, transcript_path = ?, translated_text_path = ?,
	output_format = ?, output_file_size = ?, processing_duration = ?,
	created_at = ?, started_at = ?, completed_at = ?, expires_at = ?`

// SQLiteJobRepository は SQLite によるジョブのデータアクセス層
type SQLiteJobRepository struct {
	db *DB
}

// NewSQLiteJobRepository は新しいSQLiteJobRepositoryを作成
func NewSQLiteJobRepository(db *DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

var _ JobRepository = (*SQLiteJobRepository)(nil)

// Create は新しいジョブを作成
func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.TranslationJob) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO translation_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		append([]any{job.ID}, jobValues(job)...)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	return nil
}

// GetByID はIDでジョブを取得
func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.TranslationJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM translation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Update はジョブ全体を置き換える
func (r *SQLiteJobRepository) Update(ctx context.Context, job *models.TranslationJob) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE translation_jobs SET `+jobAssignments+` WHERE id = ?`,
		append(jobValues(job), job.ID)...,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}

// UpdateIfStatus は保存済みステータスが expected の場合のみ置き換える
func (r *SQLiteJobRepository) UpdateIfStatus(ctx context.Context, job *models.TranslationJob, expected models.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE translation_jobs SET `+jobAssignments+` WHERE id = ? AND status = ?`,
		append(jobValues(job), job.ID, string(expected))...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	return n == 1, nil
}

// Delete はジョブを削除
func (r *SQLiteJobRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM translation_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// ListByUser はユーザーのジョブを新しい順に取得
func (r *SQLiteJobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.TranslationJob, error) {
	return r.query(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limitOrDefault(limit))
}

// ListExpired は期限切れのジョブを取得
func (r *SQLiteJobRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.TranslationJob, error) {
	return r.query(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs WHERE expires_at < ? AND status != ? ORDER BY expires_at`,
		now.UTC().UnixNano(), string(models.StatusExpired))
}

// ListByStatus はステータスでジョブ一覧を取得
func (r *SQLiteJobRepository) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.TranslationJob, error) {
	return r.query(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs WHERE status = ? ORDER BY priority, created_at LIMIT ?`,
		string(status), limitOrDefault(limit))
}

// ListFinishedBefore は終端状態で cutoff より前に終了したジョブを取得
// （完了時刻がない場合は作成時刻で判定）
func (r *SQLiteJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.TranslationJob, error) {
	statuses := terminalStatuses()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, cutoff.UTC().UnixNano(), limitOrDefault(limit))

	return r.query(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs
		 WHERE status IN (`+placeholders+`) AND COALESCE(completed_at, created_at) < ?
		 ORDER BY created_at LIMIT ?`,
		args...)
}

// CountByStatus はステータスごとのジョブ数を取得
func (r *SQLiteJobRepository) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM translation_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteJobRepository) query(ctx context.Context, query string, args ...any) ([]*models.TranslationJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.TranslationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// jobValues は id を除くカラム値を jobColumns の順で返す
func jobValues(j *models.TranslationJob) []any {
	return []any{
		j.SourceLanguage, j.TargetLanguage, j.OriginalFilename, j.OriginalFileSize,
		int64(j.OriginalDuration), string(j.InputFormat), j.UserID, string(j.Quality), j.Priority,
		string(j.Status), j.Progress, j.CurrentStep, j.ErrorMessage, j.ErrorDetail, j.RetryCount,
		j.OriginalAudioPath, j.TranslatedAudioPath, j.TranscriptPath, j.TranslatedTextPath,
		string(j.OutputFormat), j.OutputFileSize, int64(j.ProcessingDuration),
		j.CreatedAt.UTC().UnixNano(), nanosPtr(j.StartedAt), nanosPtr(j.CompletedAt), j.ExpiresAt.UTC().UnixNano(),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.TranslationJob, error) {
	var (
		j                                       models.TranslationJob
		inputFormat, quality, status, outFormat string
		originalDuration, processingDuration    int64
		createdAt, expiresAt                    int64
		startedAt, completedAt                  sql.NullInt64
	)
	err := s.Scan(
		&j.ID, &j.SourceLanguage, &j.TargetLanguage, &j.OriginalFilename, &j.OriginalFileSize,
		&originalDuration, &inputFormat, &j.UserID, &quality, &j.Priority,
		&status, &j.Progress, &j.CurrentStep, &j.ErrorMessage, &j.ErrorDetail, &j.RetryCount,
		&j.OriginalAudioPath, &j.TranslatedAudioPath, &j.TranscriptPath, &j.TranslatedTextPath,
		&outFormat, &j.OutputFileSize, &processingDuration,
		&createdAt, &startedAt, &completedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	j.OriginalDuration = time.Duration(originalDuration)
	j.ProcessingDuration = time.Duration(processingDuration)
	j.InputFormat = audio.Format(inputFormat)
	j.OutputFormat = audio.Format(outFormat)
	j.Quality = models.Quality(quality)
	j.Status = models.Status(status)
	j.CreatedAt = time.Unix(0, createdAt).UTC()
	j.ExpiresAt = time.Unix(0, expiresAt).UTC()
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	return &j, nil
}

func nanosPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
