package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"voxlate/internal/audio"
	"voxlate/internal/models"
)

// ConnectMongo は MongoDB に接続し、疎通を確認する
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	// 接続確認
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// jobDocument は MongoDB に保存するジョブの表現
// （MongoDB の日時はミリ秒精度）
type jobDocument struct {
	ID                  string     `bson:"_id"`
	SourceLanguage      string     `bson:"source_language"`
	TargetLanguage      string     `bson:"target_language"`
	OriginalFilename    string     `bson:"original_filename"`
	OriginalFileSize    int64      `bson:"original_file_size"`
	OriginalDuration    int64      `bson:"original_duration"`
	InputFormat         string     `bson:"input_format"`
	UserID              string     `bson:"user_id"`
	Quality             string     `bson:"quality"`
	Priority            int        `bson:"priority"`
	Status              string     `bson:"status"`
	Progress            int        `bson:"progress"`
	CurrentStep         string     `bson:"current_step"`
	ErrorMessage        string     `bson:"error_message"`
	ErrorDetail         string     `bson:"error_detail"`
	RetryCount          int        `bson:"retry_count"`
	OriginalAudioPath   string     `bson:"original_audio_path"`
	TranslatedAudioPath string     `bson:"translated_audio_path"`
	TranscriptPath      string     `bson:"transcript_path"`
	TranslatedTextPath  string     `bson:"translated_text_path"`
	OutputFormat        string     `bson:"output_format"`
	OutputFileSize      int64      `bson:"output_file_size"`
	ProcessingDuration  int64      `bson:"processing_duration"`
	CreatedAt           time.Time  `bson:"created_at"`
	StartedAt           *time.Time `bson:"started_at,omitempty"`
	CompletedAt         *time.Time `bson:"completed_at,omitempty"`
	ExpiresAt           time.Time  `bson:"expires_at"`
	// 終了時刻（完了時刻、なければ作成時刻）。保持期間による削除に使う
	FinishedAt time.Time `bson:"finished_at"`
}

func toDocument(j *models.TranslationJob) jobDocument {
	finished := j.CreatedAt
	if j.CompletedAt != nil {
		finished = *j.CompletedAt
	}
	return jobDocument{
		ID:                  j.ID,
		SourceLanguage:      j.SourceLanguage,
		TargetLanguage:      j.TargetLanguage,
		OriginalFilename:    j.OriginalFilename,
		OriginalFileSize:    j.OriginalFileSize,
		OriginalDuration:    int64(j.OriginalDuration),
		InputFormat:         string(j.InputFormat),
		UserID:              j.UserID,
		Quality:             string(j.Quality),
		Priority:            j.Priority,
		Status:              string(j.Status),
		Progress:            j.Progress,
		CurrentStep:         j.CurrentStep,
		ErrorMessage:        j.ErrorMessage,
		ErrorDetail:         j.ErrorDetail,
		RetryCount:          j.RetryCount,
		OriginalAudioPath:   j.OriginalAudioPath,
		TranslatedAudioPath: j.TranslatedAudioPath,
		TranscriptPath:      j.TranscriptPath,
		TranslatedTextPath:  j.TranslatedTextPath,
		OutputFormat:        string(j.OutputFormat),
		OutputFileSize:      j.OutputFileSize,
		ProcessingDuration:  int64(j.ProcessingDuration),
		CreatedAt:           j.CreatedAt,
		StartedAt:           j.StartedAt,
		CompletedAt:         j.CompletedAt,
		ExpiresAt:           j.ExpiresAt,
		FinishedAt:          finished,
	}
}

func (d *jobDocument) toModel() *models.TranslationJob {
	utc := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		u := t.UTC()
		return &u
	}
	return &models.TranslationJob{
		ID:                  d.ID,
		SourceLanguage:      d.SourceLanguage,
		TargetLanguage:      d.TargetLanguage,
		OriginalFilename:    d.OriginalFilename,
		OriginalFileSize:    d.OriginalFileSize,
		OriginalDuration:    time.Duration(d.OriginalDuration),
		InputFormat:         audio.Format(d.InputFormat),
		UserID:              d.UserID,
		Quality:             models.Quality(d.Quality),
		Priority:            d.Priority,
		Status:              models.Status(d.Status),
		Progress:            d.Progress,
		CurrentStep:         d.CurrentStep,
		ErrorMessage:        d.ErrorMessage,
		ErrorDetail:         d.ErrorDetail,
		RetryCount:          d.RetryCount,
		OriginalAudioPath:   d.OriginalAudioPath,
		TranslatedAudioPath: d.TranslatedAudioPath,
		TranscriptPath:      d.TranscriptPath,
		TranslatedTextPath:  d.TranslatedTextPath,
		OutputFormat:        audio.Format(d.OutputFormat),
		OutputFileSize:      d.OutputFileSize,
		ProcessingDuration:  time.Duration(d.ProcessingDuration),
		CreatedAt:           d.CreatedAt.UTC(),
		StartedAt:           utc(d.StartedAt),
		CompletedAt:         utc(d.CompletedAt),
		ExpiresAt:           d.ExpiresAt.UTC(),
	}
}

// MongoJobRepository は MongoDB によるジョブのデータアクセス層
type MongoJobRepository struct {
	col *mongo.Collection
}

var _ JobRepository = (*MongoJobRepository)(nil)

// NewMongoJobRepository はコレクションを用意してリポジトリを作成する
func NewMongoJobRepository(ctx context.Context, db *mongo.Database) (*MongoJobRepository, error) {
	col := db.Collection("translation_jobs")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "priority", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return &MongoJobRepository{col: col}, nil
}

// Create は新しいジョブを作成（_id の一意制約で重複を防ぐ）
func (r *MongoJobRepository) Create(ctx context.Context, job *models.TranslationJob) error {
	_, err := r.col.InsertOne(ctx, toDocument(job))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetByID はIDでジョブを取得
func (r *MongoJobRepository) GetByID(ctx context.Context, id string) (*models.TranslationJob, error) {
	var doc jobDocument
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return doc.toModel(), nil
}

// Update はジョブ全体を置き換える
func (r *MongoJobRepository) Update(ctx context.Context, job *models.TranslationJob) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": job.ID}, toDocument(job))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}

// UpdateIfStatus は保存済みステータスが expected の場合のみ置き換える
func (r *MongoJobRepository) UpdateIfStatus(ctx context.Context, job *models.TranslationJob, expected models.Status) (bool, error) {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": job.ID, "status": string(expected)}, toDocument(job))
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// Delete はジョブを削除
func (r *MongoJobRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// ListByUser はユーザーのジョブを新しい順に取得
func (r *MongoJobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.TranslationJob, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limitOrDefault(limit)))
	return r.find(ctx, bson.M{"user_id": userID}, opts)
}

// ListExpired は期限切れのジョブを取得
func (r *MongoJobRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.TranslationJob, error) {
	filter := bson.M{
		"expires_at": bson.M{"$lt": now.UTC()},
		"status":     bson.M{"$ne": string(models.StatusExpired)},
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}}))
}

// ListByStatus はステータスでジョブ一覧を取得
func (r *MongoJobRepository) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.TranslationJob, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "created_at", Value: 1}}).
		SetLimit(int64(limitOrDefault(limit)))
	return r.find(ctx, bson.M{"status": string(status)}, opts)
}

// ListFinishedBefore は終端状態で cutoff より前に終了したジョブを取得
func (r *MongoJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.TranslationJob, error) {
	statuses := make([]string, 0, 4)
	for _, s := range terminalStatuses() {
		statuses = append(statuses, string(s))
	}
	filter := bson.M{
		"status":      bson.M{"$in": statuses},
		"finished_at": bson.M{"$lt": cutoff.UTC()},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limitOrDefault(limit)))
	return r.find(ctx, filter, opts)
}

// CountByStatus はステータスごとのジョブ数を取得
func (r *MongoJobRepository) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode counts: %w", err)
	}

	counts := make(map[models.Status]int, len(rows))
	for _, row := range rows {
		counts[models.Status(row.Status)] = row.Count
	}
	return counts, nil
}

func (r *MongoJobRepository) find(ctx context.Context, filter any, opts *options.FindOptions) ([]*models.TranslationJob, error) {
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}

	jobs := make([]*models.TranslationJob, 0, len(docs))
	for i := range docs {
		jobs = append(jobs, docs[i].toModel())
	}
	return jobs, nil
}
