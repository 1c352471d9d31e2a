package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlate/internal/audio"
	"voxlate/internal/models"
)

var base = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newJob(userID string, createdAt time.Time) *models.TranslationJob {
	return models.NewTranslationJob(models.NewJobParams{
		SourceLanguage:   "es",
		TargetLanguage:   "en",
		OriginalFilename: "clip.wav",
		OriginalFileSize: 160044,
		OriginalDuration: 5 * time.Second,
		InputFormat:      audio.FormatWav,
		UserID:           userID,
		Priority:         models.JobPriorityNormal,
	}, createdAt)
}

func newSQLiteRepo(t *testing.T) JobRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "voxlate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteJobRepository(db)
}

// repositoryContract exercises the behavior every JobRepository backend shares.
func repositoryContract(t *testing.T, newRepo func(t *testing.T) JobRepository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		job := newJob("alice", base)
		job.Quality = models.QualityHigh
		require.NoError(t, repo.Create(ctx, job))

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, models.StatusQueued, got.Status)
		assert.Equal(t, models.QualityHigh, got.Quality)
		assert.Equal(t, audio.FormatWav, got.InputFormat)
		assert.Equal(t, 5*time.Second, got.OriginalDuration)
		assert.True(t, got.CreatedAt.Equal(job.CreatedAt))
		assert.True(t, got.ExpiresAt.Equal(job.ExpiresAt))
		assert.Nil(t, got.StartedAt)
	})

	t.Run("missing job is nil", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.GetByID(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate create fails without mutating", func(t *testing.T) {
		repo := newRepo(t)
		job := newJob("alice", base)
		require.NoError(t, repo.Create(ctx, job))

		dup := job.Clone()
		dup.SourceLanguage = "fr"
		dup.Status = models.StatusFailed
		err := repo.Create(ctx, dup)
		assert.ErrorIs(t, err, ErrJobExists)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "es", got.SourceLanguage)
		assert.Equal(t, models.StatusQueued, got.Status)
	})

	t.Run("concurrent creates admit one", func(t *testing.T) {
		repo := newRepo(t)
		job := newJob("alice", base)

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = repo.Create(ctx, job.Clone())
			}(i)
		}
		wg.Wait()

		var ok, exists int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrJobExists):
				exists++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, exists)
	})

	t.Run("update replaces", func(t *testing.T) {
		repo := newRepo(t)
		job := newJob("alice", base)
		require.NoError(t, repo.Create(ctx, job))

		require.NoError(t, job.UpdateStatus(models.StatusCompleted, 100, "completed", base.Add(time.Minute)))
		job.TranslatedAudioPath = "jobs/" + job.ID + "/output.mp3"
		job.OutputFormat = audio.FormatMp3
		require.NoError(t, repo.Update(ctx, job))

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, job.TranslatedAudioPath, got.TranslatedAudioPath)
		assert.Equal(t, audio.FormatMp3, got.OutputFormat)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(*job.CompletedAt))

		missing := newJob("bob", base)
		assert.ErrorIs(t, repo.Update(ctx, missing), ErrJobNotFound)
	})

	t.Run("update if status", func(t *testing.T) {
		repo := newRepo(t)
		job := newJob("alice", base)
		require.NoError(t, repo.Create(ctx, job))

		claim := job.Clone()
		require.NoError(t, claim.UpdateStatus(models.StatusValidating, 15, "validating", base))
		ok, err := repo.UpdateIfStatus(ctx, claim, models.StatusQueued)
		require.NoError(t, err)
		assert.True(t, ok)

		// second claim loses
		again := job.Clone()
		require.NoError(t, again.UpdateStatus(models.StatusValidating, 15, "validating", base))
		ok, err = repo.UpdateIfStatus(ctx, again, models.StatusQueued)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.UpdateIfStatus(ctx, newJob("x", base), models.StatusQueued)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		job := newJob("alice", base)
		require.NoError(t, repo.Create(ctx, job))
		require.NoError(t, repo.Delete(ctx, job.ID))
		require.NoError(t, repo.Delete(ctx, job.ID))

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("list by user newest first", func(t *testing.T) {
		repo := newRepo(t)
		var ids []string
		for i := 0; i < 3; i++ {
			job := newJob("alice", base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, repo.Create(ctx, job))
			ids = append(ids, job.ID)
		}
		require.NoError(t, repo.Create(ctx, newJob("bob", base)))

		jobs, err := repo.ListByUser(ctx, "alice", 0)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, ids[2], jobs[0].ID)
		assert.Equal(t, ids[1], jobs[1].ID)
		assert.Equal(t, ids[0], jobs[2].ID)

		jobs, err = repo.ListByUser(ctx, "alice", 2)
		require.NoError(t, err)
		assert.Len(t, jobs, 2)

		jobs, err = repo.ListByUser(ctx, "nobody", 0)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("list expired", func(t *testing.T) {
		repo := newRepo(t)
		old := newJob("alice", base.Add(-48*time.Hour))
		old.Status = models.StatusProcessingTranslation
		alreadyExpired := newJob("alice", base.Add(-48*time.Hour))
		alreadyExpired.Status = models.StatusExpired
		fresh := newJob("alice", base)
		for _, j := range []*models.TranslationJob{old, alreadyExpired, fresh} {
			require.NoError(t, repo.Create(ctx, j))
		}

		jobs, err := repo.ListExpired(ctx, base)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, old.ID, jobs[0].ID)
	})

	t.Run("list by status in priority order", func(t *testing.T) {
		repo := newRepo(t)
		batch := newJob("a", base)
		batch.Priority = models.JobPriorityBatch
		urgent := newJob("a", base.Add(time.Minute))
		urgent.Priority = models.JobPriorityImmediate
		running := newJob("a", base)
		running.Status = models.StatusProcessingTranslation
		for _, j := range []*models.TranslationJob{batch, urgent, running} {
			require.NoError(t, repo.Create(ctx, j))
		}

		jobs, err := repo.ListByStatus(ctx, models.StatusQueued, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, urgent.ID, jobs[0].ID)
		assert.Equal(t, batch.ID, jobs[1].ID)
	})

	t.Run("list finished before and count", func(t *testing.T) {
		repo := newRepo(t)
		done := newJob("a", base.Add(-100*time.Hour))
		require.NoError(t, done.UpdateStatus(models.StatusValidating, 15, "", base.Add(-100*time.Hour)))
		require.NoError(t, done.UpdateStatus(models.StatusCompleted, 100, "", base.Add(-99*time.Hour)))
		failed := newJob("a", base.Add(-80*time.Hour))
		failed.Status = models.StatusFailed
		recent := newJob("a", base.Add(-time.Hour))
		recent.Status = models.StatusCancelled
		active := newJob("a", base.Add(-100*time.Hour))
		active.Status = models.StatusProcessingSpeechToText
		for _, j := range []*models.TranslationJob{done, failed, recent, active} {
			require.NoError(t, repo.Create(ctx, j))
		}

		jobs, err := repo.ListFinishedBefore(ctx, base.Add(-72*time.Hour), 0)
		require.NoError(t, err)
		var got []string
		for _, j := range jobs {
			got = append(got, j.ID)
		}
		assert.ElementsMatch(t, []string{done.ID, failed.ID}, got)

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[models.Status]int{
			models.StatusCompleted:              1,
			models.StatusFailed:                 1,
			models.StatusCancelled:              1,
			models.StatusProcessingSpeechToText: 1,
		}, counts)
	})

	t.Run("concurrent updates of distinct jobs", func(t *testing.T) {
		repo := newRepo(t)
		jobs := make([]*models.TranslationJob, 6)
		for i := range jobs {
			jobs[i] = newJob(fmt.Sprintf("user-%d", i), base)
			require.NoError(t, repo.Create(ctx, jobs[i]))
		}

		var wg sync.WaitGroup
		for _, j := range jobs {
			wg.Add(1)
			go func(j *models.TranslationJob) {
				defer wg.Done()
				for p := 20; p <= 80; p += 20 {
					j.SetProgress(p, "working")
					assert.NoError(t, repo.Update(ctx, j))
					_, err := repo.GetByID(ctx, j.ID)
					assert.NoError(t, err)
				}
			}(j.Clone())
		}
		wg.Wait()

		for _, j := range jobs {
			got, err := repo.GetByID(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, 80, got.Progress)
		}
	})
}

func TestSQLiteJobRepository(t *testing.T) {
	repositoryContract(t, newSQLiteRepo)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "jobs.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
