package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlate/internal/app"
	"voxlate/internal/config"
	"voxlate/internal/models"
	"voxlate/internal/version"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE", "")
	return dir
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "voxlate "+version.Version+"\n", out)
}

func TestStatus(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	core, err := app.OpenCore(ctx, config.Load(), nil)
	require.NoError(t, err)
	job := models.NewTranslationJob(models.NewJobParams{
		OriginalFilename: "talk.wav",
		SourceLanguage:   "en",
		TargetLanguage:   "de",
		UserID:           "u1",
	}, time.Now())
	require.NoError(t, core.Jobs.Create(ctx, job))
	require.NoError(t, core.Close())

	out, err := run(t, "status", job.ID)
	require.NoError(t, err)

	var got models.TranslationJob
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.StatusQueued, got.Status)

	_, err = run(t, "status", "missing")
	assert.ErrorContains(t, err, "job not found")
}

func TestSweep(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	core, err := app.OpenCore(ctx, config.Load(), nil)
	require.NoError(t, err)
	job := models.NewTranslationJob(models.NewJobParams{
		OriginalFilename: "talk.wav",
		SourceLanguage:   "en",
		TargetLanguage:   "de",
		TTL:              time.Millisecond,
	}, time.Now().Add(-time.Hour))
	require.NoError(t, core.Jobs.Create(ctx, job))
	require.NoError(t, core.Close())

	out, err := run(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "expired: 1")

	core, err = app.OpenCore(ctx, config.Load(), nil)
	require.NoError(t, err)
	defer core.Close()
	stored, err := core.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusExpired, stored.Status)
}
