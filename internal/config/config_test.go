package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env
	for _, key := range []string{"PORT", "DATA_DIR", "SQLITE_PATH", "JOB_TTL", "OUTPUT_FORMAT", "WORKER_CONCURRENCY"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, filepath.Join("data", "voxlate.db"), filepath.Clean(cfg.SQLitePath))
	assert.Equal(t, 24*time.Hour, cfg.JobTTL)
	assert.Equal(t, 72*time.Hour, cfg.Retention)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "mp3", cfg.OutputFormat)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.ChunkDelay)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATA_DIR", "/srv/voxlate")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("DB_DRIVER", "Mongo")
	t.Setenv("JOB_TTL", "2h")
	t.Setenv("POLL_INTERVAL", "not-a-duration")
	t.Setenv("WORKER_CONCURRENCY", "-3")
	t.Setenv("QUEUE_SIZE", "7")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, "/srv/voxlate/voxlate.db", cfg.SQLitePath)
	assert.Equal(t, "/srv/voxlate/content", cfg.ContentDir())
	assert.Equal(t, "mongo", cfg.DBDriver)
	assert.Equal(t, 2*time.Hour, cfg.JobTTL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval, "invalid duration falls back")
	assert.Equal(t, 4, cfg.WorkerConcurrency, "invalid int falls back")
	assert.Equal(t, 7, cfg.QueueSize)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENAI_VOICE=nova\n"), 0o644))
	t.Chdir(dir)
	// godotenv never overrides a variable that is set, even to ""
	t.Setenv("OPENAI_VOICE", "")
	require.NoError(t, os.Unsetenv("OPENAI_VOICE"))

	cfg := Load()
	assert.Equal(t, "nova", cfg.OpenAIVoice)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job submitted", "job_id", "abc")

	assert.Contains(t, stderr.String(), "job_id=abc")
	assert.NotContains(t, stderr.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &entry))
	assert.Equal(t, "job submitted", entry["msg"])
	assert.Equal(t, "abc", entry["job_id"])
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxlate.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)

	_, cleanup = SetupLogger("", slog.LevelInfo)
	assert.NoError(t, cleanup())
}
