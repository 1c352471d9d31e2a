package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定
type Config struct {
	// HTTPサーバー
	Port string

	// データ保存先
	DataDir       string
	DBDriver      string // "sqlite" or "mongo"
	SQLitePath    string
	MongoURI      string
	MongoDatabase string

	// ワーカー
	WorkerConcurrency int
	QueueSize         int
	PollInterval      time.Duration
	SweepInterval     time.Duration

	// ジョブの寿命
	JobTTL    time.Duration
	Retention time.Duration

	// アップロード制限
	MaxUploadBytes int64
	MaxDuration    time.Duration

	// パイプライン
	OutputFormat    string
	ProviderTimeout time.Duration
	Transcriber     string // "openai" or "sherpa"
	Synthesizer     string // "openai" or "sherpa"

	// OpenAI
	OpenAIAPIKey             string
	OpenAIBaseURL            string
	OpenAITranscriptionModel string
	OpenAITranslationModel   string
	OpenAISpeechModel        string
	OpenAISpeechHDModel      string
	OpenAIVoice              string

	// テキスト分割
	TranslationMaxChars int
	SpeechMaxChars      int
	ChunkDelay          time.Duration

	// Sherpa-ONNX（ローカルモデル）
	SherpaASRModelDir string
	SherpaASRLanguage string
	SherpaTTSModelDir string
	SherpaTTSLanguage string

	// 外部ツール
	FFmpegPath  string
	FFprobePath string

	// ログ
	LogLevel slog.Level
	LogFile  string
}

// Load は .env（存在する場合）と環境変数から設定を読み込む
func Load() Config {
	// .envファイルを読み込み（存在しない場合はスキップ）
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	return Config{
		Port: getEnv("PORT", "8080"),

		DataDir:       dataDir,
		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLitePath:    getEnv("SQLITE_PATH", filepath.Join(dataDir, "voxlate.db")),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "voxlate"),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		QueueSize:         getEnvInt("QUEUE_SIZE", 100),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Second),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),

		JobTTL:    getEnvDuration("JOB_TTL", 24*time.Hour),
		Retention: getEnvDuration("RETENTION", 72*time.Hour),

		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 50<<20)),
		MaxDuration:    getEnvDuration("MAX_DURATION", 10*time.Minute),

		OutputFormat:    strings.ToLower(getEnv("OUTPUT_FORMAT", "mp3")),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 2*time.Minute),
		Transcriber:     strings.ToLower(getEnv("TRANSCRIBER", "openai")),
		Synthesizer:     strings.ToLower(getEnv("SYNTHESIZER", "openai")),

		OpenAIAPIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:            getEnv("OPENAI_BASE_URL", ""),
		OpenAITranscriptionModel: getEnv("OPENAI_TRANSCRIPTION_MODEL", ""),
		OpenAITranslationModel:   getEnv("OPENAI_TRANSLATION_MODEL", ""),
		OpenAISpeechModel:        getEnv("OPENAI_SPEECH_MODEL", ""),
		OpenAISpeechHDModel:      getEnv("OPENAI_SPEECH_HD_MODEL", ""),
		OpenAIVoice:              getEnv("OPENAI_VOICE", ""),

		TranslationMaxChars: getEnvInt("TRANSLATION_MAX_CHARS", 4000),
		SpeechMaxChars:      getEnvInt("SPEECH_MAX_CHARS", 4000),
		ChunkDelay:          getEnvDuration("CHUNK_DELAY", 500*time.Millisecond),

		SherpaASRModelDir: getEnv("SHERPA_ASR_MODEL_DIR", ""),
		SherpaASRLanguage: getEnv("SHERPA_ASR_LANGUAGE", ""),
		SherpaTTSModelDir: getEnv("SHERPA_TTS_MODEL_DIR", ""),
		SherpaTTSLanguage: getEnv("SHERPA_TTS_LANGUAGE", ""),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		LogLevel: ParseLogLevel(getEnv("LOG_LEVEL", "INFO")),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// ContentDir はアップロードや生成物の保存先
func (c Config) ContentDir() string {
	return filepath.Join(c.DataDir, "content")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt は不正な値の場合デフォルト値を返す
func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

// getEnvDuration は time.ParseDuration 形式（例: "90s", "24h"）を読む
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// ParseLogLevel は LOG_LEVEL の値を slog.Level に変換する（不明な値は INFO）
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
