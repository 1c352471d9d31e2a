package asr

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the configuration for the ASR recognizer
type Config struct {
	ModelPath   string // Base directory for the model
	EncoderPath string // Path to encoder.onnx or encoder.int8.onnx
	DecoderPath string // Path to decoder.onnx or decoder.int8.onnx
	JoinerPath  string // Path to joiner.onnx or joiner.int8.onnx
	TokensPath  string // Path to tokens.txt
	Language    string // Language the model was trained on, empty accepts any
	NumThreads  int    // Number of threads for inference
	SampleRate  int    // Audio sample rate (typically 16000)

	// Silence splits input into blocks decoded one at a time.
	// The zero value decodes the whole clip as one block.
	Silence SilenceConfig
}

// NewConfig creates a new configuration from a model directory
// It automatically detects the model files in the directory
func NewConfig(modelDir, language string) (*Config, error) {
	config := &Config{
		ModelPath:  modelDir,
		Language:   language,
		NumThreads: 2,
		SampleRate: 16000,
		Silence:    DefaultSilenceConfig(),
	}

	// Try to find model files (prefer int8 quantized versions)
	encoderPath := findModelFile(modelDir, []string{
		"encoder-epoch-99-avg-1.int8.onnx",
		"encoder.int8.onnx",
		"encoder-epoch-99-avg-1.onnx",
		"encoder.onnx",
	})
	if encoderPath == "" {
		return nil, fmt.Errorf("encoder model not found in %s", modelDir)
	}
	config.EncoderPath = encoderPath

	decoderPath := findModelFile(modelDir, []string{
		"decoder-epoch-99-avg-1.onnx",
		"decoder.onnx",
	})
	if decoderPath == "" {
		return nil, fmt.Errorf("decoder model not found in %s", modelDir)
	}
	config.DecoderPath = decoderPath

	joinerPath := findModelFile(modelDir, []string{
		"joiner-epoch-99-avg-1.int8.onnx",
		"joiner.int8.onnx",
		"joiner-epoch-99-avg-1.onnx",
		"joiner.onnx",
	})
	if joinerPath == "" {
		return nil, fmt.Errorf("joiner model not found in %s", modelDir)
	}
	config.JoinerPath = joinerPath

	tokensPath := findModelFile(modelDir, []string{"tokens.txt"})
	if tokensPath == "" {
		return nil, fmt.Errorf("tokens.txt not found in %s", modelDir)
	}
	config.TokensPath = tokensPath

	return config, nil
}

// Validate checks if all required model files exist
func (c *Config) Validate() error {
	return checkFiles(map[string]string{
		"encoder": c.EncoderPath,
		"decoder": c.DecoderPath,
		"joiner":  c.JoinerPath,
		"tokens":  c.TokensPath,
	})
}

// TTSConfig holds the configuration for a VITS text-to-speech model
type TTSConfig struct {
	ModelPath   string // Path to the .onnx model
	TokensPath  string // Path to tokens.txt
	LexiconPath string // Path to lexicon.txt (optional)
	DataDir     string // espeak-ng-data directory (optional, piper models)
	Language    string // Language the voice speaks, empty accepts any
	SpeakerID   int
	Speed       float32
	NumThreads  int
}

// NewTTSConfig creates a TTS configuration from a model directory
func NewTTSConfig(modelDir, language string) (*TTSConfig, error) {
	config := &TTSConfig{
		Language:   language,
		Speed:      1.0,
		NumThreads: 2,
	}

	modelPath := findModelFile(modelDir, []string{"model.onnx", "model.int8.onnx"})
	if modelPath == "" {
		// piper voices are named after the voice, e.g. en_US-amy-low.onnx
		matches, _ := filepath.Glob(filepath.Join(modelDir, "*.onnx"))
		if len(matches) == 0 {
			return nil, fmt.Errorf("TTS model not found in %s", modelDir)
		}
		modelPath = matches[0]
	}
	config.ModelPath = modelPath

	tokensPath := findModelFile(modelDir, []string{"tokens.txt"})
	if tokensPath == "" {
		return nil, fmt.Errorf("tokens.txt not found in %s", modelDir)
	}
	config.TokensPath = tokensPath

	config.LexiconPath = findModelFile(modelDir, []string{"lexicon.txt"})
	config.DataDir = findModelFile(modelDir, []string{"espeak-ng-data"})

	return config, nil
}

// Validate checks if all required model files exist
func (c *TTSConfig) Validate() error {
	files := map[string]string{
		"model":  c.ModelPath,
		"tokens": c.TokensPath,
	}
	if c.LexiconPath != "" {
		files["lexicon"] = c.LexiconPath
	}
	if c.DataDir != "" {
		files["data dir"] = c.DataDir
	}
	return checkFiles(files)
}

func checkFiles(files map[string]string) error {
	for name, path := range files {
		if path == "" {
			return fmt.Errorf("%s file not configured", name)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("%s file not found: %s", name, path)
		}
	}
	return nil
}

// findModelFile searches for a model file in the given directory
// Returns the first matching file path or empty string if not found
func findModelFile(dir string, candidates []string) string {
	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
