package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoAudioStream is returned by Probe when the input has no audio stream.
	ErrNoAudioStream = errors.New("no audio stream found")

	// ErrEmptyOutput is returned by Convert when ffmpeg wrote nothing.
	ErrEmptyOutput = errors.New("ffmpeg produced no output")
)

// Metadata describes a probed audio blob.
type Metadata struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitRate    int // bits per second, 0 if unknown
	Codec      string
	Format     Format
	Size       int64
}

// ConvertRequest describes a transcoding operation. Zero SampleRate or
// Channels keep the source value.
type ConvertRequest struct {
	From       Format
	To         Format
	SampleRate int
	Channels   int
	Normalize  bool // band-limit and loudness-normalize speech
}

// reshapes reports whether the request changes anything besides the container.
func (r ConvertRequest) reshapes() bool {
	return r.SampleRate > 0 || r.Channels > 0 || r.Normalize
}

// Prober extracts metadata from audio bytes.
type Prober interface {
	Probe(ctx context.Context, data []byte, filename string) (Metadata, error)
}

// Converter transcodes audio bytes.
type Converter interface {
	Convert(ctx context.Context, data []byte, req ConvertRequest) ([]byte, error)
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.Bytes(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpeg implements Prober and Converter with the ffmpeg/ffprobe binaries.
// Inputs are staged in a temporary directory per call.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	runner      commandRunner
	readFile    func(name string) ([]byte, error)
}

// NewFFmpeg returns an FFmpeg using the given binaries; empty paths
// default to "ffmpeg" and "ffprobe" on $PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
		readFile:    os.ReadFile,
	}
}

// Available checks that both binaries can be found.
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: please install ffmpeg to convert audio files")
	}
	if _, err := exec.LookPath(f.ffprobePath); err != nil {
		return fmt.Errorf("ffprobe not found: please install ffmpeg")
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		BitRate    string `json:"bit_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// Probe runs ffprobe over data and reports the first audio stream.
func (f *FFmpeg) Probe(ctx context.Context, data []byte, filename string) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, fmt.Errorf("probe: empty input")
	}

	dir, input, err := f.stage(data, filename)
	if err != nil {
		return Metadata{}, err
	}
	defer os.RemoveAll(dir)

	res, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, res.Stderr)
	}
	return parseProbe(res.Stdout, data, filename)
}

func parseProbe(out []byte, data []byte, filename string) (Metadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		meta := Metadata{
			SampleRate: atoi(s.SampleRate),
			Channels:   s.Channels,
			BitRate:    atoi(s.BitRate),
			Codec:      s.CodecName,
			Size:       int64(len(data)),
		}
		if meta.BitRate == 0 {
			meta.BitRate = atoi(probe.Format.BitRate)
		}
		seconds := parseSeconds(s.Duration)
		if seconds == 0 {
			seconds = parseSeconds(probe.Format.Duration)
		}
		meta.Duration = time.Duration(seconds * float64(time.Second))
		meta.Format = Detect(filename, data, s.CodecName)
		return meta, nil
	}
	return Metadata{}, ErrNoAudioStream
}

// Convert transcodes data. Same-format requests that do not resample,
// downmix or normalize are returned unchanged.
func (f *FFmpeg) Convert(ctx context.Context, data []byte, req ConvertRequest) ([]byte, error) {
	if !req.To.Valid() {
		return nil, fmt.Errorf("unsupported target format %q", req.To)
	}
	if req.From == req.To && !req.reshapes() {
		return data, nil
	}

	from := req.From
	if !from.Valid() {
		from = Detect("", data, "")
	}
	dir, input, err := f.stage(data, "input"+from.Extension())
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	output := filepath.Join(dir, "output"+req.To.Extension())
	args := []string{"-y", "-i", input, "-vn"}
	if req.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(req.Channels))
	}
	if req.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(req.SampleRate))
	}
	if req.Normalize {
		args = append(args, "-af", "highpass=f=80,lowpass=f=8000,loudnorm")
	}
	args = append(args, "-c:a", req.To.Encoder(), "-f", req.To.Muxer(), output)

	res, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w\nOutput: %s", err, res.Stderr)
	}

	out, err := f.readFile(output)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read converted audio: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s: %s", ErrEmptyOutput, from, req.To, strings.TrimSpace(res.Stderr))
	}
	return out, nil
}

// stage writes data into a fresh temp directory.
func (f *FFmpeg) stage(data []byte, filename string) (dir, path string, err error) {
	dir, err = os.MkdirTemp(f.tempDir, "voxlate-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	name := "input" + strings.ToLower(filepath.Ext(filename))
	path = filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("failed to stage audio: %w", err)
	}
	return dir, path, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
