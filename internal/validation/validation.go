package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voxlate/internal/audio"
)

// Policy holds the limits applied to uploads.
type Policy struct {
	MaxFileSize   int64
	MinDuration   time.Duration
	MaxDuration   time.Duration
	MinSampleRate int
	MaxSampleRate int
	MinChannels   int
	MaxChannels   int
	MinBitRate    int
	MaxBitRate    int
}

// DefaultPolicy returns the standard upload limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxFileSize:   50 << 20,
		MinDuration:   500 * time.Millisecond,
		MaxDuration:   10 * time.Minute,
		MinSampleRate: 8000,
		MaxSampleRate: 192000,
		MinChannels:   1,
		MaxChannels:   8,
		MinBitRate:    32000,
		MaxBitRate:    320000,
	}
}

// Upload is an inbound audio payload with its declared labels.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Error carries every rule an upload violated.
type Error struct {
	Violations []string
}

func (e *Error) Error() string {
	return "invalid audio upload: " + strings.Join(e.Violations, "; ")
}

// IsValidationError reports whether err is (or wraps) a *Error.
func IsValidationError(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

// Validator checks uploads against a Policy using a Prober for the
// genuine-audio check.
type Validator struct {
	policy Policy
	prober audio.Prober
}

// NewValidator creates a Validator.
func NewValidator(policy Policy, prober audio.Prober) *Validator {
	return &Validator{policy: policy, prober: prober}
}

// Policy returns the limits in effect.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate returns the probed metadata of a valid upload, or a *Error
// listing all violations. An empty payload or a failed probe stops
// validation early since nothing else can be measured.
func (v *Validator) Validate(ctx context.Context, up Upload) (audio.Metadata, error) {
	if len(up.Data) == 0 {
		return audio.Metadata{}, &Error{Violations: []string{"file is empty"}}
	}

	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	p := v.policy
	if p.MaxFileSize > 0 && int64(len(up.Data)) > p.MaxFileSize {
		add("file size %d bytes exceeds maximum of %d bytes", len(up.Data), p.MaxFileSize)
	}

	declared, declaredOK := declaredFormat(up.ContentType)
	if declaredOK && declared == "" {
		add("unsupported content type %q", up.ContentType)
	}
	if ext := extension(up.Filename); ext != "" {
		byExt, ok := audio.FromExtension(up.Filename)
		switch {
		case !ok:
			add("unsupported file extension %q", ext)
		case declared != "" && byExt != declared:
			add("file extension %q does not match content type %q", ext, up.ContentType)
		}
	}

	meta, err := v.prober.Probe(ctx, up.Data, up.Filename)
	if err != nil {
		add("file is not a valid audio file: %v", err)
		return audio.Metadata{}, &Error{Violations: violations}
	}

	switch {
	case meta.Duration <= 0:
		add("audio duration could not be determined")
	case meta.Duration < p.MinDuration:
		add("audio duration %s is shorter than minimum of %s", meta.Duration, p.MinDuration)
	case p.MaxDuration > 0 && meta.Duration > p.MaxDuration:
		add("audio duration %s exceeds maximum of %s", meta.Duration, p.MaxDuration)
	}
	if meta.SampleRate < p.MinSampleRate || meta.SampleRate > p.MaxSampleRate {
		add("sample rate %d Hz is outside %d-%d Hz", meta.SampleRate, p.MinSampleRate, p.MaxSampleRate)
	}
	if meta.Channels < p.MinChannels || meta.Channels > p.MaxChannels {
		add("channel count %d is outside %d-%d", meta.Channels, p.MinChannels, p.MaxChannels)
	}
	// unknown bit rate is not checked; PCM and FLAC are not bounded by
	// compressed-codec bit rates
	if meta.BitRate > 0 && !meta.Format.Lossless() && (meta.BitRate < p.MinBitRate || meta.BitRate > p.MaxBitRate) {
		add("bit rate %d kbps is outside %d-%d kbps", meta.BitRate/1000, p.MinBitRate/1000, p.MaxBitRate/1000)
	}

	if len(violations) > 0 {
		return meta, &Error{Violations: violations}
	}
	return meta, nil
}

// declaredFormat maps a declared content type. The second result is false
// when nothing meaningful was declared (empty or generic binary).
func declaredFormat(contentType string) (audio.Format, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		return "", false
	}
	f, _ := audio.FromContentType(ct)
	return f, true
}

func extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 || strings.ContainsAny(filename[i:], `/\`) {
		return ""
	}
	return strings.ToLower(filename[i:])
}
