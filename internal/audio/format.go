package audio

import (
	"mime"
	"path/filepath"
	"strings"
)

// Format identifies an audio container/codec family handled by the service.
type Format string

const (
	FormatWav  Format = "wav"
	FormatMp3  Format = "mp3"
	FormatOgg  Format = "ogg"
	FormatAac  Format = "aac"
	FormatFlac Format = "flac"
)

// DefaultFormat is used when nothing else identifies a blob.
const DefaultFormat = FormatWav

// formatInfo is the single mapping table between a Format and the names
// other components use for it (file extensions, MIME types, ffprobe codec
// names, ffmpeg muxer/encoder).
type formatInfo struct {
	extensions   []string
	contentTypes []string
	codecs       []string
	muxer        string
	encoder      string
}

var registry = map[Format]formatInfo{
	FormatWav: {
		extensions:   []string{".wav", ".wave"},
		contentTypes: []string{"audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave"},
		codecs:       []string{"pcm_s16le", "pcm_s24le", "pcm_s32le", "pcm_f32le", "pcm_u8"},
		muxer:        "wav",
		encoder:      "pcm_s16le",
	},
	FormatMp3: {
		extensions:   []string{".mp3"},
		contentTypes: []string{"audio/mpeg", "audio/mp3", "audio/mpeg3"},
		codecs:       []string{"mp3"},
		muxer:        "mp3",
		encoder:      "libmp3lame",
	},
	FormatOgg: {
		extensions:   []string{".ogg", ".oga", ".opus"},
		contentTypes: []string{"audio/ogg", "application/ogg", "audio/opus"},
		codecs:       []string{"vorbis", "opus"},
		muxer:        "ogg",
		encoder:      "libvorbis",
	},
	FormatAac: {
		extensions:   []string{".aac", ".m4a"},
		contentTypes: []string{"audio/aac", "audio/x-aac", "audio/mp4", "audio/x-m4a", "audio/aacp"},
		codecs:       []string{"aac"},
		muxer:        "adts",
		encoder:      "aac",
	},
	FormatFlac: {
		extensions:   []string{".flac"},
		contentTypes: []string{"audio/flac", "audio/x-flac"},
		codecs:       []string{"flac"},
		muxer:        "flac",
		encoder:      "flac",
	},
}

// Formats lists every supported format in a stable order.
func Formats() []Format {
	return []Format{FormatWav, FormatMp3, FormatOgg, FormatAac, FormatFlac}
}

// Valid reports whether f is a registered format.
func (f Format) Valid() bool {
	_, ok := registry[f]
	return ok
}

// Extension returns the canonical file extension including the dot.
func (f Format) Extension() string {
	info, ok := registry[f]
	if !ok {
		return ""
	}
	return info.extensions[0]
}

// ContentType returns the canonical MIME type.
func (f Format) ContentType() string {
	info, ok := registry[f]
	if !ok {
		return "application/octet-stream"
	}
	return info.contentTypes[0]
}

// Lossless reports whether f carries uncompressed or losslessly packed PCM.
func (f Format) Lossless() bool {
	return f == FormatWav || f == FormatFlac
}

// Muxer returns the ffmpeg output format name.
func (f Format) Muxer() string {
	return registry[f].muxer
}

// Encoder returns the ffmpeg audio encoder name.
func (f Format) Encoder() string {
	return registry[f].encoder
}

// ParseFormat accepts a format name ("mp3") or an extension (".mp3").
func ParseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if f := Format(strings.TrimPrefix(s, ".")); f.Valid() {
		return f, true
	}
	if !strings.HasPrefix(s, ".") {
		s = "." + s
	}
	return FromExtension(s)
}

// FromExtension classifies a file name by its extension.
func FromExtension(filename string) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return "", false
	}
	for _, f := range Formats() {
		for _, e := range registry[f].extensions {
			if e == ext {
				return f, true
			}
		}
	}
	return "", false
}

// FromContentType classifies a MIME type. Parameters such as
// "; codecs=1" are ignored.
func FromContentType(contentType string) (Format, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, f := range Formats() {
		for _, ct := range registry[f].contentTypes {
			if ct == mediaType {
				return f, true
			}
		}
	}
	return "", false
}

// FromCodec classifies an ffprobe codec name.
func FromCodec(codec string) (Format, bool) {
	codec = strings.ToLower(strings.TrimSpace(codec))
	if codec == "" {
		return "", false
	}
	for _, f := range Formats() {
		for _, c := range registry[f].codecs {
			if c == codec {
				return f, true
			}
		}
	}
	// any other PCM variant is still WAV material
	if strings.HasPrefix(codec, "pcm_") {
		return FormatWav, true
	}
	return "", false
}
