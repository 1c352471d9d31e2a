package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotWAV is returned when a buffer lacks a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a valid WAV file")

// WAV is a parsed PCM WAV file.
type WAV struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Data          []byte // raw interleaved PCM frames
}

// Duration returns the playback length of the PCM data.
func (w *WAV) Duration() time.Duration {
	frameSize := w.Channels * w.BitsPerSample / 8
	if frameSize == 0 || w.SampleRate == 0 {
		return 0
	}
	frames := len(w.Data) / frameSize
	return time.Duration(frames) * time.Second / time.Duration(w.SampleRate)
}

// BitRate returns bits per second of the PCM stream.
func (w *WAV) BitRate() int {
	return w.SampleRate * w.Channels * w.BitsPerSample
}

// ParseWAV walks the RIFF chunks of data and extracts the fmt and data
// chunks. Unknown chunks (LIST, INFO, ...) are skipped.
func ParseWAV(data []byte) (*WAV, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	w := &WAV{}
	var foundFmt, foundData bool
	offset := 12
	for offset+8 <= len(data) && !foundData {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 && format != 0xFFFE {
				return nil, fmt.Errorf("unsupported WAV encoding %d", format)
			}
			w.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			w.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			foundFmt = true
		case "data":
			end := body + chunkSize
			// streaming writers leave the size unset
			if end > len(data) || chunkSize == 0 {
				end = len(data)
			}
			w.Data = data[body:end]
			foundData = true
		}

		// chunks are word-aligned
		offset = body + chunkSize + chunkSize%2
	}

	if !foundFmt {
		return nil, fmt.Errorf("fmt chunk not found")
	}
	if !foundData {
		return nil, fmt.Errorf("data chunk not found")
	}
	if w.Channels <= 0 || w.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid WAV format: %d channels at %d Hz", w.Channels, w.SampleRate)
	}
	return w, nil
}

// Samples decodes 16-bit PCM into mono float32 samples in [-1, 1],
// averaging channels.
func (w *WAV) Samples() ([]float32, error) {
	if w.BitsPerSample != 16 {
		return nil, fmt.Errorf("only 16-bit WAV files are supported, got %d-bit", w.BitsPerSample)
	}
	frameSize := 2 * w.Channels
	frames := len(w.Data) / frameSize
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < w.Channels; ch++ {
			off := i*frameSize + ch*2
			sum += float32(int16(binary.LittleEndian.Uint16(w.Data[off:off+2]))) / 32768
		}
		out[i] = sum / float32(w.Channels)
	}
	return out, nil
}

// EncodeWAV writes mono float32 samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return encodePCM(pcm, sampleRate, 1, 16)
}

func encodePCM(pcm []byte, sampleRate, channels, bits int) []byte {
	var buf bytes.Buffer
	blockAlign := channels * bits / 8
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// ConcatWAV stitches the PCM frames of several WAV files under one header.
// All parts must share sample rate, channel count and sample width.
func ConcatWAV(parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no WAV parts to concatenate")
	}
	first, err := ParseWAV(parts[0])
	if err != nil {
		return nil, fmt.Errorf("part 0: %w", err)
	}
	pcm := append([]byte(nil), first.Data...)
	for i, p := range parts[1:] {
		w, err := ParseWAV(p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i+1, err)
		}
		if w.SampleRate != first.SampleRate || w.Channels != first.Channels || w.BitsPerSample != first.BitsPerSample {
			return nil, fmt.Errorf("part %d: format mismatch (%d Hz/%d ch/%d bit, want %d Hz/%d ch/%d bit)",
				i+1, w.SampleRate, w.Channels, w.BitsPerSample, first.SampleRate, first.Channels, first.BitsPerSample)
		}
		pcm = append(pcm, w.Data...)
	}
	return encodePCM(pcm, first.SampleRate, first.Channels, first.BitsPerSample), nil
}

// Concat joins independently encoded segments of the same format. WAV
// segments are stitched at the PCM level. Other formats are joined byte
// for byte, which plays back for MP3 and ADTS AAC frame streams but is not
// a valid file for every codec.
func Concat(format Format, parts [][]byte) ([]byte, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}
	if format == FormatWav {
		return ConcatWAV(parts)
	}
	return bytes.Join(parts, nil), nil
}
