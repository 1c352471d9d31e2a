package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = 0.5
		} else {
			s[i] = -0.5
		}
	}
	return s
}

func TestEncodeParseWAV(t *testing.T) {
	data := EncodeWAV(tone(16000), 16000)

	w, err := ParseWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, w.SampleRate)
	assert.Equal(t, 1, w.Channels)
	assert.Equal(t, 16, w.BitsPerSample)
	assert.Equal(t, time.Second, w.Duration())
	assert.Equal(t, 256000, w.BitRate())

	samples, err := w.Samples()
	require.NoError(t, err)
	require.Len(t, samples, 16000)
	assert.InDelta(t, 0.5, samples[0], 0.001)
	assert.InDelta(t, -0.5, samples[1], 0.001)
}

func TestParseWAVSkipsUnknownChunks(t *testing.T) {
	base := EncodeWAV(tone(8), 8000)

	// insert an odd-sized LIST chunk between fmt and data
	list := []byte("LIST\x03\x00\x00\x00abc\x00")
	withList := append([]byte{}, base[:36]...)
	withList = append(withList, list...)
	withList = append(withList, base[36:]...)
	binary.LittleEndian.PutUint32(withList[4:8], uint32(len(withList)-8))

	w, err := ParseWAV(withList)
	require.NoError(t, err)
	assert.Len(t, w.Data, 16)
}

func TestParseWAVErrors(t *testing.T) {
	_, err := ParseWAV([]byte("OggS not a wav file"))
	assert.ErrorIs(t, err, ErrNotWAV)

	headerOnly := EncodeWAV(nil, 16000)[:36]
	_, err = ParseWAV(headerOnly)
	assert.ErrorContains(t, err, "data chunk not found")
}

func TestConcatWAV(t *testing.T) {
	a := EncodeWAV(tone(800), 16000)
	b := EncodeWAV(tone(1600), 16000)

	out, err := Concat(FormatWav, [][]byte{a, b})
	require.NoError(t, err)

	w, err := ParseWAV(out)
	require.NoError(t, err)
	assert.Len(t, w.Data, (800+1600)*2)
	assert.Equal(t, 150*time.Millisecond, w.Duration())
}

func TestConcatWAVFormatMismatch(t *testing.T) {
	a := EncodeWAV(tone(10), 16000)
	b := EncodeWAV(tone(10), 22050)

	_, err := ConcatWAV([][]byte{a, b})
	assert.ErrorContains(t, err, "format mismatch")
}

func TestConcatCompressedIsByteJoin(t *testing.T) {
	out, err := Concat(FormatMp3, [][]byte{{0xFF, 0xFB, 1}, {0xFF, 0xFB, 2}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFB, 1, 0xFF, 0xFB, 2}, out)

	single := []byte("only")
	out, err = Concat(FormatWav, [][]byte{single})
	require.NoError(t, err)
	assert.Equal(t, single, out)
}
