package audio

import "bytes"

// Detect classifies a blob. Each tier is consulted only when the previous
// one is inconclusive: file extension, magic bytes, probe-reported codec,
// then DefaultFormat.
func Detect(filename string, data []byte, codec string) Format {
	if f, ok := FromExtension(filename); ok {
		return f
	}
	if f, ok := FromMagic(data); ok {
		return f
	}
	if f, ok := FromCodec(codec); ok {
		return f
	}
	return DefaultFormat
}

// FromMagic inspects the leading bytes of data.
func FromMagic(data []byte) (Format, bool) {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWav, true
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOgg, true
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFlac, true
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMp3, true
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		// MP4/M4A container, audio-only uploads carry AAC
		return FormatAac, true
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xF6 == 0xF0:
		// ADTS sync: 12 one-bits followed by layer 00
		return FormatAac, true
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && (data[1]>>1)&0x03 != 0:
		// MPEG audio frame sync with a non-reserved layer
		return FormatMp3, true
	}
	return "", false
}
