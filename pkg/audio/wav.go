package audio

import (
	"encoding/binary"
	"errors"
)

var (
	ErrNotWAV         = errors.New("invalid wav data")
	ErrUnsupportedWAV = errors.New("unsupported wav format")
)

// WAVFormat is the fmt chunk of a PCM wav file.
type WAVFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ParseWAV returns the format and the data chunk of a 16-bit PCM wav file. The
// returned slice aliases data.
func ParseWAV(data []byte) (WAVFormat, []byte, error) {
	if !IsWAV(data) {
		return WAVFormat{}, nil, ErrNotWAV
	}

	format := WAVFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	audioFormat := 1
	offset := 12
	dataOffset := -1
	dataSize := 0
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8
		if chunkSize < 0 {
			return WAVFormat{}, nil, ErrNotWAV
		}
		if offset+chunkSize > len(data) {
			chunkSize = len(data) - offset
		}

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 {
				audioFormat = int(binary.LittleEndian.Uint16(data[offset : offset+2]))
				format.Channels = int(binary.LittleEndian.Uint16(data[offset+2 : offset+4]))
				format.SampleRate = int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
				format.BitsPerSample = int(binary.LittleEndian.Uint16(data[offset+14 : offset+16]))
			}
		case "data":
			dataOffset = offset
			dataSize = chunkSize
		}

		offset += chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if dataOffset < 0 || dataOffset+dataSize > len(data) {
		return WAVFormat{}, nil, errors.New("wav data chunk not found")
	}
	// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, which carries PCM for 16-bit files too.
	if (audioFormat != 1 && audioFormat != 0xFFFE) || format.BitsPerSample != 16 || format.Channels < 1 {
		return WAVFormat{}, nil, ErrUnsupportedWAV
	}
	return format, data[dataOffset : dataOffset+dataSize], nil
}

// EncodeWAV wraps mono PCM16 in a canonical 44 byte wav header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], 1)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
