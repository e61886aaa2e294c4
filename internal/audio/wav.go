package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrNotWAV indicates a payload that is not 16-bit PCM RIFF/WAVE.
var ErrNotWAV = errors.New("not a 16-bit PCM wav payload")

// EncodeWAV wraps 16-bit PCM samples in a minimal RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)
	dataSize := len(samples) * 2

	out := make([]byte, wavHeaderSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[wavHeaderSize+2*i:], uint16(s))
	}
	return out
}

// IsWAV reports whether payload starts with a RIFF/WAVE header.
func IsWAV(payload []byte) bool {
	return len(payload) >= 12 && bytes.Equal(payload[0:4], []byte("RIFF")) && bytes.Equal(payload[8:12], []byte("WAVE"))
}

// DecodeWAV extracts PCM samples from a 16-bit RIFF/WAVE payload. Chunks other
// than fmt and data are skipped.
func DecodeWAV(payload []byte) (samples []int16, sampleRate int, channels int, err error) {
	if !IsWAV(payload) {
		return nil, 0, 0, ErrNotWAV
	}

	var haveFormat bool
	offset := 12
	for offset+8 <= len(payload) {
		id := string(payload[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(payload[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(payload) {
			size = len(payload) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := binary.LittleEndian.Uint16(payload[body:])
			channels = int(binary.LittleEndian.Uint16(payload[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(payload[body+4:]))
			bits := binary.LittleEndian.Uint16(payload[body+14:])
			if format != 1 || bits != 16 {
				return nil, 0, 0, fmt.Errorf("%w: format=%d bits=%d", ErrNotWAV, format, bits)
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, 0, 0, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			samples = decodeInt16LE(payload[body : body+size])
			return samples, sampleRate, channels, nil
		}

		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}

	return nil, 0, 0, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}
