// Package audio turns streamed PCM fragments into gapless playback.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dkeye/mentor/internal/core"
)

// Stream format of mentor audio: mono, 16-bit signed little-endian, 24 kHz.
const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16

	HeaderSize = 44
)

var ErrMalformed = errors.New("malformed wav container")

// FramePCM prepends the 44-byte RIFF/WAVE header to a raw PCM payload.
func FramePCM(pcm []byte) []byte {
	byteRate := SampleRate * Channels * BitsPerSample / 8
	blockAlign := Channels * BitsPerSample / 8

	out := make([]byte, HeaderSize, HeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], Channels)
	binary.LittleEndian.PutUint32(out[24:28], SampleRate)
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], BitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))

	return append(out, pcm...)
}

// WAVDecoder decodes the containers produced by FramePCM.
type WAVDecoder struct{}

func (WAVDecoder) Decode(ctx context.Context, container []byte) (*core.PCMBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(container) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(container))
	}
	if !bytes.Equal(container[0:4], []byte("RIFF")) ||
		!bytes.Equal(container[8:12], []byte("WAVE")) ||
		!bytes.Equal(container[12:16], []byte("fmt ")) ||
		!bytes.Equal(container[36:40], []byte("data")) {
		return nil, fmt.Errorf("%w: bad chunk tags", ErrMalformed)
	}
	if format := binary.LittleEndian.Uint16(container[20:22]); format != 1 {
		return nil, fmt.Errorf("%w: format %d", ErrMalformed, format)
	}
	channels := int(binary.LittleEndian.Uint16(container[22:24]))
	rate := int(binary.LittleEndian.Uint32(container[24:28]))
	bits := binary.LittleEndian.Uint16(container[34:36])
	if channels <= 0 || rate <= 0 || bits != BitsPerSample {
		return nil, fmt.Errorf("%w: %d ch %d Hz %d bit", ErrMalformed, channels, rate, bits)
	}

	size := int(binary.LittleEndian.Uint32(container[40:44]))
	payload := container[HeaderSize:]
	if size != len(payload) {
		return nil, fmt.Errorf("%w: data size %d, have %d", ErrMalformed, size, len(payload))
	}
	blockAlign := channels * 2
	if size == 0 || size%blockAlign != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not whole frames", ErrMalformed, size)
	}

	samples := make([]int16, size/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return &core.PCMBuffer{SampleRate: rate, Channels: channels, Samples: samples}, nil
}

// EncodeSamples is the inverse of decoding: int16 samples to little-endian bytes.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
