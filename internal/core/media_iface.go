package core

import (
	"context"
	"time"
)

// PCMBuffer is a decoded, playable block of 16-bit signed samples.
type PCMBuffer struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Duration is the wall-clock length of the buffer.
func (b *PCMBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// Decoder turns a self-describing container into a playable buffer.
type Decoder interface {
	Decode(ctx context.Context, container []byte) (*PCMBuffer, error)
}

type AudioSink interface {
	// Play blocks until the buffer has been fully rendered or ctx is done.
	// A cancelled ctx must produce no further output.
	Play(ctx context.Context, buf *PCMBuffer) error
	// Close releases the output device.
	Close() error
}

// VideoSink receives decoded avatar video payloads.
type VideoSink interface {
	PushFrame(frame []byte) error
}

// SpeechCapture abstracts the platform microphone and speech-to-text path.
type SpeechCapture interface {
	StartCapture(ctx context.Context) error
	StopCapture() error
	// OnAudio receives raw 16-bit PCM captured from the microphone.
	OnAudio(func(pcm []byte))
	// OnTranscript receives recognised text.
	OnTranscript(func(text string))
	// DeliverTranscript feeds text recognised elsewhere (e.g. by the service).
	DeliverTranscript(text string)
}
