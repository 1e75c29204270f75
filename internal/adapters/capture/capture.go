// Package capture connects the client to local audio hardware: microphone
// capture for the student and a speaker sink for mentor playback.
package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/mentor/internal/core"
)

// ErrUnavailable means the host has no usable audio device or the binary
// was built without cgo.
var ErrUnavailable = errors.New("audio device unavailable")

// callbacks holds the listener half shared by every SpeechCapture.
type callbacks struct {
	mu           sync.RWMutex
	onAudio      func([]byte)
	onTranscript func(string)
}

func (c *callbacks) OnAudio(fn func([]byte)) {
	c.mu.Lock()
	c.onAudio = fn
	c.mu.Unlock()
}

func (c *callbacks) OnTranscript(fn func(string)) {
	c.mu.Lock()
	c.onTranscript = fn
	c.mu.Unlock()
}

// DeliverTranscript forwards text recognised by the service.
func (c *callbacks) DeliverTranscript(text string) {
	c.mu.RLock()
	fn := c.onTranscript
	c.mu.RUnlock()
	if fn != nil {
		fn(text)
	}
}

func (c *callbacks) emitAudio(pcm []byte) {
	c.mu.RLock()
	fn := c.onAudio
	c.mu.RUnlock()
	if fn != nil {
		fn(pcm)
	}
}

// Unavailable is a SpeechCapture for hosts without a microphone. It still
// relays transcripts delivered by the service.
type Unavailable struct {
	callbacks
}

var _ core.SpeechCapture = (*Unavailable)(nil)

func NewUnavailable() *Unavailable { return &Unavailable{} }

func (*Unavailable) StartCapture(context.Context) error { return ErrUnavailable }

func (*Unavailable) StopCapture() error { return nil }
