//go:build !cgo

package capture

import (
	"github.com/dkeye/mentor/internal/core"
)

// Microphone is unavailable without cgo.
type Microphone struct {
	Unavailable
}

func NewMicrophone() *Microphone { return &Microphone{} }

// NewDeviceSink always fails without cgo; callers fall back to a clock sink.
func NewDeviceSink() (core.AudioSink, error) {
	return nil, ErrUnavailable
}
