//go:build cgo

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/audio"
	"github.com/dkeye/mentor/internal/core"
)

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("module", "capture.malgo").Msg(message)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ctx, nil
}

// Microphone captures 16-bit mono PCM at the stream sample rate.
type Microphone struct {
	callbacks

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
}

var _ core.SpeechCapture = (*Microphone)(nil)

func NewMicrophone() *Microphone { return &Microphone{} }

func (m *Microphone) StartCapture(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}

	mctx, err := initContext()
	if err != nil {
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = audio.Channels
	cfg.SampleRate = audio.SampleRate

	onSamples := func(_, input []byte, _ uint32) {
		if len(input) == 0 {
			return
		}
		pcm := make([]byte, len(input))
		copy(pcm, input)
		m.emitAudio(pcm)
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init capture device: %v", ErrUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: start capture device: %v", ErrUnavailable, err)
	}

	m.mctx, m.device = mctx, device
	log.Info().Str("module", "capture").Msg("microphone started")
	return nil
}

func (m *Microphone) StopCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	m.device.Uninit()
	_ = m.mctx.Uninit()
	m.mctx.Free()
	m.device, m.mctx = nil, nil
	log.Info().Str("module", "capture").Msg("microphone stopped")
	return nil
}

// DeviceSink plays buffers on the default output device.
type DeviceSink struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	pending []byte
	drained chan struct{}
	closed  bool
}

var _ core.AudioSink = (*DeviceSink)(nil)

func NewDeviceSink() (core.AudioSink, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, err
	}
	s := &DeviceSink{mctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = audio.Channels
	cfg.SampleRate = audio.SampleRate

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.fill})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init playback device: %v", ErrUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: start playback device: %v", ErrUnavailable, err)
	}
	s.device = device
	return s, nil
}

// fill runs on the audio thread.
func (s *DeviceSink) fill(output, _ []byte, _ uint32) {
	s.mu.Lock()
	n := copy(output, s.pending)
	s.pending = s.pending[n:]
	if len(s.pending) == 0 && s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
	s.mu.Unlock()
	clear(output[n:])
}

func (s *DeviceSink) Play(ctx context.Context, buf *core.PCMBuffer) error {
	pcm := audio.EncodeSamples(buf.Samples)
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrClosed
	}
	s.pending = pcm
	s.drained = done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.pending = nil
		s.drained = nil
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *DeviceSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.device.Uninit()
	_ = s.mctx.Uninit()
	s.mctx.Free()
	return nil
}
