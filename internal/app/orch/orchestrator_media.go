package orch

import (
	"context"
	"encoding/base64"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/app"
	"github.com/dkeye/mentor/internal/app/lifecycle"
	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/domain"
	"github.com/dkeye/mentor/internal/protocol"
)

// StartSpeaking opens the student's microphone and tells the mentor.
// A host without a microphone still sends the notice.
func (o *Orchestrator) StartSpeaking(ctx context.Context) error {
	if err := o.requireLive(protocol.TypeStartSpeaking); err != nil {
		return err
	}
	if !o.config().VoiceEnabled {
		return ErrVoiceDisabled
	}
	if o.Machine.Flags().Listening {
		return nil
	}

	if err := o.send(protocol.StartSpeaking{}); err != nil {
		return err
	}
	o.Machine.SetListening(true)
	if o.capture != nil {
		if err := o.capture.StartCapture(ctx); err != nil {
			log.Warn().Err(err).Str("module", "orch.media").Msg("microphone unavailable")
		}
	}
	o.Notify(app.Event{Kind: app.EventAudio, Data: map[string]bool{"listening": true}})
	return nil
}

func (o *Orchestrator) StopSpeaking() error {
	if !o.Machine.Flags().Listening {
		return nil
	}
	if o.capture != nil {
		if err := o.capture.StopCapture(); err != nil {
			log.Warn().Err(err).Str("module", "orch.media").Msg("stop capture")
		}
	}
	o.Machine.SetListening(false)
	o.Notify(app.Event{Kind: app.EventAudio, Data: map[string]bool{"listening": false}})
	return o.send(protocol.StopSpeaking{})
}

// ToggleSpeaking flips the microphone and reports the new state.
func (o *Orchestrator) ToggleSpeaking(ctx context.Context) (bool, error) {
	if o.Machine.Flags().Listening {
		return false, o.StopSpeaking()
	}
	if err := o.StartSpeaking(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// forwardAudio ships captured microphone PCM while listening.
func (o *Orchestrator) forwardAudio(pcm []byte) {
	if !o.Machine.Flags().Listening || len(pcm) == 0 {
		return
	}
	chunk := protocol.AudioChunk{AudioChunk: base64.StdEncoding.EncodeToString(pcm)}
	if err := o.send(chunk); err != nil {
		log.Debug().Err(err).Str("module", "orch.media").Msg("audio chunk not sent")
	}
}

// ToggleAvatar flips the avatar feed and returns the new setting.
func (o *Orchestrator) ToggleAvatar() (bool, error) {
	var enabled bool
	ok := o.Machine.UpdateSession(func(s *domain.Session) {
		s.Config.AvatarEnabled = !s.Config.AvatarEnabled
		enabled = s.Config.AvatarEnabled
	})
	if !ok {
		return false, ErrNoSession
	}
	o.Notify(app.Event{Kind: app.EventAvatar, Data: map[string]bool{"enabled": enabled}})
	return enabled, nil
}

// SetMuted is read by the player when the next fragment starts.
func (o *Orchestrator) SetMuted(m bool) {
	o.mu.Lock()
	o.muted = m
	p := o.player
	o.mu.Unlock()
	if p != nil {
		p.SetMuted(m)
	}
}

func (o *Orchestrator) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.mu.Lock()
	o.volume = v
	p := o.player
	o.mu.Unlock()
	if p != nil {
		p.SetVolume(v)
	}
}

// FlushAudio drops queued mentor audio without closing the output.
func (o *Orchestrator) FlushAudio() {
	o.mu.Lock()
	p := o.player
	o.mu.Unlock()
	if p != nil {
		p.Flush()
	}
}

func (o *Orchestrator) requireLive(op string) error {
	if o.Machine.State() != lifecycle.Live {
		return &core.NotConnectedError{Op: op}
	}
	return nil
}

func (o *Orchestrator) config() domain.SessionConfig {
	if s := o.Machine.Session(); s != nil {
		return s.Config
	}
	return domain.SessionConfig{}
}
