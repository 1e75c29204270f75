package app

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/app/lifecycle"
	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/domain"
	"github.com/dkeye/mentor/internal/protocol"
)

// AudioQueue accepts raw PCM fragments for ordered playback.
type AudioQueue interface {
	Enqueue(fragment []byte) error
}

// AnnotationSink draws whiteboard instructions.
type AnnotationSink interface {
	Apply(a domain.Annotation) error
}

// Dispatcher routes inbound messages to their handlers. Handle is called
// from the connection read goroutine, one message at a time.
type Dispatcher struct {
	Machine *lifecycle.Machine
	Audio   AudioQueue
	Video   core.VideoSink
	Chat    *ChatLog
	Roster  *Roster
	Board   AnnotationSink
	Capture core.SpeechCapture
	Notify  Notifier
	Now     func() time.Time

	mu     sync.RWMutex
	avatar domain.AvatarState
}

func (d *Dispatcher) Avatar() domain.AvatarState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.avatar
}

func (d *Dispatcher) Handle(msg protocol.Inbound) {
	logger := log.With().Str("module", "app.dispatcher").Str("type", msg.InboundType()).Logger()
	if d.Machine.State() == lifecycle.Ended {
		logger.Debug().Msg("dropped after end")
		return
	}

	switch m := msg.(type) {
	case protocol.VideoFrame:
		if d.Video == nil || !d.config().AvatarEnabled {
			return
		}
		frame, err := base64.StdEncoding.DecodeString(m.Frame)
		if err != nil {
			logger.Warn().Err(err).Msg("bad video frame encoding")
			return
		}
		if err := d.Video.PushFrame(frame); err != nil {
			logger.Debug().Err(err).Msg("video frame not delivered")
		}

	case protocol.AudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(m.Delta)
		if err != nil {
			logger.Warn().Err(&core.AudioDecodeError{Err: err}).Msg("bad audio delta encoding")
			return
		}
		if len(pcm) == 0 {
			return
		}
		if d.Audio != nil {
			if err := d.Audio.Enqueue(pcm); err != nil {
				logger.Debug().Err(err).Msg("audio fragment dropped")
				return
			}
		}
		if d.Machine != nil && !d.Machine.Flags().Speaking {
			d.Machine.SetSpeaking(true)
			d.emit(Event{Kind: EventAudio, Data: map[string]bool{"speaking": true}})
		}

	case protocol.AudioDone:
		// Queued fragments keep playing; only the indicator changes.
		if d.Machine != nil {
			d.Machine.SetSpeaking(false)
		}
		d.emit(Event{Kind: EventAudio, Data: map[string]bool{"speaking": false}})

	case protocol.TextDelta:
		entry := domain.NewMentorMessage(m.Delta, d.now())
		d.Chat.Append(entry)
		d.emit(Event{Kind: EventChat, Data: entry})

	case protocol.WhiteboardAnnotation:
		if d.Board == nil || !d.config().WhiteboardEnabled {
			return
		}
		if err := d.Board.Apply(m.Annotation); err != nil {
			logger.Warn().Err(err).Msg("annotation rejected")
			return
		}
		d.emit(Event{Kind: EventWhiteboard, Data: m.Annotation})

	case protocol.ParticipantJoined:
		d.Roster.Add(m.Participant)
		d.syncParticipants()

	case protocol.ParticipantLeft:
		if d.Roster.Remove(m.ParticipantID) {
			d.syncParticipants()
		}

	case protocol.StreamStarted:
		d.updateSession(func(s *domain.Session) { s.StreamURL = m.StreamURL })
		d.emit(Event{Kind: EventStream, Data: map[string]string{"streamUrl": m.StreamURL}})

	case protocol.SessionJoined:
		d.updateSession(func(s *domain.Session) { s.ParticipantCount = m.ParticipantCount })
		logger.Info().Int("participants", m.ParticipantCount).Msg("joined")

	case protocol.ServiceError:
		logger.Error().Str("message", m.Message).Msg("service error")
		d.emit(Event{Kind: EventServiceError, Data: map[string]string{"message": m.Message}})

	case protocol.SpeakingAck:
		logger.Debug().Bool("started", m.Started).Msg("speaking acknowledged")

	case protocol.Transcription:
		if d.Capture != nil {
			d.Capture.DeliverTranscript(m.Text)
		}
		d.emit(Event{Kind: EventTranscript, Data: map[string]string{"text": m.Text}})

	case protocol.AvatarUpdate:
		d.mu.Lock()
		if m.Initialized {
			d.avatar.Ready = true
			d.avatar.AvatarID = m.AvatarID
		}
		if m.Expression != "" {
			d.avatar.Expression = m.Expression
		}
		if m.Gesture != "" {
			d.avatar.Gesture = m.Gesture
		}
		state := d.avatar
		d.mu.Unlock()
		d.emit(Event{Kind: EventAvatar, Data: state})

	case protocol.Unknown:
		logger.Warn().Int("bytes", len(m.Raw)).Msg("unhandled message type")

	default:
		logger.Warn().Msg("unhandled message")
	}
}

func (d *Dispatcher) syncParticipants() {
	// the local student counts too
	count := d.Roster.Count() + 1
	d.updateSession(func(s *domain.Session) { s.ParticipantCount = count })
	d.emit(Event{Kind: EventParticipants, Data: d.Roster.Snapshot()})
}

func (d *Dispatcher) config() domain.SessionConfig {
	if d.Machine == nil {
		return domain.SessionConfig{}
	}
	if s := d.Machine.Session(); s != nil {
		return s.Config
	}
	return domain.SessionConfig{}
}

func (d *Dispatcher) updateSession(fn func(*domain.Session)) {
	if d.Machine != nil {
		d.Machine.UpdateSession(fn)
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) emit(e Event) {
	if d.Notify != nil {
		d.Notify.Notify(e)
	}
}
