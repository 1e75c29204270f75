// Package protocol defines the JSON messages exchanged with the mentor service.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/mentor/internal/domain"
)

const (
	TypeJoinSession   = "geova.join_session"
	TypeStudentMsg    = "student.message"
	TypeStartSpeaking = "student.start_speaking"
	TypeStopSpeaking  = "student.stop_speaking"
	TypeAudioChunk    = "student.audio_chunk"

	TypeVideoFrame        = "avatar.video_frame"
	TypeAudioDelta        = "response.audio.delta"
	TypeAudioDone         = "response.audio.done"
	TypeTextDelta         = "response.text.delta"
	TypeWhiteboard        = "whiteboard.annotation"
	TypeParticipantJoined = "session.participant_joined"
	TypeParticipantLeft   = "session.participant_left"
	TypeStreamStarted     = "youtube.stream_started"
	TypeSessionJoined     = "session.joined"
	TypeError             = "error"
	TypeSpeakingStarted   = "student.speaking_started"
	TypeSpeakingStopped   = "student.speaking_stopped"
	TypeTranscription     = "transcription.result"
	TypeAvatarInitialized = "avatar.initialized"
	TypeAvatarUpdate      = "avatar.update"
)

// Outbound is a message the client sends. The set is closed.
type Outbound interface {
	outboundType() string
}

type JoinSession struct {
	SessionID domain.SessionID     `json:"sessionId"`
	UserID    domain.UserID        `json:"userId"`
	Config    domain.SessionConfig `json:"config"`
}

type StudentMessage struct {
	Message    string `json:"message"`
	IsQuestion bool   `json:"isQuestion"`
	HandRaised bool   `json:"handRaised"`
}

type StartSpeaking struct{}

type StopSpeaking struct{}

type AudioChunk struct {
	AudioChunk string `json:"audioChunk"`
}

// TypeOf returns the wire type of an outbound message.
func TypeOf(msg Outbound) string { return msg.outboundType() }

func (JoinSession) outboundType() string    { return TypeJoinSession }
func (StudentMessage) outboundType() string { return TypeStudentMsg }
func (StartSpeaking) outboundType() string  { return TypeStartSpeaking }
func (StopSpeaking) outboundType() string   { return TypeStopSpeaking }
func (AudioChunk) outboundType() string     { return TypeAudioChunk }

// Inbound is a message received from the service. The set is closed;
// Unknown carries anything this client does not understand.
type Inbound interface {
	InboundType() string
}

type VideoFrame struct {
	Frame string `json:"frame"`
}

type AudioDelta struct {
	Delta string `json:"delta"`
}

type AudioDone struct{}

type TextDelta struct {
	Delta string `json:"delta"`
}

type WhiteboardAnnotation struct {
	Annotation domain.Annotation `json:"annotation"`
}

type ParticipantJoined struct {
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeft struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type StreamStarted struct {
	StreamURL string `json:"streamUrl"`
}

type SessionJoined struct {
	SessionID        domain.SessionID `json:"sessionId"`
	ParticipantCount int              `json:"participantCount"`
}

type ServiceError struct {
	Message string `json:"message"`
}

type SpeakingAck struct {
	Started bool `json:"-"`
}

type Transcription struct {
	Text string `json:"text"`
}

type AvatarUpdate struct {
	Initialized bool   `json:"-"`
	AvatarID    string `json:"avatarId,omitempty"`
	Message     string `json:"message,omitempty"`
	Expression  string `json:"expression,omitempty"`
	Gesture     string `json:"gesture,omitempty"`
}

type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (VideoFrame) InboundType() string           { return TypeVideoFrame }
func (AudioDelta) InboundType() string           { return TypeAudioDelta }
func (AudioDone) InboundType() string            { return TypeAudioDone }
func (TextDelta) InboundType() string            { return TypeTextDelta }
func (WhiteboardAnnotation) InboundType() string { return TypeWhiteboard }
func (ParticipantJoined) InboundType() string    { return TypeParticipantJoined }
func (ParticipantLeft) InboundType() string      { return TypeParticipantLeft }
func (StreamStarted) InboundType() string        { return TypeStreamStarted }
func (SessionJoined) InboundType() string        { return TypeSessionJoined }
func (ServiceError) InboundType() string         { return TypeError }
func (Transcription) InboundType() string        { return TypeTranscription }
func (u Unknown) InboundType() string            { return u.Type }

func (a SpeakingAck) InboundType() string {
	if a.Started {
		return TypeSpeakingStarted
	}
	return TypeSpeakingStopped
}

func (a AvatarUpdate) InboundType() string {
	if a.Initialized {
		return TypeAvatarInitialized
	}
	return TypeAvatarUpdate
}
