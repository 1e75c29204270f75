package domain

import (
	"errors"
	"fmt"
)

type SessionID string

type SessionType string

const (
	SessionPrivate SessionType = "private"
	SessionGroup   SessionType = "group"
)

func (t SessionType) Valid() bool {
	return t == SessionPrivate || t == SessionGroup
}

// SessionStatus mirrors the remote record. It only moves forward.
type SessionStatus string

const (
	StatusStarting SessionStatus = "starting"
	StatusLive     SessionStatus = "live"
	StatusEnded    SessionStatus = "ended"
)

var ErrStatusRegression = errors.New("session status regression")

func (s SessionStatus) rank() int {
	switch s {
	case StatusStarting:
		return 1
	case StatusLive:
		return 2
	case StatusEnded:
		return 3
	}
	return 0
}

// SessionConfig is sent with both the create call and the join message.
type SessionConfig struct {
	SessionType          SessionType `json:"sessionType"`
	VoiceEnabled         bool        `json:"voiceEnabled"`
	AvatarEnabled        bool        `json:"avatarEnabled"`
	WhiteboardEnabled    bool        `json:"whiteboardEnabled"`
	RecordingEnabled     bool        `json:"recordingEnabled"`
	YouTubeStreamEnabled bool        `json:"youtubeStreamEnabled"`
}

// DefaultSessionConfig matches what a freshly opened mentor view starts with.
func DefaultSessionConfig(t SessionType) SessionConfig {
	return SessionConfig{
		SessionType:       t,
		VoiceEnabled:      true,
		AvatarEnabled:     true,
		WhiteboardEnabled: true,
		RecordingEnabled:  true,
	}
}

type Session struct {
	ID               SessionID     `json:"id"`
	Title            string        `json:"title,omitempty"`
	Description      string        `json:"description,omitempty"`
	Type             SessionType   `json:"sessionType"`
	Status           SessionStatus `json:"status"`
	ParticipantCount int           `json:"participants"`
	StreamURL        string        `json:"streamUrl,omitempty"`
	Config           SessionConfig `json:"config"`
}

// Advance moves the status forward. Same-status calls are no-ops.
func (s *Session) Advance(next SessionStatus) error {
	if next.rank() == 0 {
		return fmt.Errorf("unknown status %q", next)
	}
	if next.rank() < s.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, s.Status, next)
	}
	s.Status = next
	return nil
}
