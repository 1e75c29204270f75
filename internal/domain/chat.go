package domain

import (
	"time"

	"github.com/google/uuid"
)

// MentorName is the sender shown for mentor transcript entries.
const MentorName = "GEOVA AI Mentor"

type ChatMessage struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Text       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	IsQuestion bool      `json:"isQuestion,omitempty"`
	FromMentor bool      `json:"isGeova,omitempty"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
}

func NewMentorMessage(text string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:         uuid.NewString(),
		Sender:     MentorName,
		Text:       text,
		Timestamp:  at,
		FromMentor: true,
		AvatarURL:  "/geova-avatar.png",
	}
}

func NewStudentMessage(sender, text string, isQuestion bool, at time.Time) ChatMessage {
	return ChatMessage{
		ID:         uuid.NewString(),
		Sender:     sender,
		Text:       text,
		Timestamp:  at,
		IsQuestion: isQuestion,
	}
}
