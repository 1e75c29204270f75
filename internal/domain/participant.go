package domain

import "github.com/google/uuid"

type ParticipantID string

// Participant is another attendee of a group session.
// No transport or lifecycle logic here.
type Participant struct {
	ID     ParticipantID `json:"id"`
	Name   string        `json:"name"`
	Avatar string        `json:"avatar,omitempty"`
}

// NewParticipant builds a participant with a fresh id.
func NewParticipant(name string) (*Participant, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &Participant{ID: ParticipantID(uuid.NewString()), Name: name}, nil
}
