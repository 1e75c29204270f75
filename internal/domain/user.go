// Package domain holds the value types shared across the client.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 64
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// User is the local student driving the client.
type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id, name string) (*User, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > MaxUserIDLen {
		id = id[:MaxUserIDLen]
	}
	return &User{ID: UserID(id), Name: name}, nil
}

func (u *User) SetName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	u.Name = name
	return nil
}

func validateName(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
