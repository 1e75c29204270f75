package core

import (
	"errors"
	"fmt"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("closed")
)

// SessionCreationError: the remote create call failed. Nothing is retained.
type SessionCreationError struct {
	Err error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("create session: %v", e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// ConnectionError: the duplex connection failed to open or dropped.
type ConnectionError struct {
	URL        string
	Unexpected bool
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.Unexpected {
		return fmt.Sprintf("connection to %s lost: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AudioDecodeError: a single fragment could not be decoded and was skipped.
type AudioDecodeError struct {
	Fragment int
	Err      error
}

func (e *AudioDecodeError) Error() string {
	return fmt.Sprintf("decode audio fragment %d: %v", e.Fragment, e.Err)
}

func (e *AudioDecodeError) Unwrap() error { return e.Err }

// NotConnectedError: a send was attempted without an open, live connection.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s: not connected", e.Op)
}

// SessionTeardownError: the remote end call failed. Logged only.
type SessionTeardownError struct {
	SessionID string
	Err       error
}

func (e *SessionTeardownError) Error() string {
	return fmt.Sprintf("end session %s: %v", e.SessionID, e.Err)
}

func (e *SessionTeardownError) Unwrap() error { return e.Err }
