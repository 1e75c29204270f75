package core

import (
	"context"

	"github.com/dkeye/mentor/internal/domain"
)

type CreateSessionRequest struct {
	SessionType domain.SessionType   `json:"sessionType"`
	ContextPage string               `json:"contextPage"`
	Config      domain.SessionConfig `json:"config"`
}

type BroadcastRequest struct {
	SessionID   domain.SessionID `json:"sessionId"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
}

// SessionAPI is the remote record keeper for mentoring sessions.
type SessionAPI interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error)
	EndSession(ctx context.Context, id domain.SessionID) error
	StartBroadcast(ctx context.Context, req BroadcastRequest) error
}
