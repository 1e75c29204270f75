package app

import (
	"sync"

	"github.com/dkeye/mentor/internal/domain"
)

// ChatLog is append-only. Entries are never edited or removed.
type ChatLog struct {
	mu      sync.RWMutex
	entries []domain.ChatMessage
}

func NewChatLog() *ChatLog { return &ChatLog{} }

func (l *ChatLog) Append(m domain.ChatMessage) {
	l.mu.Lock()
	l.entries = append(l.entries, m)
	l.mu.Unlock()
}

// Entries returns a copy in arrival order.
func (l *ChatLog) Entries() []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.ChatMessage(nil), l.entries...)
}

func (l *ChatLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
