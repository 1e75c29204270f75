package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/domain"
)

// DefaultUsername is given to control clients that never set a name.
const DefaultUsername = "Student"

// Registry maps control-API client tokens to the student identity they act as.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[domain.UserID]*domain.User)}
}

// GetOrCreateUser returns a copy of the user bound to id.
func (r *Registry) GetOrCreateUser(id domain.UserID) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return *u
	}
	u := &domain.User{ID: id, Name: DefaultUsername}
	r.users[id] = u
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("created new user")
	return *u
}

func (r *Registry) UpdateUsername(id domain.UserID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		u = &domain.User{ID: id}
	}
	if err := u.SetName(name); err != nil {
		return err
	}
	r.users[id] = u
	log.Info().Str("module", "app.registry").Str("user", string(id)).Str("username", name).Msg("updated username")
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
