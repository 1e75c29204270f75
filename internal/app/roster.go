package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/domain"
)

// Roster is a threadsafe, insertion-ordered set of remote participants.
// The local student is not a member.
type Roster struct {
	mu    sync.RWMutex
	order []domain.ParticipantID
	byID  map[domain.ParticipantID]domain.Participant
}

func NewRoster() *Roster {
	return &Roster{byID: make(map[domain.ParticipantID]domain.Participant)}
}

func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Add inserts p, or replaces its record in place if the id is already known.
func (r *Roster) Add(p domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.byID[p.ID] = p
	log.Info().Str("module", "app.roster").Str("participant", string(p.ID)).Str("name", p.Name).Msg("participant added")
}

// Remove reports whether id was present.
func (r *Roster) Remove(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "app.roster").Str("participant", string(id)).Msg("participant removed")
	return true
}

func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.byID = make(map[domain.ParticipantID]domain.Participant)
}
