package app

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventState        EventKind = "state"
	EventChat         EventKind = "chat"
	EventParticipants EventKind = "participants"
	EventStream       EventKind = "stream"
	EventWhiteboard   EventKind = "whiteboard"
	EventAvatar       EventKind = "avatar"
	EventTranscript   EventKind = "transcript"
	EventServiceError EventKind = "error"
	EventAudio        EventKind = "audio"
)

// Event is a UI-facing notification. Data must be safe to marshal as JSON.
type Event struct {
	Kind EventKind `json:"kind"`
	Data any       `json:"data,omitempty"`
}

type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Hub fans events out to subscribers. A subscriber whose buffer is full
// misses the event; publishers never block.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns the event channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Notify(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Debug().Str("module", "app.hub").Str("kind", string(e.Kind)).Int("dropped", dropped).Msg("slow subscribers")
	}
}
