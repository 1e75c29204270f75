// Package lifecycle holds the session state machine. It only validates and
// records transitions; side effects belong to the orchestrator.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/domain"
)

type State int

const (
	Idle State = iota
	Creating
	Connecting
	Live
	Disconnected
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Creating:
		return "creating"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Disconnected:
		return "disconnected"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrInvalidTransition = errors.New("invalid session transition")

// Transition is delivered to subscribers after it has been applied.
type Transition struct {
	From, To State
	Session  *domain.Session
	Err      error
}

// Flags are orthogonal to the lifecycle state.
type Flags struct {
	Speaking   bool // mentor audio is streaming in
	Listening  bool // the student's microphone is open
	HandRaised bool
}

type Machine struct {
	mu      sync.RWMutex
	state   State
	session *domain.Session
	flags   Flags
	subs    []func(Transition)
}

func New() *Machine {
	return &Machine{}
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session returns a copy of the current session, or nil before one exists.
func (m *Machine) Session() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

func (m *Machine) Flags() Flags {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags
}

// Subscribe registers fn for every accepted transition. Callbacks run
// synchronously after the lock is released.
func (m *Machine) Subscribe(fn func(Transition)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

func (m *Machine) BeginCreate() error {
	return m.transition(Creating, nil, nil, Idle)
}

// Created records the session returned by the service and moves to Connecting.
func (m *Machine) Created(sess *domain.Session) error {
	if sess == nil {
		return fmt.Errorf("%w: nil session", ErrInvalidTransition)
	}
	cp := *sess
	if cp.Status == "" {
		cp.Status = domain.StatusStarting
	}
	return m.transition(Connecting, func() { m.session = &cp }, nil, Creating)
}

// CreateFailed returns to Idle without retaining anything.
func (m *Machine) CreateFailed(cause error) error {
	return m.transition(Idle, func() { m.session = nil }, cause, Creating)
}

func (m *Machine) MarkLive() error {
	return m.transition(Live, func() { m.advance(domain.StatusLive) }, nil, Connecting)
}

func (m *Machine) MarkDisconnected(cause error) error {
	return m.transition(Disconnected, func() {
		m.flags.Speaking = false
		m.flags.Listening = false
	}, cause, Connecting, Live)
}

// End moves any state to Ended. Ending twice is a no-op.
func (m *Machine) End() error {
	if m.State() == Ended {
		return nil
	}
	err := m.transition(Ended, func() {
		m.advance(domain.StatusEnded)
		m.flags = Flags{}
	}, nil, Idle, Creating, Connecting, Live, Disconnected)
	if errors.Is(err, ErrInvalidTransition) && m.State() == Ended {
		// lost a race with a concurrent End
		return nil
	}
	return err
}

func (m *Machine) SetSpeaking(v bool) {
	m.mu.Lock()
	m.flags.Speaking = v
	m.mu.Unlock()
}

func (m *Machine) SetListening(v bool) {
	m.mu.Lock()
	m.flags.Listening = v
	m.mu.Unlock()
}

func (m *Machine) SetHandRaised(v bool) {
	m.mu.Lock()
	m.flags.HandRaised = v
	m.mu.Unlock()
}

// UpdateSession mutates the live session under the machine lock.
// It is a no-op before a session exists.
func (m *Machine) UpdateSession(fn func(*domain.Session)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return false
	}
	fn(m.session)
	return true
}

func (m *Machine) advance(status domain.SessionStatus) {
	if m.session == nil {
		return
	}
	if err := m.session.Advance(status); err != nil {
		log.Warn().Str("module", "app.lifecycle").Err(err).Msg("session status not advanced")
	}
}

func (m *Machine) transition(to State, apply func(), cause error, from ...State) error {
	m.mu.Lock()
	cur := m.state
	allowed := false
	for _, f := range from {
		if f == cur {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		log.Warn().Str("module", "app.lifecycle").Stringer("from", cur).Stringer("to", to).Msg("rejected transition")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, to)
	}
	m.state = to
	if apply != nil {
		apply()
	}
	var sess *domain.Session
	if m.session != nil {
		cp := *m.session
		sess = &cp
	}
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	log.Info().Str("module", "app.lifecycle").Stringer("from", cur).Stringer("to", to).Msg("transition")
	tr := Transition{From: cur, To: to, Session: sess, Err: cause}
	for _, fn := range subs {
		fn(tr)
	}
	return nil
}
