package bus

import (
	"sync"

	"github.com/relaybus/relay/internal/backend"
)

// sessionState tracks the long-poll lifecycle.
type sessionState int

const (
	stateOpen sessionState = iota
	stateWaiting
	stateDelivered
	stateTimedOut
	stateClosed
)

// session is one held-open poll: the client's identity, its per-channel
// cursors, and a one-shot delivery slot. The mutex makes deliver, timeout
// and close mutually exclusive: a session observes exactly one terminal
// state.
type session struct {
	clientID string
	ident    Identity
	cursors  map[string]uint64

	mu    sync.Mutex
	state sessionState
	out   chan []backend.Message
}

func newSession(clientID string, ident Identity, cursors map[string]uint64) *session {
	return &session{
		clientID: clientID,
		ident:    ident,
		cursors:  cursors,
		state:    stateOpen,
		out:      make(chan []backend.Message, 1),
	}
}

// wait transitions OPEN -> WAITING.
func (s *session) wait() {
	s.mu.Lock()
	if s.state == stateOpen {
		s.state = stateWaiting
	}
	s.mu.Unlock()
}

func (s *session) waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateWaiting
}

// tryDeliver hands the batch to the poller if the session is still WAITING.
// Returns false when the session already timed out or closed.
func (s *session) tryDeliver(batch []backend.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateWaiting {
		return false
	}
	s.state = stateDelivered
	s.out <- batch
	return true
}

// tryTimeout transitions WAITING -> TIMED_OUT. Returns false when a delivery
// won the race; the caller should then drain the delivery slot.
func (s *session) tryTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateWaiting {
		return false
	}
	s.state = stateTimedOut
	return true
}

// close marks the session CLOSED (client disconnect or shutdown).
func (s *session) close() {
	s.mu.Lock()
	if s.state == stateWaiting || s.state == stateOpen {
		s.state = stateClosed
	}
	s.mu.Unlock()
}
