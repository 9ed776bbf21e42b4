package delivery

import (
	"sync"

	"github.com/google/uuid"
)

// Session is one live connection's handle: an id, the owning user, and a
// bounded outbound envelope queue. The transport layer owns the lifecycle;
// the core only maps it to and from a user id.
type Session struct {
	id     uuid.UUID
	userID int64
	out    chan Envelope

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a session handle for a user with the given outbound
// buffer size.
func NewSession(userID int64, bufSize int) *Session {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Session{
		id:     uuid.New(),
		userID: userID,
		out:    make(chan Envelope, bufSize),
		done:   make(chan struct{}),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() int64 { return s.userID }

// Push enqueues an envelope without blocking. Returns false when the session
// is closed or its buffer is full; the envelope is then dropped, matching
// the at-most-once, best-effort delivery contract.
func (s *Session) Push(env Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

// Outbound is the channel the transport's write pump drains.
func (s *Session) Outbound() <-chan Envelope { return s.out }

// Done is closed when the session closes; the write pump selects on it.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close marks the session closed. Safe to call more than once. Envelopes
// already queued but not yet written are discarded with the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
