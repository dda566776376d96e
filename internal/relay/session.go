package relay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/example/resq-relay/internal/models"
)

// Session is the hub-side handle for one connected client. It carries no
// transport of its own: the hub enqueues outbound frames onto Outbox and the
// owning connection pump drains it. That keeps the hub testable without a
// live socket.
type Session struct {
	ID   string
	Role models.Role

	send      chan []byte
	closeOnce sync.Once

	// ids of rescue requests created over this connection, used to scope
	// the requester's sync snapshot.
	ownedMu sync.Mutex
	owned   map[string]bool
}

func newSession(role models.Role, buffer int) *Session {
	return &Session{
		ID:    uuid.NewString(),
		Role:  role,
		send:  make(chan []byte, buffer),
		owned: make(map[string]bool),
	}
}

// Outbox is the stream of encoded envelopes queued for this session. It is
// closed when the hub drops the session.
func (s *Session) Outbox() <-chan []byte { return s.send }

// enqueue attempts a non-blocking send. A full queue means the consumer has
// stalled; the caller is expected to drop the session.
func (s *Session) enqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) closeSend() {
	s.closeOnce.Do(func() { close(s.send) })
}

func (s *Session) markOwned(requestID string) {
	s.ownedMu.Lock()
	defer s.ownedMu.Unlock()
	s.owned[requestID] = true
}

func (s *Session) ownedIDs() map[string]bool {
	s.ownedMu.Lock()
	defer s.ownedMu.Unlock()
	out := make(map[string]bool, len(s.owned))
	for id := range s.owned {
		out[id] = true
	}
	return out
}
