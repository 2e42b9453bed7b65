package session

import (
	"sync"

	"github.com/sensorgrid/aggregator/internal/backend"
	"github.com/sensorgrid/aggregator/internal/config"
	"github.com/sensorgrid/aggregator/internal/queue"
)

// Session is the mutable per-peer record: its fixed spec, current status,
// backend handle (nil before the first successful connect and after
// adapter recovery; after a backend-reported link loss the old handle
// stays until the next successful connect replaces it), and notification
// queue. The queue persists across reconnects; the handle does not.
type Session struct {
	Spec   config.PeerSpec
	Queue  *queue.TimedQueue

	mu     sync.Mutex
	status Status
	handle backend.Handle
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions to the given status. The state machine legality
// (spec.md §4.4 table) is enforced by callers (supervisor/aggregator),
// not here — Session is a dumb record, not a state machine.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Handle returns the current backend handle, or nil if none is installed.
func (s *Session) Handle() backend.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// SetHandle installs a new backend handle, replacing any previous one.
func (s *Session) SetHandle(h backend.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

// Table is the ordered, fixed-size collection of Sessions, one per roster
// slot. Slot index is the roster's stable ordering (config.Roster).
type Table struct {
	Sessions []*Session
}

// NewTable builds a session table from a roster, every slot starting
// Unavailable with an empty queue built by the given constructor.
func NewTable(roster config.Roster, freshnessHorizon func() *queue.TimedQueue) *Table {
	t := &Table{Sessions: make([]*Session, len(roster))}
	for i, spec := range roster {
		t.Sessions[i] = &Session{
			Spec:   spec,
			Queue:  freshnessHorizon(),
			status: Unavailable,
		}
	}
	return t
}

// BySlot returns the session at the given roster slot index.
func (t *Table) BySlot(i int) *Session { return t.Sessions[i] }

// ByAddress finds the session whose spec address matches (case-insensitive
// comparisons are the backend's job; this is an exact string match since
// the roster is normalized at load time).
func (t *Table) ByAddress(addr string) (*Session, int, bool) {
	for i, s := range t.Sessions {
		if s.Spec.Address == addr {
			return s, i, true
		}
	}
	return nil, -1, false
}

// NotConnected returns the slot indices not currently Connected.
func (t *Table) NotConnected() []int {
	var out []int
	for i, s := range t.Sessions {
		if s.Status() != Connected {
			out = append(out, i)
		}
	}
	return out
}

// AllConnected reports whether every slot is Connected.
func (t *Table) AllConnected() bool {
	for _, s := range t.Sessions {
		if s.Status() != Connected {
			return false
		}
	}
	return true
}
