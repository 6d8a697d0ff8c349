// Package ipc models the IPC framework external collaborator from spec.md §6:
// client sessions that fire a close callback, and the "kill the client
// session" response to a protocol violation. Grounded on the per-request
// lifecycle of the teacher's internal/server (one gin.Context per call),
// generalized into a transport-agnostic, long-lived Session object so the
// Supervisor core (internal/supervisor) never depends on gin or HTTP
// directly. Pure bookkeeping: apart from the standard library, the only
// dependency is github.com/google/uuid, which mints session IDs.
package ipc

import (
	"sync"

	"github.com/google/uuid"
)

// ID is an opaque, externally-stable session identifier.
type ID string

// NewID mints a fresh session identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// CloseFunc is invoked exactly once when a Session closes, normally or via Kill.
type CloseFunc func(ID)

// Session is one client connection. Resources it creates (AppProc references,
// in particular) are tagged with its ID; closing it triggers their cleanup.
type Session struct {
	id      ID
	killed  bool
	closed  bool
	mu      sync.Mutex
	onClose []CloseFunc
}

// NewSession starts tracking a new client session.
func NewSession() *Session {
	return &Session{id: NewID()}
}

func (s *Session) ID() ID { return s.id }

// OnClose registers fn to run when the session closes. Registration after
// Close has already run invokes fn immediately, to keep the contract simple
// for late registrants.
func (s *Session) OnClose(fn CloseFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn(s.id)
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Close runs every registered close callback exactly once, in registration
// order. Subsequent calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	cbs := s.onClose
	s.onClose = nil
	s.closed = true
	s.mu.Unlock()
	for _, fn := range cbs {
		fn(s.id)
	}
}

// Kill terminates the session for a client-protocol violation (spec.md §7):
// empty/invalid name, stale reference, duplicate proc reference, out-of-range
// priority. The Supervisor continues running; only the offending client pays.
func (s *Session) Kill(reason string) {
	s.mu.Lock()
	s.killed = true
	s.mu.Unlock()
	_ = reason // surfaced to logs by the transport layer, not retained here
	s.Close()
}

func (s *Session) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// Manager tracks live sessions so a transport layer (internal/server) can look
// one up by ID across requests.
type Manager struct {
	mu       sync.Mutex
	sessions map[ID]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[ID]*Session)}
}

func (m *Manager) Open() *Session {
	s := NewSession()
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	s.OnClose(func(id ID) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	})
	return s
}

func (m *Manager) Get(id ID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Close(id ID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	return true
}
