package monitor

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrSessionNotFound is returned for operations on a missing or
	// already-ended session.
	ErrSessionNotFound = errors.New("monitor: session not found")
	// ErrSessionExists is returned when starting a session whose id is
	// already active.
	ErrSessionExists = errors.New("monitor: session already exists")
)

// SessionInfo is a read-only summary of an active session.
type SessionInfo struct {
	ID         string    `json:"sessionId"`
	StartTime  time.Time `json:"startTime"`
	RiskLevel  Severity  `json:"riskLevel"`
	RiskScore  float64   `json:"riskScore"`
	AlertCount int       `json:"alertCount"`
	Active     bool      `json:"isActive"`
}

// Store is the registry of active sessions. Implementations must be safe
// for concurrent use; session lookup and creation must never block on a
// busy session. Session field access is the caller's concern: the monitor
// reads and writes a session only under that session's lock.
type Store interface {
	Create(s *Session) error
	Get(id string) (*Session, error)
	Remove(id string) error
	IDs() []string
	Count() int
}

// MemoryStore is an in-process Store backed by a mutex-guarded map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// IDs returns the ids of every stored session, in no particular order.
func (m *MemoryStore) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
