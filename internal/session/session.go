package session

import (
	"sort"
	"sync"
	"time"
)

// Session is one exclusive producer/consumer monitoring pairing. The session
// ID reuses the producer ID, since a producer carries at most one session.
type Session struct {
	SessionID            string    `json:"session_id"`
	ProducerID           string    `json:"producer_id"`
	ConsumerID           string    `json:"consumer_id"`
	ConsumerConnectionID string    `json:"consumer_connection_id"`
	StartedAt            time.Time `json:"started_at"`
	LastActivityAt       time.Time `json:"last_activity_at"`
}

// ClaimOutcome describes the result of a session claim
type ClaimOutcome int

const (
	ClaimCreated ClaimOutcome = iota
	ClaimRefreshed
	ClaimConflict
)

// ReleaseOutcome describes the result of a session release
type ReleaseOutcome int

const (
	ReleaseOK ReleaseOutcome = iota
	ReleaseNotFound
	ReleaseNotOwner
)

// Manager tracks active monitoring sessions, keyed by producer. Claim and
// release are single-lock operations so two consumers racing for the same
// producer cannot both win.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session table
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Claim tries to take the monitoring session for a producer. A repeat claim
// from the connection already holding it refreshes activity instead of
// failing. A claim against a session held elsewhere returns the existing
// session so the caller can report who holds it.
func (m *Manager) Claim(producerID, consumerID, connectionID string) (*Session, ClaimOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.sessions[producerID]; exists {
		if existing.ConsumerConnectionID == connectionID {
			existing.LastActivityAt = time.Now()
			sessionCopy := *existing
			return &sessionCopy, ClaimRefreshed
		}
		sessionCopy := *existing
		return &sessionCopy, ClaimConflict
	}

	now := time.Now()
	session := &Session{
		SessionID:            producerID,
		ProducerID:           producerID,
		ConsumerID:           consumerID,
		ConsumerConnectionID: connectionID,
		StartedAt:            now,
		LastActivityAt:       now,
	}
	m.sessions[producerID] = session

	sessionCopy := *session
	return &sessionCopy, ClaimCreated
}

// Release ends the session for a producer on behalf of a consumer
// connection. Only the holding connection may release it.
func (m *Manager) Release(producerID, connectionID string) (*Session, ReleaseOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[producerID]
	if !exists {
		return nil, ReleaseNotFound
	}
	if session.ConsumerConnectionID != connectionID {
		sessionCopy := *session
		return &sessionCopy, ReleaseNotOwner
	}
	delete(m.sessions, producerID)

	sessionCopy := *session
	return &sessionCopy, ReleaseOK
}

// Get returns a copy of the active session for a producer, or nil
func (m *Manager) Get(producerID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if session, exists := m.sessions[producerID]; exists {
		sessionCopy := *session
		return &sessionCopy
	}
	return nil
}

// RefreshActivity bumps the activity timestamp of an active session
func (m *Manager) RefreshActivity(producerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[producerID]
	if !exists {
		return false
	}
	session.LastActivityAt = time.Now()
	return true
}

// EndByProducer removes the session of a departing producer, returning the
// removed session or nil.
func (m *Manager) EndByProducer(producerID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[producerID]
	if !exists {
		return nil
	}
	delete(m.sessions, producerID)

	sessionCopy := *session
	return &sessionCopy
}

// EndByConsumerConnection removes every session held by a consumer
// connection, returning the removed sessions ordered by producer ID.
func (m *Manager) EndByConsumerConnection(connectionID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ended []*Session
	for producerID, session := range m.sessions {
		if session.ConsumerConnectionID != connectionID {
			continue
		}
		sessionCopy := *session
		ended = append(ended, &sessionCopy)
		delete(m.sessions, producerID)
	}
	sort.Slice(ended, func(i, j int) bool {
		return ended[i].ProducerID < ended[j].ProducerID
	})
	return ended
}

// ScanTimedOut removes sessions idle longer than maxIdle, returning them
// ordered by producer ID.
func (m *Manager) ScanTimedOut(maxIdle time.Duration) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	var ended []*Session
	for producerID, session := range m.sessions {
		if session.LastActivityAt.After(cutoff) {
			continue
		}
		sessionCopy := *session
		ended = append(ended, &sessionCopy)
		delete(m.sessions, producerID)
	}
	sort.Slice(ended, func(i, j int) bool {
		return ended[i].ProducerID < ended[j].ProducerID
	})
	return ended
}

// ActiveCount returns the number of active sessions
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AllSessions returns copies of every active session, ordered by producer ID
func (m *Manager) AllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessionCopy := *session
		sessions = append(sessions, &sessionCopy)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ProducerID < sessions[j].ProducerID
	})
	return sessions
}
