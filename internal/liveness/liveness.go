package liveness

import (
	"sort"
	"sync"
	"time"
)

// Monitor tracks the last application-level heartbeat of each producer.
// Transport pings keep the socket open; this record decides presence.
type Monitor struct {
	mu    sync.RWMutex
	pings map[string]time.Time
}

// NewMonitor creates an empty heartbeat monitor
func NewMonitor() *Monitor {
	return &Monitor{
		pings: make(map[string]time.Time),
	}
}

// RecordPing upserts the last-ping timestamp for a producer. Registration
// primes the entry so a producer that never pings still times out.
func (m *Monitor) RecordPing(producerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings[producerID] = time.Now()
}

// Remove drops the heartbeat record of a departing producer
func (m *Monitor) Remove(producerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pings, producerID)
}

// LastPing returns the last recorded ping for a producer
func (m *Monitor) LastPing(producerID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, exists := m.pings[producerID]
	return ts, exists
}

// ScanExpired returns the producers whose last ping is older than maxAge,
// ordered by producer ID. Entries are kept: the caller decides what a
// timeout means, and a later ping or re-registration revives the record.
func (m *Monitor) ScanExpired(maxAge time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-maxAge)
	var expired []string
	for producerID, ts := range m.pings {
		if ts.After(cutoff) {
			continue
		}
		expired = append(expired, producerID)
	}
	sort.Strings(expired)
	return expired
}

// Count returns the number of tracked producers
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pings)
}
