package ratelimit

import (
	"sync"
	"time"

	"frameworks/api_signaling/pkg/api/lookout"
)

// Limits holds the per-window ceilings for each message type
type Limits struct {
	// Window is the sliding window length (default: 1 minute)
	Window time.Duration

	Offer        int
	Answer       int
	IceCandidate int
	CrewSignOn   int
	CrewSignOff  int
	Default      int
}

// DefaultLimits returns the stock ceilings: chatty signaling types get room,
// crew events stay tight.
func DefaultLimits() Limits {
	return Limits{
		Window:       time.Minute,
		Offer:        30,
		Answer:       30,
		IceCandidate: 60,
		CrewSignOn:   10,
		CrewSignOff:  10,
		Default:      60,
	}
}

// ForType returns the ceiling for a message type
func (l Limits) ForType(messageType string) int {
	switch messageType {
	case lookout.TypeOffer:
		return l.Offer
	case lookout.TypeAnswer:
		return l.Answer
	case lookout.TypeIceCandidate:
		return l.IceCandidate
	case lookout.TypeCrewSignOn:
		return l.CrewSignOn
	case lookout.TypeCrewSignOff:
		return l.CrewSignOff
	default:
		return l.Default
	}
}

// Decision is the outcome of an Allow check. On a deny, Current is the
// number of messages still inside the window and ResetAt is when the oldest
// of them falls out.
type Decision struct {
	Allowed bool
	Limit   int
	Current int
	ResetAt time.Time
}

// Limiter implements a sliding window rate limiter keyed by client ID and
// message type. Denied messages do not consume quota.
type Limiter struct {
	limits Limits

	mu      sync.Mutex
	windows map[string]map[string][]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a rate limiter and starts its cleanup goroutine
func NewLimiter(limits Limits) *Limiter {
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}

	l := &Limiter{
		limits:  limits,
		windows: make(map[string]map[string][]time.Time),
		stopCh:  make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Stop stops the limiter cleanup goroutine
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Allow checks whether a client may send one more message of the given type
// right now, and consumes quota if so.
func (l *Limiter) Allow(clientID, messageType string) Decision {
	limit := l.limits.ForType(messageType)
	now := time.Now()
	cutoff := now.Add(-l.limits.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	perType, exists := l.windows[clientID]
	if !exists {
		perType = make(map[string][]time.Time)
		l.windows[clientID] = perType
	}

	window := perType[messageType]
	retained := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			retained = append(retained, ts)
		}
	}

	if len(retained) >= limit {
		perType[messageType] = retained
		resetAt := now.Add(l.limits.Window)
		if len(retained) > 0 {
			resetAt = retained[0].Add(l.limits.Window)
		}
		return Decision{
			Allowed: false,
			Limit:   limit,
			Current: len(retained),
			ResetAt: resetAt,
		}
	}

	retained = append(retained, now)
	perType[messageType] = retained
	return Decision{
		Allowed: true,
		Limit:   limit,
		Current: len(retained),
		ResetAt: retained[0].Add(l.limits.Window),
	}
}

// ResetAll drops every window of a client. Called when its connection goes
// away.
func (l *Limiter) ResetAll(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, clientID)
}

// cleanupLoop periodically sweeps expired windows
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup removes windows with no timestamps left inside the window, and
// connection entries with no windows left.
func (l *Limiter) cleanup() {
	cutoff := time.Now().Add(-l.limits.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for clientID, perType := range l.windows {
		for messageType, window := range perType {
			retained := window[:0]
			for _, ts := range window {
				if ts.After(cutoff) {
					retained = append(retained, ts)
				}
			}
			if len(retained) == 0 {
				delete(perType, messageType)
			} else {
				perType[messageType] = retained
			}
		}
		if len(perType) == 0 {
			delete(l.windows, clientID)
		}
	}
}
