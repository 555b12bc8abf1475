package session

import (
	"testing"
	"time"
)

func TestClaim_CreatesExclusiveSession(t *testing.T) {
	m := NewManager()

	created, outcome := m.Claim("kiosk-1", "viewer-1", "conn-a")
	if outcome != ClaimCreated {
		t.Fatalf("expected ClaimCreated, got %v", outcome)
	}
	if created.SessionID != "kiosk-1" {
		t.Fatalf("session ID should reuse the producer ID, got %s", created.SessionID)
	}

	// A second consumer must be refused and told who holds the session
	existing, outcome := m.Claim("kiosk-1", "viewer-2", "conn-b")
	if outcome != ClaimConflict {
		t.Fatalf("expected ClaimConflict, got %v", outcome)
	}
	if existing.ConsumerID != "viewer-1" {
		t.Fatalf("conflict should surface the holder, got %s", existing.ConsumerID)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("expected 1 session, got %d", m.ActiveCount())
	}
}

func TestClaim_RepeatFromHolderRefreshes(t *testing.T) {
	m := NewManager()
	first, _ := m.Claim("kiosk-1", "viewer-1", "conn-a")

	// Backdate activity so the refresh is observable
	m.mu.Lock()
	m.sessions["kiosk-1"].LastActivityAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	repeat, outcome := m.Claim("kiosk-1", "viewer-1", "conn-a")
	if outcome != ClaimRefreshed {
		t.Fatalf("expected ClaimRefreshed, got %v", outcome)
	}
	if !repeat.StartedAt.Equal(first.StartedAt) {
		t.Fatal("refresh must not restart the session")
	}
	if !repeat.LastActivityAt.After(first.StartedAt) {
		t.Fatal("refresh did not bump activity")
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("expected a single session, got %d", m.ActiveCount())
	}
}

func TestRelease_OwnershipEnforced(t *testing.T) {
	m := NewManager()
	m.Claim("kiosk-1", "viewer-1", "conn-a")

	if _, outcome := m.Release("kiosk-1", "conn-b"); outcome != ReleaseNotOwner {
		t.Fatalf("expected ReleaseNotOwner, got %v", outcome)
	}

	ended, outcome := m.Release("kiosk-1", "conn-a")
	if outcome != ReleaseOK {
		t.Fatalf("expected ReleaseOK, got %v", outcome)
	}
	if ended.ConsumerID != "viewer-1" {
		t.Fatalf("released session should carry the holder, got %s", ended.ConsumerID)
	}

	// Releasing again reports no session
	if _, outcome := m.Release("kiosk-1", "conn-a"); outcome != ReleaseNotFound {
		t.Fatalf("expected ReleaseNotFound, got %v", outcome)
	}
}

func TestEndByConsumerConnection_EndsAllHeldSessions(t *testing.T) {
	m := NewManager()
	m.Claim("kiosk-2", "viewer-1", "conn-a")
	m.Claim("kiosk-1", "viewer-1", "conn-a")
	m.Claim("kiosk-3", "viewer-2", "conn-b")

	ended := m.EndByConsumerConnection("conn-a")
	if len(ended) != 2 {
		t.Fatalf("expected 2 ended sessions, got %d", len(ended))
	}
	if ended[0].ProducerID != "kiosk-1" || ended[1].ProducerID != "kiosk-2" {
		t.Fatalf("ended sessions not ordered: %s, %s", ended[0].ProducerID, ended[1].ProducerID)
	}
	if m.Get("kiosk-3") == nil {
		t.Fatal("unrelated session was ended")
	}
}

func TestScanTimedOut_RemovesIdleSessions(t *testing.T) {
	m := NewManager()
	m.Claim("kiosk-1", "viewer-1", "conn-a")
	m.Claim("kiosk-2", "viewer-2", "conn-b")

	m.mu.Lock()
	m.sessions["kiosk-1"].LastActivityAt = time.Now().Add(-6 * time.Minute)
	m.mu.Unlock()

	ended := m.ScanTimedOut(5 * time.Minute)
	if len(ended) != 1 {
		t.Fatalf("expected 1 timed out session, got %d", len(ended))
	}
	if ended[0].ProducerID != "kiosk-1" {
		t.Fatalf("wrong session timed out: %s", ended[0].ProducerID)
	}
	if m.Get("kiosk-1") != nil {
		t.Fatal("timed out session still active")
	}
	if m.Get("kiosk-2") == nil {
		t.Fatal("fresh session was removed")
	}
}

func TestRefreshActivity_KeepsSessionAlive(t *testing.T) {
	m := NewManager()
	m.Claim("kiosk-1", "viewer-1", "conn-a")

	m.mu.Lock()
	m.sessions["kiosk-1"].LastActivityAt = time.Now().Add(-6 * time.Minute)
	m.mu.Unlock()

	if !m.RefreshActivity("kiosk-1") {
		t.Fatal("refresh should succeed for an active session")
	}
	if ended := m.ScanTimedOut(5 * time.Minute); len(ended) != 0 {
		t.Fatalf("refreshed session timed out anyway: %d", len(ended))
	}
	if m.RefreshActivity("unknown") {
		t.Fatal("refresh of unknown session should fail")
	}
}
