package registry

import (
	"testing"
)

func TestRegisterProducer_LastWriterWins(t *testing.T) {
	m := NewManager()

	first := m.RegisterProducer("kiosk-1", "conn-a")
	if first.Status != StatusOnline {
		t.Fatalf("expected online status, got %s", first.Status)
	}

	second := m.RegisterProducer("kiosk-1", "conn-b")
	if second.ConnectionID != "conn-b" {
		t.Fatalf("expected conn-b to own the record, got %s", second.ConnectionID)
	}

	// The stale connection must not be able to evict the fresh registration
	if m.RemoveProducer("kiosk-1", "conn-a") {
		t.Fatal("stale connection removed the fresh record")
	}
	if !m.IsProducerOnline("kiosk-1") {
		t.Fatal("producer should still be online")
	}
	if !m.RemoveProducer("kiosk-1", "conn-b") {
		t.Fatal("owning connection could not remove the record")
	}
}

func TestMarkProducerOffline_KeepsRecord(t *testing.T) {
	m := NewManager()
	m.RegisterProducer("kiosk-1", "conn-a")

	if !m.MarkProducerOffline("kiosk-1") {
		t.Fatal("expected transition to offline")
	}
	// Second mark is a no-op
	if m.MarkProducerOffline("kiosk-1") {
		t.Fatal("expected no transition on already-offline producer")
	}

	record := m.GetProducer("kiosk-1")
	if record == nil {
		t.Fatal("offline producer record should survive")
	}
	if record.Status != StatusOffline {
		t.Fatalf("expected offline, got %s", record.Status)
	}
	if m.IsProducerOnline("kiosk-1") {
		t.Fatal("offline producer reported online")
	}
}

func TestRefreshProducer_RevivesOffline(t *testing.T) {
	m := NewManager()
	m.RegisterProducer("kiosk-1", "conn-a")

	before := m.GetProducer("kiosk-1").LastSeenAt
	ok, revived := m.RefreshProducer("kiosk-1")
	if !ok {
		t.Fatal("refresh should succeed for a known producer")
	}
	if revived {
		t.Fatal("refresh of an online producer is not a revival")
	}
	if m.GetProducer("kiosk-1").LastSeenAt.Before(before) {
		t.Fatal("refresh did not bump last seen")
	}

	m.MarkProducerOffline("kiosk-1")
	ok, revived = m.RefreshProducer("kiosk-1")
	if !ok || !revived {
		t.Fatalf("expected revival of offline producer, got ok=%v revived=%v", ok, revived)
	}
	if !m.IsProducerOnline("kiosk-1") {
		t.Fatal("revived producer should report online")
	}

	if ok, _ := m.RefreshProducer("unknown"); ok {
		t.Fatal("refresh of unknown producer should fail")
	}
}

func TestRegister_RejectsEmptyArguments(t *testing.T) {
	m := NewManager()

	if m.RegisterProducer("", "conn-a") != nil {
		t.Fatal("empty producer ID accepted")
	}
	if m.RegisterProducer("kiosk-1", "") != nil {
		t.Fatal("empty connection ID accepted")
	}
	if m.RegisterConsumer("", "conn-x") != nil {
		t.Fatal("empty consumer ID accepted")
	}
	producers, consumers := m.Counts()
	if producers != 0 || consumers != 0 {
		t.Fatalf("rejected registrations left records behind: %d/%d", producers, consumers)
	}
}

func TestGetByConnection(t *testing.T) {
	m := NewManager()
	m.RegisterProducer("kiosk-1", "conn-a")
	m.RegisterConsumer("viewer-1", "conn-x")

	if p := m.GetProducerByConnection("conn-a"); p == nil || p.ProducerID != "kiosk-1" {
		t.Fatalf("lookup by connection failed: %+v", p)
	}
	if c := m.GetConsumerByConnection("conn-x"); c == nil || c.ConsumerID != "viewer-1" {
		t.Fatalf("consumer lookup by connection failed: %+v", c)
	}
	if m.GetProducerByConnection("conn-x") != nil {
		t.Fatal("consumer connection resolved to a producer")
	}

	// Re-registration moves the identity to the new connection
	m.RegisterProducer("kiosk-1", "conn-b")
	if m.GetProducerByConnection("conn-a") != nil {
		t.Fatal("stale connection still resolves after re-registration")
	}
	if p := m.GetProducerByConnection("conn-b"); p == nil || p.ProducerID != "kiosk-1" {
		t.Fatal("new connection does not resolve to the producer")
	}

	m.RemoveProducer("kiosk-1", "conn-b")
	if m.GetProducerByConnection("conn-b") != nil {
		t.Fatal("removed producer still resolves by connection")
	}
}

func TestOnlineProducers_SnapshotOrderAndIsolation(t *testing.T) {
	m := NewManager()
	m.RegisterProducer("kiosk-2", "conn-b")
	m.RegisterProducer("kiosk-1", "conn-a")
	m.RegisterProducer("kiosk-3", "conn-c")
	m.MarkProducerOffline("kiosk-2")

	online := m.OnlineProducers()
	if len(online) != 2 {
		t.Fatalf("expected 2 online producers, got %d", len(online))
	}
	if online[0].ProducerID != "kiosk-1" || online[1].ProducerID != "kiosk-3" {
		t.Fatalf("snapshot not ordered by producer ID: %s, %s", online[0].ProducerID, online[1].ProducerID)
	}

	// Mutating the snapshot must not touch the registry
	online[0].Status = "corrupted"
	if m.GetProducer("kiosk-1").Status != StatusOnline {
		t.Fatal("snapshot mutation leaked into the registry")
	}
}

func TestConsumerLifecycle(t *testing.T) {
	m := NewManager()
	m.RegisterConsumer("viewer-1", "conn-x")

	if m.GetConsumer("viewer-1") == nil {
		t.Fatal("consumer not found after registration")
	}
	if m.RemoveConsumer("viewer-1", "conn-other") {
		t.Fatal("foreign connection removed the consumer")
	}
	if !m.RemoveConsumer("viewer-1", "conn-x") {
		t.Fatal("owning connection could not remove the consumer")
	}
	if m.GetConsumer("viewer-1") != nil {
		t.Fatal("consumer still present after removal")
	}
}

func TestCounts(t *testing.T) {
	m := NewManager()
	m.RegisterProducer("kiosk-1", "conn-a")
	m.RegisterProducer("kiosk-2", "conn-b")
	m.MarkProducerOffline("kiosk-2")
	m.RegisterConsumer("viewer-1", "conn-x")

	producers, consumers := m.Counts()
	if producers != 1 {
		t.Fatalf("expected 1 online producer, got %d", producers)
	}
	if consumers != 1 {
		t.Fatalf("expected 1 consumer, got %d", consumers)
	}
}
