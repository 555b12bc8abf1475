package registry

import (
	"sort"
	"sync"
	"time"
)

// Producer presence status
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Producer is the presence record of a registered producer
type Producer struct {
	ProducerID   string    `json:"producer_id"`
	ConnectionID string    `json:"connection_id"`
	Status       string    `json:"status"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Consumer is the presence record of a registered consumer
type Consumer struct {
	ConsumerID   string    `json:"consumer_id"`
	ConnectionID string    `json:"connection_id"`
	Status       string    `json:"status"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Manager tracks which producers and consumers are currently registered,
// indexed both by identity and by connection handle. All reads return
// copies to avoid concurrent modification.
type Manager struct {
	mu            sync.RWMutex
	producers     map[string]*Producer
	consumers     map[string]*Consumer
	producerConns map[string]string
	consumerConns map[string]string
}

// NewManager creates an empty presence manager
func NewManager() *Manager {
	return &Manager{
		producers:     make(map[string]*Producer),
		consumers:     make(map[string]*Consumer),
		producerConns: make(map[string]string),
		consumerConns: make(map[string]string),
	}
}

// RegisterProducer records a producer as online. Registration is
// last-writer-wins: a second connection claiming the same identity
// overwrites the first record. Returns nil if either argument is empty.
func (m *Manager) RegisterProducer(producerID, connectionID string) *Producer {
	if producerID == "" || connectionID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.producers[producerID]; exists {
		delete(m.producerConns, old.ConnectionID)
	}
	// A connection carries at most one identity.
	if displaced, exists := m.producerConns[connectionID]; exists && displaced != producerID {
		delete(m.producers, displaced)
	}

	now := time.Now()
	record := &Producer{
		ProducerID:   producerID,
		ConnectionID: connectionID,
		Status:       StatusOnline,
		ConnectedAt:  now,
		LastSeenAt:   now,
	}
	m.producers[producerID] = record
	m.producerConns[connectionID] = producerID

	recordCopy := *record
	return &recordCopy
}

// RegisterConsumer records a consumer. Last-writer-wins, like producers.
// Returns nil if either argument is empty.
func (m *Manager) RegisterConsumer(consumerID, connectionID string) *Consumer {
	if consumerID == "" || connectionID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.consumers[consumerID]; exists {
		delete(m.consumerConns, old.ConnectionID)
	}
	if displaced, exists := m.consumerConns[connectionID]; exists && displaced != consumerID {
		delete(m.consumers, displaced)
	}

	now := time.Now()
	record := &Consumer{
		ConsumerID:   consumerID,
		ConnectionID: connectionID,
		Status:       StatusOnline,
		ConnectedAt:  now,
		LastSeenAt:   now,
	}
	m.consumers[consumerID] = record
	m.consumerConns[connectionID] = consumerID

	recordCopy := *record
	return &recordCopy
}

// RefreshProducer bumps the last-seen timestamp of a producer and flips an
// offline record back online. The second return reports a revival, so the
// caller can announce the producer's return.
func (m *Manager) RefreshProducer(producerID string) (ok, revived bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.producers[producerID]
	if !exists {
		return false, false
	}
	record.LastSeenAt = time.Now()
	if record.Status != StatusOnline {
		record.Status = StatusOnline
		return true, true
	}
	return true, false
}

// MarkProducerOffline flips a producer to offline, keeping the record so the
// identity stays known until the connection goes away. Returns true if the
// producer was online.
func (m *Manager) MarkProducerOffline(producerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.producers[producerID]
	if !exists || record.Status != StatusOnline {
		return false
	}
	record.Status = StatusOffline
	return true
}

// RemoveProducer deletes a producer record, but only when it still belongs
// to the given connection. A record overwritten by a newer connection is
// left alone, so a stale disconnect cannot evict the fresh registration.
func (m *Manager) RemoveProducer(producerID, connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.producers[producerID]
	if !exists || record.ConnectionID != connectionID {
		return false
	}
	delete(m.producers, producerID)
	delete(m.producerConns, connectionID)
	return true
}

// RemoveConsumer deletes a consumer record under the same connection
// ownership rule as RemoveProducer.
func (m *Manager) RemoveConsumer(consumerID, connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.consumers[consumerID]
	if !exists || record.ConnectionID != connectionID {
		return false
	}
	delete(m.consumers, consumerID)
	delete(m.consumerConns, connectionID)
	return true
}

// GetProducer returns a copy of a producer record, or nil
func (m *Manager) GetProducer(producerID string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if record, exists := m.producers[producerID]; exists {
		recordCopy := *record
		return &recordCopy
	}
	return nil
}

// GetConsumer returns a copy of a consumer record, or nil
func (m *Manager) GetConsumer(consumerID string) *Consumer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if record, exists := m.consumers[consumerID]; exists {
		recordCopy := *record
		return &recordCopy
	}
	return nil
}

// GetProducerByConnection returns a copy of the producer record registered
// over the given connection, or nil
func (m *Manager) GetProducerByConnection(connectionID string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if producerID, exists := m.producerConns[connectionID]; exists {
		recordCopy := *m.producers[producerID]
		return &recordCopy
	}
	return nil
}

// GetConsumerByConnection returns a copy of the consumer record registered
// over the given connection, or nil
func (m *Manager) GetConsumerByConnection(connectionID string) *Consumer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if consumerID, exists := m.consumerConns[connectionID]; exists {
		recordCopy := *m.consumers[consumerID]
		return &recordCopy
	}
	return nil
}

// IsProducerOnline reports whether a producer is registered and online
func (m *Manager) IsProducerOnline(producerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.producers[producerID]
	return exists && record.Status == StatusOnline
}

// OnlineProducers returns copies of all online producer records, ordered by
// producer ID for stable snapshots.
func (m *Manager) OnlineProducers() []*Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Producer, 0, len(m.producers))
	for _, record := range m.producers {
		if record.Status != StatusOnline {
			continue
		}
		recordCopy := *record
		records = append(records, &recordCopy)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ProducerID < records[j].ProducerID
	})
	return records
}

// AllProducers returns copies of every producer record, online or not,
// ordered by producer ID.
func (m *Manager) AllProducers() []*Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Producer, 0, len(m.producers))
	for _, record := range m.producers {
		recordCopy := *record
		records = append(records, &recordCopy)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ProducerID < records[j].ProducerID
	})
	return records
}

// AllConsumers returns copies of every consumer record, ordered by consumer ID
func (m *Manager) AllConsumers() []*Consumer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Consumer, 0, len(m.consumers))
	for _, record := range m.consumers {
		recordCopy := *record
		records = append(records, &recordCopy)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ConsumerID < records[j].ConsumerID
	})
	return records
}

// Counts returns the number of online producers and registered consumers
func (m *Manager) Counts() (onlineProducers, consumers int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, record := range m.producers {
		if record.Status == StatusOnline {
			onlineProducers++
		}
	}
	return onlineProducers, len(m.consumers)
}
