package lookout

import (
	"encoding/json"
	"time"

	"frameworks/api_signaling/pkg/api/common"
)

// Envelope is the wire frame for every inbound client message
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is the wire frame for every outbound broker message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Inbound message type constants (client → broker)
const (
	TypeRegisterProducer = "register-producer"
	TypeRegisterConsumer = "register-consumer"
	TypeStartMonitoring  = "start-monitoring"
	TypeStopMonitoring   = "stop-monitoring"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeIceCandidate     = "ice-candidate"
	TypeHeartbeatPing    = "heartbeat-ping"
	TypeCrewSignOn       = "crew-sign-on"
	TypeCrewSignOff      = "crew-sign-off"
)

// Outbound message type constants (broker → client). The three signaling
// kinds are reused verbatim on the outbound leg.
const (
	TypeProducerRegistered = "producer-registered"
	TypeConsumerRegistered = "consumer-registered"
	TypeProducerOnline     = "producer-online"
	TypeProducerOffline    = "producer-offline"
	TypeMonitoringStarted  = "monitoring-started"
	TypeMonitoringStopped  = "monitoring-stopped"
	TypeSessionEnded       = "session-ended"
	TypeSessionTimeout     = "session-timeout"
	TypeCrewSignOnAck      = "crew-sign-on-ack"
	TypeCrewSignOffAck     = "crew-sign-off-ack"
	TypeHeartbeatPong      = "heartbeat-pong"
	TypeError              = "error"
)

// Reasons carried by producer-offline and session-ended broadcasts
const (
	ReasonDisconnect         = "disconnect"
	ReasonHeartbeatTimeout   = "heartbeat-timeout"
	ReasonProducerDisconnect = "producer-disconnect"
	ReasonConsumerDisconnect = "consumer-disconnect"
	ReasonProducerTimeout    = "producer-timeout"
	ReasonSessionTimeout     = "session-timeout"
)

// Error codes reported to clients
const (
	ErrAuthInvalidToken = "AUTH_INVALID_TOKEN"
	ErrAuthInvalidRole  = "AUTH_INVALID_ROLE"

	ErrInvalidRequest      = "INVALID_REQUEST"
	ErrOperationNotAllowed = "OPERATION_NOT_ALLOWED"
	ErrClientNotRegistered = "CLIENT_NOT_REGISTERED"

	ErrSessionProducerOffline = "SESSION_PRODUCER_OFFLINE"
	ErrSessionAlreadyExists   = "SESSION_ALREADY_EXISTS"
	ErrSessionNotFound        = "SESSION_NOT_FOUND"
	ErrSessionNotAuthorized   = "SESSION_NOT_AUTHORIZED"

	ErrSignalingMissingData        = "SIGNALING_MISSING_DATA"
	ErrSignalingInvalidTarget      = "SIGNALING_INVALID_TARGET"
	ErrSignalingInvalidPairing     = "SIGNALING_INVALID_PAIRING"
	ErrSignalingNoSession          = "SIGNALING_NO_SESSION"
	ErrSignalingUnauthorizedSender = "SIGNALING_UNAUTHORIZED_SENDER"

	ErrCrewEventUnauthorized   = "CREW_EVENT_UNAUTHORIZED"
	ErrCrewEventInvalidPayload = "CREW_EVENT_INVALID_PAYLOAD"

	ErrRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrInternal          = "INTERNAL_ERROR"
)

// ErrorData is the payload of an error message, delivered to the offending
// sender only
type ErrorData struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ProducerRegistered confirms a producer registration to the caller
type ProducerRegistered struct {
	ProducerID string    `json:"producerId"`
	Timestamp  time.Time `json:"timestamp"`
}

// OnlineProducer is one entry of the producer snapshot handed to consumers
type OnlineProducer struct {
	ProducerID  string    `json:"producerId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ConsumerRegistered confirms a consumer registration and carries the
// snapshot of currently online producers
type ConsumerRegistered struct {
	ConsumerID      string           `json:"consumerId"`
	OnlineProducers []OnlineProducer `json:"onlineProducers"`
	Timestamp       time.Time        `json:"timestamp"`
}

// ProducerOnline announces a producer to the consumers group
type ProducerOnline struct {
	ProducerID string    `json:"producerId"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProducerOffline announces a producer's departure to the consumers group
type ProducerOffline struct {
	ProducerID string    `json:"producerId"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// MonitoringStarted confirms an exclusive session to the owning consumer
type MonitoringStarted struct {
	ProducerID string    `json:"producerId"`
	SessionID  string    `json:"sessionId"`
	StartedAt  time.Time `json:"startedAt"`
	Timestamp  time.Time `json:"timestamp"`
}

// MonitoringStopped confirms a session close to the owning consumer
type MonitoringStopped struct {
	ProducerID string    `json:"producerId"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionEnded announces an ended session to the consumers group
type SessionEnded struct {
	ProducerID string    `json:"producerId"`
	ConsumerID string    `json:"consumerId"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionTimeout notifies the owning consumer its session idled out
type SessionTimeout struct {
	ProducerID string    `json:"producerId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Signal is a forwarded signaling payload. Exactly one of Offer, Answer or
// Candidate is set, matching the message type; the broker never interprets
// the blob.
type Signal struct {
	FromID    string          `json:"fromId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// CrewEvent is a crew sign-on/sign-off broadcast to the consumers group.
// ProducerID always carries the authenticated sender identity.
type CrewEvent struct {
	EmployeeID string    `json:"employeeId"`
	Name       string    `json:"name"`
	Timestamp  time.Time `json:"timestamp"`
	ProducerID string    `json:"producerId"`
	EventType  string    `json:"eventType"`
}

// CrewAck confirms an accepted crew event to the emitting producer
type CrewAck struct {
	EmployeeID string    `json:"employeeId"`
	Timestamp  time.Time `json:"timestamp"`
}

// HeartbeatPong answers a producer heartbeat
type HeartbeatPong struct {
	Timestamp time.Time `json:"timestamp"`
}

// BrokerStats summarizes the live broker state
type BrokerStats struct {
	Connections     map[string]int `json:"connections"`
	OnlineProducers int            `json:"online_producers"`
	OnlineConsumers int            `json:"online_consumers"`
	ActiveSessions  int            `json:"active_sessions"`
}

// PresenceInfo is an operator-facing presence snapshot entry
type PresenceInfo struct {
	ClientID     string    `json:"client_id"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// SessionInfo is an operator-facing session snapshot entry
type SessionInfo struct {
	ProducerID     string    `json:"producer_id"`
	ConsumerID     string    `json:"consumer_id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// StatsResponse is the admin stats payload
type StatsResponse struct {
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Broker    BrokerStats    `json:"broker"`
	Producers []PresenceInfo `json:"producers"`
	Consumers []PresenceInfo `json:"consumers"`
	Sessions  []SessionInfo  `json:"sessions"`
}

// ErrorResponse represents an HTTP-level error response (handshake
// rejection, unknown route)
type ErrorResponse struct {
	common.ErrorResponse
	Message string `json:"message"` // Human-readable description
}
