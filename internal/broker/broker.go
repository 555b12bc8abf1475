package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"frameworks/api_signaling/internal/liveness"
	"frameworks/api_signaling/internal/metrics"
	"frameworks/api_signaling/internal/ratelimit"
	"frameworks/api_signaling/internal/registry"
	"frameworks/api_signaling/internal/session"
	ws "frameworks/api_signaling/internal/websocket"
	"frameworks/api_signaling/pkg/api/lookout"
	"frameworks/api_signaling/pkg/auth"
	"frameworks/api_signaling/pkg/logging"
	"frameworks/api_signaling/pkg/validation"
)

// Config holds the broker timeouts. The heartbeat timeout is three missed
// 30-second intervals; the scan interval drives both periodic sweeps.
type Config struct {
	SessionTimeout   time.Duration
	HeartbeatTimeout time.Duration
	ScanInterval     time.Duration
}

// DefaultConfig returns the stock broker timeouts
func DefaultConfig() Config {
	return Config{
		SessionTimeout:   5 * time.Minute,
		HeartbeatTimeout: 90 * time.Second,
		ScanInterval:     30 * time.Second,
	}
}

// Broker is the connection controller: it dispatches inbound frames from
// the hub, owns the presence, session, liveness and rate limit state, and
// runs the periodic sweeps. Per-connection handling is sequential; state
// managers carry their own locks.
type Broker struct {
	hub        *ws.Hub
	presence   *registry.Manager
	sessions   *session.Manager
	limiter    *ratelimit.Limiter
	heartbeats *liveness.Monitor
	validator  *validation.MessageValidator
	metrics    *metrics.Metrics
	logger     logging.Logger
	config     Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a broker over the given hub and state managers. Metrics must
// be non-nil; wire the dispatcher with hub.SetDispatcher before serving.
func New(hub *ws.Hub, presence *registry.Manager, sessions *session.Manager, limiter *ratelimit.Limiter, heartbeats *liveness.Monitor, m *metrics.Metrics, logger logging.Logger, config Config) *Broker {
	return &Broker{
		hub:        hub,
		presence:   presence,
		sessions:   sessions,
		limiter:    limiter,
		heartbeats: heartbeats,
		validator:  validation.NewMessageValidator(),
		metrics:    m,
		logger:     logger,
		config:     config,
		stopCh:     make(chan struct{}),
	}
}

// HandleMessage dispatches one inbound frame from a connection
func (b *Broker) HandleMessage(c *ws.Client, message []byte) {
	var envelope lookout.Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		b.metrics.MessagesReceived.WithLabelValues("invalid").Inc()
		b.sendError(c, lookout.ErrInvalidRequest, "malformed message", nil)
		return
	}
	if envelope.Type == "" {
		b.metrics.MessagesReceived.WithLabelValues("invalid").Inc()
		b.sendError(c, lookout.ErrInvalidRequest, "message type is required", nil)
		return
	}

	b.metrics.MessagesReceived.WithLabelValues(messageTypeLabel(envelope.Type)).Inc()

	switch envelope.Type {
	case lookout.TypeRegisterProducer:
		b.handleRegister(c, auth.RoleProducer)
	case lookout.TypeRegisterConsumer:
		b.handleRegister(c, auth.RoleConsumer)
	default:
		if !c.Registered {
			b.sendError(c, lookout.ErrClientNotRegistered, "register before sending "+envelope.Type, nil)
			return
		}
		switch envelope.Type {
		case lookout.TypeStartMonitoring:
			b.handleStartMonitoring(c, envelope.Data)
		case lookout.TypeStopMonitoring:
			b.handleStopMonitoring(c, envelope.Data)
		case lookout.TypeOffer, lookout.TypeAnswer, lookout.TypeIceCandidate:
			b.handleSignal(c, envelope.Type, envelope.Data)
		case lookout.TypeHeartbeatPing:
			b.handleHeartbeat(c)
		case lookout.TypeCrewSignOn, lookout.TypeCrewSignOff:
			b.handleCrewEvent(c, envelope.Type, envelope.Data)
		default:
			b.sendError(c, lookout.ErrInvalidRequest, "unknown message type: "+envelope.Type, nil)
		}
	}
}

// handleRegister moves a connection to the registered state. The claimed
// role must match the token role; registration is last-writer-wins per
// identity and re-registering refreshes the presence record.
func (b *Broker) handleRegister(c *ws.Client, claimedRole string) {
	if c.Role != claimedRole {
		b.sendError(c, lookout.ErrAuthInvalidRole, fmt.Sprintf("token role %q cannot register as %s", c.Role, claimedRole), nil)
		return
	}

	c.Registered = true
	b.hub.JoinGroup(c)

	now := time.Now().UTC()
	if claimedRole == auth.RoleProducer {
		b.presence.RegisterProducer(c.ClientID, c.ConnectionID)
		b.heartbeats.RecordPing(c.ClientID)
		b.hub.BroadcastToRole(auth.RoleConsumer, lookout.TypeProducerOnline, lookout.ProducerOnline{
			ProducerID: c.ClientID,
			Timestamp:  now,
		})
		b.hub.Send(c, lookout.TypeProducerRegistered, lookout.ProducerRegistered{
			ProducerID: c.ClientID,
			Timestamp:  now,
		})
		b.logger.WithFields(logging.Fields{
			"producer_id":   c.ClientID,
			"connection_id": c.ConnectionID,
		}).Info("Producer registered")
	} else {
		b.presence.RegisterConsumer(c.ClientID, c.ConnectionID)
		online := b.presence.OnlineProducers()
		snapshot := make([]lookout.OnlineProducer, 0, len(online))
		for _, producer := range online {
			snapshot = append(snapshot, lookout.OnlineProducer{
				ProducerID:  producer.ProducerID,
				ConnectedAt: producer.ConnectedAt,
			})
		}
		b.hub.Send(c, lookout.TypeConsumerRegistered, lookout.ConsumerRegistered{
			ConsumerID:      c.ClientID,
			OnlineProducers: snapshot,
			Timestamp:       now,
		})
		b.logger.WithFields(logging.Fields{
			"consumer_id":      c.ClientID,
			"connection_id":    c.ConnectionID,
			"online_producers": len(snapshot),
		}).Info("Consumer registered")
	}

	b.updateGauges()
}

// handleStartMonitoring opens, or idempotently confirms, the exclusive
// session for a producer.
func (b *Broker) handleStartMonitoring(c *ws.Client, data json.RawMessage) {
	if c.Role != auth.RoleConsumer {
		b.sendError(c, lookout.ErrOperationNotAllowed, "start-monitoring is consumer-only", nil)
		return
	}
	payload, err := b.validator.ValidateStartMonitoring(data)
	if err != nil {
		b.sendError(c, lookout.ErrInvalidRequest, err.Error(), nil)
		return
	}
	if !b.presence.IsProducerOnline(payload.ProducerID) {
		b.sendError(c, lookout.ErrSessionProducerOffline, fmt.Sprintf("producer %s is not online", payload.ProducerID), nil)
		return
	}

	claimed, outcome := b.sessions.Claim(payload.ProducerID, c.ClientID, c.ConnectionID)
	switch outcome {
	case session.ClaimConflict:
		b.sendError(c, lookout.ErrSessionAlreadyExists, fmt.Sprintf("producer %s is already being monitored", payload.ProducerID), map[string]interface{}{
			"existingConsumerId": claimed.ConsumerID,
		})
		return
	case session.ClaimCreated:
		b.metrics.SessionsStarted.WithLabelValues("created").Inc()
		b.logger.WithFields(logging.Fields{
			"producer_id": claimed.ProducerID,
			"consumer_id": claimed.ConsumerID,
		}).Info("Monitoring session started")
	case session.ClaimRefreshed:
		b.metrics.SessionsStarted.WithLabelValues("refreshed").Inc()
	}

	b.hub.Send(c, lookout.TypeMonitoringStarted, lookout.MonitoringStarted{
		ProducerID: claimed.ProducerID,
		SessionID:  claimed.SessionID,
		StartedAt:  claimed.StartedAt,
		Timestamp:  time.Now().UTC(),
	})
	b.updateGauges()
}

// handleStopMonitoring closes a session held by this connection. The
// producer is not notified: it observes the peer connection closing.
func (b *Broker) handleStopMonitoring(c *ws.Client, data json.RawMessage) {
	if c.Role != auth.RoleConsumer {
		b.sendError(c, lookout.ErrOperationNotAllowed, "stop-monitoring is consumer-only", nil)
		return
	}
	payload, err := b.validator.ValidateStopMonitoring(data)
	if err != nil {
		b.sendError(c, lookout.ErrInvalidRequest, err.Error(), nil)
		return
	}

	released, outcome := b.sessions.Release(payload.ProducerID, c.ConnectionID)
	switch outcome {
	case session.ReleaseNotFound:
		b.sendError(c, lookout.ErrSessionNotFound, fmt.Sprintf("no active session for producer %s", payload.ProducerID), nil)
		return
	case session.ReleaseNotOwner:
		b.sendError(c, lookout.ErrSessionNotAuthorized, fmt.Sprintf("session for producer %s belongs to another consumer", payload.ProducerID), nil)
		return
	}

	b.metrics.SessionsEnded.WithLabelValues("stopped").Inc()
	b.logger.WithFields(logging.Fields{
		"producer_id": released.ProducerID,
		"consumer_id": released.ConsumerID,
	}).Info("Monitoring session stopped")

	b.hub.Send(c, lookout.TypeMonitoringStopped, lookout.MonitoringStopped{
		ProducerID: payload.ProducerID,
		Timestamp:  time.Now().UTC(),
	})
	b.updateGauges()
}

// handleHeartbeat records a producer heartbeat. Missing heartbeats are the
// scan's business, not this handler's.
func (b *Broker) handleHeartbeat(c *ws.Client) {
	if c.Role != auth.RoleProducer {
		b.sendError(c, lookout.ErrOperationNotAllowed, "heartbeat-ping is producer-only", nil)
		return
	}

	b.heartbeats.RecordPing(c.ClientID)
	if _, revived := b.presence.RefreshProducer(c.ClientID); revived {
		// A ping from a producer the scan had written off.
		b.logger.WithField("producer_id", c.ClientID).Info("Producer revived by heartbeat")
		b.hub.BroadcastToRole(auth.RoleConsumer, lookout.TypeProducerOnline, lookout.ProducerOnline{
			ProducerID: c.ClientID,
			Timestamp:  time.Now().UTC(),
		})
		b.updateGauges()
	}
	b.hub.Send(c, lookout.TypeHeartbeatPong, lookout.HeartbeatPong{
		Timestamp: time.Now().UTC(),
	})
}

// handleCrewEvent broadcasts a crew sign-on or sign-off to consumers. The
// producerId in the broadcast is always the sender's authenticated identity,
// whatever the payload claimed.
func (b *Broker) handleCrewEvent(c *ws.Client, messageType string, data json.RawMessage) {
	if c.Role != auth.RoleProducer {
		b.sendError(c, lookout.ErrCrewEventUnauthorized, "crew events are producer-only", nil)
		return
	}
	payload, err := b.validator.ValidateCrewEvent(data)
	if err != nil {
		b.sendError(c, lookout.ErrCrewEventInvalidPayload, err.Error(), nil)
		return
	}
	if !b.allowRate(c, messageType) {
		return
	}

	now := time.Now().UTC()
	b.hub.BroadcastToRole(auth.RoleConsumer, messageType, lookout.CrewEvent{
		EmployeeID: payload.EmployeeID,
		Name:       payload.Name,
		Timestamp:  now,
		ProducerID: c.ClientID,
		EventType:  messageType,
	})

	ackType := lookout.TypeCrewSignOnAck
	if messageType == lookout.TypeCrewSignOff {
		ackType = lookout.TypeCrewSignOffAck
	}
	b.hub.Send(c, ackType, lookout.CrewAck{
		EmployeeID: payload.EmployeeID,
		Timestamp:  now,
	})

	b.metrics.CrewEvents.WithLabelValues(messageType).Inc()
	b.logger.WithFields(logging.Fields{
		"producer_id": c.ClientID,
		"employee_id": payload.EmployeeID,
		"event_type":  messageType,
	}).Info("Crew event broadcast")
}

// allowRate consumes rate limit quota for a message, reporting the denial
// to the sender when the ceiling is hit.
func (b *Broker) allowRate(c *ws.Client, messageType string) bool {
	decision := b.limiter.Allow(c.ClientID, messageType)
	if decision.Allowed {
		return true
	}

	b.metrics.RateLimitDenials.WithLabelValues(messageType).Inc()
	b.sendError(c, lookout.ErrRateLimitExceeded, "rate limit exceeded for "+messageType, map[string]interface{}{
		"limit":   decision.Limit,
		"current": decision.Current,
		"resetAt": decision.ResetAt.UTC(),
	})
	return false
}

// sendError reports a typed error to the offending sender only
func (b *Broker) sendError(c *ws.Client, code, message string, details map[string]interface{}) {
	b.metrics.ErrorsSent.WithLabelValues(code).Inc()
	b.logger.WithFields(logging.Fields{
		"connection_id": c.ConnectionID,
		"client_id":     c.ClientID,
		"code":          code,
	}).Warn(message)

	b.hub.Send(c, lookout.TypeError, lookout.ErrorData{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
}

// Stats summarizes the live broker state
func (b *Broker) Stats() lookout.BrokerStats {
	total, registered := b.hub.ConnectionCounts()
	onlineProducers, consumers := b.presence.Counts()

	connections := map[string]int{"total": total}
	for role, count := range registered {
		connections[role] = count
	}

	return lookout.BrokerStats{
		Connections:     connections,
		OnlineProducers: onlineProducers,
		OnlineConsumers: consumers,
		ActiveSessions:  b.sessions.ActiveCount(),
	}
}

// updateGauges refreshes the presence and session gauges from state
func (b *Broker) updateGauges() {
	onlineProducers, _ := b.presence.Counts()
	b.metrics.OnlineProducers.WithLabelValues().Set(float64(onlineProducers))
	b.metrics.ActiveSessions.WithLabelValues().Set(float64(b.sessions.ActiveCount()))

	_, registered := b.hub.ConnectionCounts()
	b.metrics.Connections.WithLabelValues(auth.RoleProducer).Set(float64(registered[auth.RoleProducer]))
	b.metrics.Connections.WithLabelValues(auth.RoleConsumer).Set(float64(registered[auth.RoleConsumer]))
}

// messageTypeLabel caps metric label cardinality: unknown inbound types all
// count under one label.
func messageTypeLabel(messageType string) string {
	switch messageType {
	case lookout.TypeRegisterProducer, lookout.TypeRegisterConsumer,
		lookout.TypeStartMonitoring, lookout.TypeStopMonitoring,
		lookout.TypeOffer, lookout.TypeAnswer, lookout.TypeIceCandidate,
		lookout.TypeHeartbeatPing, lookout.TypeCrewSignOn, lookout.TypeCrewSignOff:
		return messageType
	default:
		return "unknown"
	}
}
