package broker

import (
	"encoding/json"
	"time"

	ws "frameworks/api_signaling/internal/websocket"
	"frameworks/api_signaling/pkg/api/lookout"
	"frameworks/api_signaling/pkg/auth"
	"frameworks/api_signaling/pkg/logging"
)

// handleSignal relays an offer, answer or ICE candidate to the peer named
// by targetId. Forwarding requires the active session between exactly the
// two identities: a consumer that lost the exclusive claim cannot keep
// signaling the producer, and a producer can only signal the consumer
// holding its session.
func (b *Broker) handleSignal(c *ws.Client, messageType string, data json.RawMessage) {
	started := time.Now()

	payload, err := b.validator.ValidateSignal(messageType, data)
	if err != nil {
		b.sendError(c, lookout.ErrSignalingMissingData, err.Error(), nil)
		return
	}
	if !b.allowRate(c, messageType) {
		return
	}

	_, targetRole := b.lookupTarget(payload.TargetID)
	if targetRole == "" {
		b.sendError(c, lookout.ErrSignalingInvalidTarget, "target "+payload.TargetID+" is not registered", nil)
		return
	}
	if targetRole == c.Role {
		b.sendError(c, lookout.ErrSignalingInvalidPairing, "cannot signal a peer with the same role", nil)
		return
	}

	producerID := payload.TargetID
	if c.Role == auth.RoleProducer {
		producerID = c.ClientID
	}

	active := b.sessions.Get(producerID)
	if active == nil {
		b.sendError(c, lookout.ErrSignalingNoSession, "no active monitoring session with "+producerID, nil)
		return
	}
	if c.Role == auth.RoleConsumer {
		if active.ConsumerConnectionID != c.ConnectionID {
			b.sendError(c, lookout.ErrSignalingUnauthorizedSender, "session with "+producerID+" is held by another connection", nil)
			return
		}
	} else if active.ConsumerID != payload.TargetID {
		b.sendError(c, lookout.ErrSignalingUnauthorizedSender, "target "+payload.TargetID+" does not hold the session with "+producerID, nil)
		return
	}

	b.sessions.RefreshActivity(producerID)

	signal := lookout.Signal{FromID: c.ClientID}
	switch messageType {
	case lookout.TypeOffer:
		signal.Offer = payload.Offer
	case lookout.TypeAnswer:
		signal.Answer = payload.Answer
	case lookout.TypeIceCandidate:
		signal.Candidate = payload.Candidate
	}

	// Resolve the handle again at delivery: the target may have dropped or
	// re-registered since the pairing check.
	targetConnection, _ := b.lookupTarget(payload.TargetID)
	if targetConnection == "" || !b.hub.SendToConnection(targetConnection, messageType, signal) {
		b.sendError(c, lookout.ErrSignalingInvalidTarget, "target "+payload.TargetID+" is gone", nil)
		return
	}

	b.metrics.SignalsForwarded.WithLabelValues(messageType).Inc()
	b.metrics.ForwardLatency.WithLabelValues(messageType).Observe(time.Since(started).Seconds())
	b.logger.WithFields(logging.Fields{
		"from_id": c.ClientID,
		"to_id":   payload.TargetID,
		"type":    messageType,
	}).Debug("Signal forwarded")
}

// lookupTarget resolves a signaling target to its connection handle and
// role, trying producers before consumers.
func (b *Broker) lookupTarget(targetID string) (connectionID, role string) {
	if producer := b.presence.GetProducer(targetID); producer != nil {
		return producer.ConnectionID, auth.RoleProducer
	}
	if consumer := b.presence.GetConsumer(targetID); consumer != nil {
		return consumer.ConnectionID, auth.RoleConsumer
	}
	return "", ""
}
