package broker

import (
	"time"

	ws "frameworks/api_signaling/internal/websocket"
	"frameworks/api_signaling/pkg/api/lookout"
	"frameworks/api_signaling/pkg/auth"
	"frameworks/api_signaling/pkg/logging"
)

// HandleDisconnect tears down the state a closing connection owned. The
// cascade only runs when this connection still backs the presence record,
// so a disconnect racing a re-registration cannot evict the newer one.
func (b *Broker) HandleDisconnect(c *ws.Client) {
	if !c.Registered {
		return
	}

	if c.Role == auth.RoleProducer {
		b.disconnectProducer(c)
	} else {
		b.disconnectConsumer(c)
	}

	b.limiter.ResetAll(c.ClientID)
	b.updateGauges()
}

func (b *Broker) disconnectProducer(c *ws.Client) {
	if b.presence.GetProducerByConnection(c.ConnectionID) == nil {
		return
	}

	b.heartbeats.Remove(c.ClientID)
	b.presence.MarkProducerOffline(c.ClientID)
	ended := b.sessions.EndByProducer(c.ClientID)

	now := time.Now().UTC()
	b.hub.BroadcastToRole(auth.RoleConsumer, lookout.TypeProducerOffline, lookout.ProducerOffline{
		ProducerID: c.ClientID,
		Reason:     lookout.ReasonDisconnect,
		Timestamp:  now,
	})
	if ended != nil {
		b.metrics.SessionsEnded.WithLabelValues(lookout.ReasonProducerDisconnect).Inc()
		b.hub.BroadcastToRole(auth.RoleConsumer, lookout.TypeSessionEnded, lookout.SessionEnded{
			ProducerID: ended.ProducerID,
			ConsumerID: ended.ConsumerID,
			Reason:     lookout.ReasonProducerDisconnect,
			Timestamp:  now,
		})
	}

	b.presence.RemoveProducer(c.ClientID, c.ConnectionID)
	b.logger.WithFields(logging.Fields{
		"producer_id":   c.ClientID,
		"connection_id": c.ConnectionID,
	}).Info("Producer disconnected")
}

func (b *Broker) disconnectConsumer(c *ws.Client) {
	ended := b.sessions.EndByConsumerConnection(c.ConnectionID)

	now := time.Now().UTC()
	for _, s := range ended {
		b.metrics.SessionsEnded.WithLabelValues(lookout.ReasonConsumerDisconnect).Inc()
		b.hub.BroadcastToRole(auth.RoleConsumer, lookout.TypeSessionEnded, lookout.SessionEnded{
			ProducerID: s.ProducerID,
			ConsumerID: s.ConsumerID,
			Reason:     lookout.ReasonConsumerDisconnect,
			Timestamp:  now,
		})
	}

	b.presence.RemoveConsumer(c.ClientID, c.ConnectionID)
	b.logger.WithFields(logging.Fields{
		"consumer_id":    c.ClientID,
		"connection_id":  c.ConnectionID,
		"sessions_ended": len(ended),
	}).Info("Consumer disconnected")
}

// StartScans launches the periodic heartbeat and session sweeps
func (b *Broker) StartScans() {
	go b.scanLoop()
}

// Stop halts the periodic sweeps
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

func (b *Broker) scanLoop() {
	ticker := time.NewTicker(b.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.scanHeartbeats()
			b.scanSessions()
		case <-b.stopCh:
			return
		}
	}
}

// scanHeartbeats flips producers whose last heartbeat is older than the
// timeout to offline and ends their sessions. MarkProducerOffline gates the
// cascade so a producer already offline, or re-registered since the scan
// snapshot, is not processed twice.
func (b *Broker) scanHeartbeats() {
	for _, producerID := range b.heartbeats.ScanExpired(b.config.HeartbeatTimeout) {
		if !b.presence.MarkProducerOffline(producerID) {
			continue
		}

		ended := b.sessions.EndByProducer(producerID)

		now := time.Now().UTC()
		b.hub.BroadcastToRole(auth.RoleConsumer, lookout.TypeProducerOffline, lookout.ProducerOffline{
			ProducerID: producerID,
			Reason:     lookout.ReasonHeartbeatTimeout,
			Timestamp:  now,
		})
		if ended != nil {
			b.metrics.SessionsEnded.WithLabelValues(lookout.ReasonProducerTimeout).Inc()
			b.hub.BroadcastToRole(auth.RoleConsumer, lookout.TypeSessionEnded, lookout.SessionEnded{
				ProducerID: ended.ProducerID,
				ConsumerID: ended.ConsumerID,
				Reason:     lookout.ReasonProducerTimeout,
				Timestamp:  now,
			})
		}

		b.metrics.HeartbeatTimeouts.WithLabelValues().Inc()
		b.logger.WithFields(logging.Fields{
			"producer_id": producerID,
			"timeout":     b.config.HeartbeatTimeout.String(),
		}).Warn("Producer heartbeat timed out")
	}

	b.updateGauges()
}

// scanSessions ends sessions idle past the timeout. The owning consumer
// also gets a directed session-timeout if its connection is still around.
func (b *Broker) scanSessions() {
	now := time.Now().UTC()
	for _, s := range b.sessions.ScanTimedOut(b.config.SessionTimeout) {
		b.metrics.SessionsEnded.WithLabelValues(lookout.ReasonSessionTimeout).Inc()
		b.hub.BroadcastToRole(auth.RoleConsumer, lookout.TypeSessionEnded, lookout.SessionEnded{
			ProducerID: s.ProducerID,
			ConsumerID: s.ConsumerID,
			Reason:     lookout.ReasonSessionTimeout,
			Timestamp:  now,
		})
		b.hub.SendToConnection(s.ConsumerConnectionID, lookout.TypeSessionTimeout, lookout.SessionTimeout{
			ProducerID: s.ProducerID,
			Timestamp:  now,
		})

		b.logger.WithFields(logging.Fields{
			"producer_id": s.ProducerID,
			"consumer_id": s.ConsumerID,
			"idle":        now.Sub(s.LastActivityAt).String(),
		}).Info("Monitoring session timed out")
	}

	b.updateGauges()
}
