package handlers

import (
	"errors"
	"net/http"
	"time"

	"frameworks/api_signaling/internal/broker"
	"frameworks/api_signaling/internal/registry"
	"frameworks/api_signaling/internal/session"
	ws "frameworks/api_signaling/internal/websocket"
	"frameworks/api_signaling/pkg/api/common"
	"frameworks/api_signaling/pkg/api/lookout"
	"frameworks/api_signaling/pkg/auth"
	"frameworks/api_signaling/pkg/logging"
	"frameworks/api_signaling/pkg/version"

	"github.com/gin-gonic/gin"
)

// LookoutHandlers contains the HTTP handlers for the service
type LookoutHandlers struct {
	hub       *ws.Hub
	broker    *broker.Broker
	presence  *registry.Manager
	sessions  *session.Manager
	jwtSecret []byte
	logger    logging.Logger
	startTime time.Time
}

// NewLookoutHandlers creates a new handlers instance
func NewLookoutHandlers(hub *ws.Hub, b *broker.Broker, presence *registry.Manager, sessions *session.Manager, jwtSecret []byte, logger logging.Logger) *LookoutHandlers {
	return &LookoutHandlers{
		hub:       hub,
		broker:    b,
		presence:  presence,
		sessions:  sessions,
		jwtSecret: jwtSecret,
		logger:    logger,
		startTime: time.Now(),
	}
}

// HandleWebSocket authenticates a broker client and upgrades the connection.
// Auth happens before the upgrade so rejected clients get a plain 401, not a
// WebSocket close frame.
func (h *LookoutHandlers) HandleWebSocket(c *gin.Context) {
	token := auth.BearerToken(c.Request)
	if token == "" {
		h.rejectHandshake(c, lookout.ErrAuthInvalidToken, "authentication required")
		return
	}

	claims, err := auth.VerifyClientToken(token, h.jwtSecret)
	if err != nil {
		code := lookout.ErrAuthInvalidToken
		if errors.Is(err, auth.ErrInvalidRole) {
			code = lookout.ErrAuthInvalidRole
		}
		h.rejectHandshake(c, code, err.Error())
		return
	}

	conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.WithError(err).WithField("client_id", claims.ClientID).Warn("WebSocket upgrade failed")
		return
	}

	client := h.hub.HandleConnection(conn, claims.ClientID, claims.Role)
	h.logger.WithFields(logging.Fields{
		"connection_id": client.ConnectionID,
		"client_id":     claims.ClientID,
		"role":          claims.Role,
	}).Debug("WebSocket client connected")
}

func (h *LookoutHandlers) rejectHandshake(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, lookout.ErrorResponse{
		ErrorResponse: common.ErrorResponse{
			Error:   "unauthorized",
			Code:    code,
			Service: "lookout",
		},
		Message: message,
	})
}

// HandleStats provides the operator snapshot of presence and sessions
func (h *LookoutHandlers) HandleStats(c *gin.Context) {
	producers := h.presence.AllProducers()
	consumers := h.presence.AllConsumers()
	active := h.sessions.AllSessions()

	stats := lookout.StatsResponse{
		Service:   "lookout",
		Version:   version.Version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Broker:    h.broker.Stats(),
		Producers: make([]lookout.PresenceInfo, 0, len(producers)),
		Consumers: make([]lookout.PresenceInfo, 0, len(consumers)),
		Sessions:  make([]lookout.SessionInfo, 0, len(active)),
	}

	for _, producer := range producers {
		stats.Producers = append(stats.Producers, lookout.PresenceInfo{
			ClientID:     producer.ProducerID,
			Status:       producer.Status,
			RegisteredAt: producer.ConnectedAt,
			LastSeenAt:   producer.LastSeenAt,
		})
	}
	for _, consumer := range consumers {
		stats.Consumers = append(stats.Consumers, lookout.PresenceInfo{
			ClientID:     consumer.ConsumerID,
			Status:       consumer.Status,
			RegisteredAt: consumer.ConnectedAt,
			LastSeenAt:   consumer.LastSeenAt,
		})
	}
	for _, s := range active {
		stats.Sessions = append(stats.Sessions, lookout.SessionInfo{
			ProducerID:     s.ProducerID,
			ConsumerID:     s.ConsumerID,
			StartedAt:      s.StartedAt,
			LastActivityAt: s.LastActivityAt,
		})
	}

	c.JSON(http.StatusOK, stats)
}

// HandleNotFound provides a custom 404 handler
func (h *LookoutHandlers) HandleNotFound(c *gin.Context) {
	errorResponse := lookout.ErrorResponse{
		ErrorResponse: common.ErrorResponse{
			Error:   "not_found",
			Service: "lookout",
		},
		Message: "Endpoint not found",
	}
	c.JSON(http.StatusNotFound, errorResponse)
}
