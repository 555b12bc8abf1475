package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"frameworks/api_signaling/internal/broker"
	"frameworks/api_signaling/internal/liveness"
	"frameworks/api_signaling/internal/metrics"
	"frameworks/api_signaling/internal/ratelimit"
	"frameworks/api_signaling/internal/registry"
	"frameworks/api_signaling/internal/session"
	ws "frameworks/api_signaling/internal/websocket"
	"frameworks/api_signaling/pkg/api/lookout"
	"frameworks/api_signaling/pkg/auth"
	"frameworks/api_signaling/pkg/logging"
	"frameworks/api_signaling/pkg/monitoring"
	"frameworks/api_signaling/pkg/testutil"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret    = "flow-test-secret"
	testServiceToken = "flow-test-service-token"
)

// The collector registers on the global Prometheus registry, so the whole
// test binary shares one Metrics instance.
var (
	metricsOnce sync.Once
	testMetrics *metrics.Metrics
)

func brokerTestMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		collector := monitoring.NewMetricsCollector("lookout_handlers_test", "test", "none")
		testMetrics = &metrics.Metrics{
			Connections:       collector.NewGauge("ws_connections", "Registered WebSocket connections by role", []string{"role"}),
			OnlineProducers:   collector.NewGauge("online_producers", "Producers currently online", []string{}),
			ActiveSessions:    collector.NewGauge("active_sessions", "Active monitoring sessions", []string{}),
			MessagesReceived:  collector.NewCounter("messages_received_total", "Inbound client messages by type", []string{"type"}),
			SignalsForwarded:  collector.NewCounter("signals_forwarded_total", "Signaling messages relayed by type", []string{"type"}),
			ForwardLatency:    collector.NewHistogram("signal_forward_seconds", "Signal relay latency by type", []string{"type"}, nil),
			ErrorsSent:        collector.NewCounter("errors_sent_total", "Protocol errors sent by code", []string{"code"}),
			RateLimitDenials:  collector.NewCounter("rate_limit_denials_total", "Messages denied by rate limiting", []string{"type"}),
			SessionsStarted:   collector.NewCounter("sessions_started_total", "Monitoring sessions opened by outcome", []string{"outcome"}),
			SessionsEnded:     collector.NewCounter("sessions_ended_total", "Monitoring sessions ended by reason", []string{"reason"}),
			HeartbeatTimeouts: collector.NewCounter("heartbeat_timeouts_total", "Producers expired by the heartbeat scan", []string{}),
			CrewEvents:        collector.NewCounter("crew_events_total", "Crew events broadcast by type", []string{"type"}),
		}
	})
	return testMetrics
}

type testStack struct {
	server     *httptest.Server
	wsURL      string
	hub        *ws.Hub
	presence   *registry.Manager
	sessions   *session.Manager
	limiter    *ratelimit.Limiter
	heartbeats *liveness.Monitor
	broker     *broker.Broker
	jwt        *testutil.JWTTestHelper
}

func newTestStack(t *testing.T, cfg broker.Config) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewLoggerWithService("lookout-test")
	hub := ws.NewHub(logger)
	go hub.Run()

	presence := registry.NewManager()
	sessions := session.NewManager()
	limiter := ratelimit.NewLimiter(ratelimit.DefaultLimits())
	heartbeats := liveness.NewMonitor()

	b := broker.New(hub, presence, sessions, limiter, heartbeats, brokerTestMetrics(), logger, cfg)
	hub.SetDispatcher(b)

	h := NewLookoutHandlers(hub, b, presence, sessions, []byte(testJWTSecret), logger)

	router := gin.New()
	router.GET("/ws", h.HandleWebSocket)
	admin := router.Group("/admin")
	admin.Use(auth.ServiceAuthMiddleware(testServiceToken))
	admin.GET("/stats", h.HandleStats)
	router.NoRoute(h.HandleNotFound)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		b.Stop()
		limiter.Stop()
		server.Close()
	})

	return &testStack{
		server:     server,
		wsURL:      "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		hub:        hub,
		presence:   presence,
		sessions:   sessions,
		limiter:    limiter,
		heartbeats: heartbeats,
		broker:     b,
		jwt:        testutil.NewJWTTestHelperWithSecret([]byte(testJWTSecret)),
	}
}

func (s *testStack) connect(t *testing.T, clientID, role string) *testutil.WebSocketTestClient {
	t.Helper()
	token, err := s.jwt.GenerateValidJWT(clientID, role)
	require.NoError(t, err)

	client, err := testutil.NewWebSocketTestClient(s.wsURL, token)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func (s *testStack) registerProducer(t *testing.T, clientID string) *testutil.WebSocketTestClient {
	t.Helper()
	client := s.connect(t, clientID, auth.RoleProducer)
	require.NoError(t, client.Send(lookout.TypeRegisterProducer, nil))
	_, err := client.WaitFor(lookout.TypeProducerRegistered, 2*time.Second)
	require.NoError(t, err)
	return client
}

func (s *testStack) registerConsumer(t *testing.T, clientID string) *testutil.WebSocketTestClient {
	t.Helper()
	client := s.connect(t, clientID, auth.RoleConsumer)
	require.NoError(t, client.Send(lookout.TypeRegisterConsumer, nil))
	_, err := client.WaitFor(lookout.TypeConsumerRegistered, 2*time.Second)
	require.NoError(t, err)
	return client
}

func decodeError(t *testing.T, msg testutil.ReceivedMessage) lookout.ErrorData {
	t.Helper()
	var errorData lookout.ErrorData
	require.NoError(t, msg.DecodeData(&errorData))
	return errorData
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	stack := newTestStack(t, broker.DefaultConfig())

	resp, err := http.Get(stack.server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body lookout.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, lookout.ErrAuthInvalidToken, body.Code)
	assert.Equal(t, "lookout", body.Service)
}

func TestHandshakeRejectsBadTokens(t *testing.T) {
	stack := newTestStack(t, broker.DefaultConfig())

	expired, err := stack.jwt.GenerateExpiredJWT("kiosk-1", auth.RoleProducer)
	require.NoError(t, err)
	wrongSecret, err := stack.jwt.GenerateJWTWithWrongSecret("kiosk-1", auth.RoleProducer)
	require.NoError(t, err)
	noneAlg, err := stack.jwt.GenerateJWTWithNoneAlgorithm("kiosk-1", auth.RoleProducer)
	require.NoError(t, err)
	badRole, err := stack.jwt.GenerateValidJWT("kiosk-1", "admin")
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"malformed", stack.jwt.GenerateMalformedJWT(), lookout.ErrAuthInvalidToken},
		{"expired", expired, lookout.ErrAuthInvalidToken},
		{"wrong secret", wrongSecret, lookout.ErrAuthInvalidToken},
		{"none algorithm", noneAlg, lookout.ErrAuthInvalidToken},
		{"unknown role", badRole, lookout.ErrAuthInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(stack.server.URL + "/ws?token=" + tt.token)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var body lookout.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestHandshakeDialRejected(t *testing.T) {
	stack := newTestStack(t, broker.DefaultConfig())

	headers := http.Header{}
	headers.Set("Authorization", "Bearer invalid.jwt.token")

	conn, resp, err := websocket.DefaultDialer.Dial(stack.wsURL, headers)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	if conn != nil {
		conn.Close()
	}
}

func TestHandshakeAcceptsQueryToken(t *testing.T) {
	stack := newTestStack(t, broker.DefaultConfig())

	token, err := stack.jwt.GenerateValidJWT("viewer-1", auth.RoleConsumer)
	require.NoError(t, err)

	client, err := testutil.NewWebSocketTestClientQueryToken(stack.wsURL, token)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(lookout.TypeRegisterConsumer, nil))
	msg, err := client.WaitFor(lookout.TypeConsumerRegistered, 2*time.Second)
	require.NoError(t, err)

	var registered lookout.ConsumerRegistered
	require.NoError(t, msg.DecodeData(&registered))
	assert.Equal(t, "viewer-1", registered.ConsumerID)
}

func TestAdminStatsRequiresServiceToken(t *testing.T) {
	stack := newTestStack(t, broker.DefaultConfig())

	resp, err := http.Get(stack.server.URL + "/admin/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminStatsSnapshot(t *testing.T) {
	stack := newTestStack(t, broker.DefaultConfig())

	producer := stack.registerProducer(t, "kiosk-stats")
	defer producer.Close()
	consumer := stack.registerConsumer(t, "viewer-stats")
	defer consumer.Close()

	require.NoError(t, consumer.Send(lookout.TypeStartMonitoring, map[string]string{"producerId": "kiosk-stats"}))
	_, err := consumer.WaitFor(lookout.TypeMonitoringStarted, 2*time.Second)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, stack.server.URL+"/admin/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testServiceToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats lookout.StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))

	assert.Equal(t, "lookout", stats.Service)
	assert.Equal(t, 1, stats.Broker.OnlineProducers)
	assert.Equal(t, 1, stats.Broker.OnlineConsumers)
	assert.Equal(t, 1, stats.Broker.ActiveSessions)

	require.Len(t, stats.Producers, 1)
	assert.Equal(t, "kiosk-stats", stats.Producers[0].ClientID)
	assert.Equal(t, registry.StatusOnline, stats.Producers[0].Status)

	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, "kiosk-stats", stats.Sessions[0].ProducerID)
	assert.Equal(t, "viewer-stats", stats.Sessions[0].ConsumerID)
}

func TestNotFoundRoute(t *testing.T) {
	stack := newTestStack(t, broker.DefaultConfig())

	resp, err := http.Get(stack.server.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body lookout.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Error)
	assert.Equal(t, "lookout", body.Service)
}
