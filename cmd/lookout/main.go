package main

import (
	"fmt"
	"time"

	"frameworks/api_signaling/internal/broker"
	"frameworks/api_signaling/internal/handlers"
	"frameworks/api_signaling/internal/liveness"
	"frameworks/api_signaling/internal/metrics"
	"frameworks/api_signaling/internal/ratelimit"
	"frameworks/api_signaling/internal/registry"
	"frameworks/api_signaling/internal/session"
	"frameworks/api_signaling/internal/websocket"
	"frameworks/api_signaling/pkg/auth"
	"frameworks/api_signaling/pkg/config"
	"frameworks/api_signaling/pkg/logging"
	"frameworks/api_signaling/pkg/monitoring"
	"frameworks/api_signaling/pkg/server"
	"frameworks/api_signaling/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("lookout")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Lookout (WebRTC signaling broker)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("lookout", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lookout", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		Connections:       metricsCollector.NewGauge("websocket_connections_active", "Registered WebSocket connections by role", []string{"role"}),
		OnlineProducers:   metricsCollector.NewGauge("producers_online", "Producers currently online", []string{}),
		ActiveSessions:    metricsCollector.NewGauge("sessions_active", "Active monitoring sessions", []string{}),
		MessagesReceived:  metricsCollector.NewCounter("messages_received_total", "Inbound client messages by type", []string{"type"}),
		SignalsForwarded:  metricsCollector.NewCounter("signals_forwarded_total", "Signaling messages relayed by type", []string{"type"}),
		ForwardLatency:    metricsCollector.NewHistogram("signal_forward_seconds", "Signal relay latency by type", []string{"type"}, nil),
		ErrorsSent:        metricsCollector.NewCounter("errors_sent_total", "Protocol errors sent by code", []string{"code"}),
		RateLimitDenials:  metricsCollector.NewCounter("rate_limit_denials_total", "Messages denied by rate limiting", []string{"type"}),
		SessionsStarted:   metricsCollector.NewCounter("sessions_started_total", "Monitoring sessions opened by outcome", []string{"outcome"}),
		SessionsEnded:     metricsCollector.NewCounter("sessions_ended_total", "Monitoring sessions ended by reason", []string{"reason"}),
		HeartbeatTimeouts: metricsCollector.NewCounter("heartbeat_timeouts_total", "Producers expired by the heartbeat scan", []string{}),
		CrewEvents:        metricsCollector.NewCounter("crew_events_total", "Crew events broadcast by type", []string{"type"}),
	}

	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger)
	go hub.Run()

	// Initialize broker state
	presence := registry.NewManager()
	sessions := session.NewManager()
	heartbeats := liveness.NewMonitor()
	limiter := ratelimit.NewLimiter(rateLimitsFromEnv())
	defer limiter.Stop()

	signalBroker := broker.New(hub, presence, sessions, limiter, heartbeats, serviceMetrics, logger, brokerConfigFromEnv())
	hub.SetDispatcher(signalBroker)
	signalBroker.StartScans()
	defer signalBroker.Stop()

	// Initialize handlers
	lookoutHandlers := handlers.NewLookoutHandlers(hub, signalBroker, presence, sessions, jwtSecret, logger)

	// Add health checks
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"JWT_SECRET":    string(jwtSecret),
		"SERVICE_TOKEN": serviceToken,
	}))
	healthChecker.AddCheck("hub", func() monitoring.CheckResult {
		total, _ := hub.ConnectionCounts()
		return monitoring.CheckResult{
			Status:  monitoring.StatusHealthy,
			Message: fmt.Sprintf("%d connections", total),
		}
	})

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "lookout", healthChecker, metricsCollector)

	// WebSocket endpoint for producers and consumers
	router.GET("/ws", lookoutHandlers.HandleWebSocket)

	// Admin routes with service auth
	admin := router.Group("/admin")
	admin.Use(auth.ServiceAuthMiddleware(serviceToken))
	admin.GET("/stats", lookoutHandlers.HandleStats)

	router.NoRoute(lookoutHandlers.HandleNotFound)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("lookout", "18016")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

// brokerConfigFromEnv reads the broker timeouts, all given in milliseconds
func brokerConfigFromEnv() broker.Config {
	defaults := broker.DefaultConfig()
	return broker.Config{
		SessionTimeout:   envDuration("SESSION_TIMEOUT_MS", defaults.SessionTimeout),
		HeartbeatTimeout: envDuration("HEARTBEAT_TIMEOUT_MS", defaults.HeartbeatTimeout),
		ScanInterval:     envDuration("SCAN_INTERVAL_MS", defaults.ScanInterval),
	}
}

// rateLimitsFromEnv reads the per-minute message ceilings
func rateLimitsFromEnv() ratelimit.Limits {
	defaults := ratelimit.DefaultLimits()
	return ratelimit.Limits{
		Window:       defaults.Window,
		Offer:        config.GetEnvInt("RATE_LIMIT_OFFER", defaults.Offer),
		Answer:       config.GetEnvInt("RATE_LIMIT_ANSWER", defaults.Answer),
		IceCandidate: config.GetEnvInt("RATE_LIMIT_ICE_CANDIDATE", defaults.IceCandidate),
		CrewSignOn:   config.GetEnvInt("RATE_LIMIT_CREW_SIGN_ON", defaults.CrewSignOn),
		CrewSignOff:  config.GetEnvInt("RATE_LIMIT_CREW_SIGN_OFF", defaults.CrewSignOff),
		Default:      config.GetEnvInt("RATE_LIMIT_DEFAULT", defaults.Default),
	}
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	ms := config.GetEnvInt(key, int(defaultValue/time.Millisecond))
	if ms <= 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}
