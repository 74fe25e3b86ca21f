package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"carechat-service/internal/cache"
	"carechat-service/internal/db"
	"carechat-service/internal/handlers"
	"carechat-service/internal/identity"
	"carechat-service/internal/middleware"
	"carechat-service/internal/observability"
	"carechat-service/internal/realtime"
	"carechat-service/internal/repositories"
	"carechat-service/internal/session"
	"carechat-service/internal/telemetry"
	"carechat-service/internal/ws"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, "carechat-service")
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing(ctx)

	database, err := db.Connect(logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}

	amqpURL := getEnv("AMQP_URL", "")
	if publisher, err := observability.NewAMQPPublisher(amqpURL, getEnv("AMQP_EVENTS_EXCHANGE", "carechat.events")); err != nil {
		logger.Warn("event publisher disabled", zap.Error(err))
	} else {
		observability.SetPublisher(publisher)
		defer publisher.Close()
	}

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	assignmentRepo := repositories.NewAssignmentRepo(database)

	broker := realtime.NewBroker()
	feed := realtime.NewAMQPFeed(amqpURL, getEnv("AMQP_EXCHANGE", "chat.messages"), broker, logger)
	unread := cache.NewUnreadCounter(getEnv("REDIS_URL", ""), logger)

	registry := session.NewRegistry(session.Config{
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Assignments:   assignmentRepo,
		Feed:          feed,
		Unread:        unread,
		Log:           logger,
	})

	provider := identity.NewStaticProvider(getEnv("CHAT_TOKENS", ""))
	audit := telemetry.NewAuditEmitter("audit.sessions", "carechat-service", getEnv("ENVIRONMENT", "development"), logger)

	sessionHandler := handlers.NewSessionHandler(registry, assignmentRepo, audit)
	sessionWS := ws.NewSessionWebSocketHandler(registry, provider, logger)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("carechat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(provider)

	router.POST("/session", authMiddleware, sessionHandler.Begin)
	router.GET("/session", authMiddleware, sessionHandler.Snapshot)
	router.DELETE("/session", authMiddleware, sessionHandler.End)
	router.POST("/session/select", authMiddleware, sessionHandler.Select)
	router.GET("/session/conversations", authMiddleware, sessionHandler.Conversations)
	router.POST("/session/messages", authMiddleware, sessionHandler.Send)
	router.POST("/session/read", authMiddleware, sessionHandler.MarkRead)
	router.POST("/session/open", authMiddleware, sessionHandler.OpenSurface)
	router.POST("/session/close", authMiddleware, sessionHandler.CloseSurface)
	router.POST("/assignments", authMiddleware, sessionHandler.Reassign)

	router.GET("/ws/session", sessionWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	port := getEnv("PORT", "8083")
	logger.Info("starting server", zap.String("port", port))
	if err := router.Run(":" + port); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
