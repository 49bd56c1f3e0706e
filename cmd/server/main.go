// Package main runs the live shopping backend HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gshop/live-backend/config"
	"github.com/gshop/live-backend/internal/auth"
	"github.com/gshop/live-backend/internal/channels"
	"github.com/gshop/live-backend/internal/chat"
	"github.com/gshop/live-backend/internal/metrics"
	"github.com/gshop/live-backend/internal/middleware"
	"github.com/gshop/live-backend/internal/moderation"
	"github.com/gshop/live-backend/internal/notifications"
	"github.com/gshop/live-backend/internal/realtime"
	"github.com/gshop/live-backend/internal/recsys"
	"github.com/gshop/live-backend/internal/streams"
	"github.com/gshop/live-backend/internal/viewers"
	"github.com/gshop/live-backend/pkg/database"
	"github.com/gshop/live-backend/pkg/ivs"
	"github.com/gshop/live-backend/pkg/queue"
	"github.com/gshop/live-backend/pkg/redis"
	"github.com/gshop/live-backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Broadcast provider: real IVS when configured, in-memory mock for local dev.
	var provider channels.Provider
	if cfg.IVS.Enabled {
		ivsClient, err := ivs.New(ctx, ivs.Config{
			Region:          cfg.IVS.Region,
			AccessKeyID:     cfg.IVS.AccessKeyID,
			SecretAccessKey: cfg.IVS.SecretAccessKey,
		}, logger)
		if err != nil {
			logger.Fatal("ivs", zap.Error(err))
		}
		provider = ivsClient
	} else {
		logger.Info("IVS disabled, using mock broadcast provider")
		provider = ivs.NewMock(-1, logger)
	}

	// Streams
	streamRepo := streams.NewRepository(pool)
	productRepo := streams.NewProductRepository(pool)
	channelManager := channels.NewManager(provider, streamRepo, cfg.Channels.HostStaleAfter, cfg.Channels.GlobalStaleAfter, logger)

	// Chat, viewers, moderation
	sessionRepo := viewers.NewRepository(pool)
	chatRepo := chat.NewRepository(pool)
	limiter := moderation.NewRateLimiter(cfg.Chat.RateLimitMessages, cfg.Chat.RateLimitWindow)
	moderator := moderation.NewService(sessionRepo, chatRepo, limiter, logger)
	chatHandler := chat.NewHandler(chatRepo, moderator, streamRepo, hub, jwtService, cfg.Chat.HistoryLimit)
	viewerHandler := viewers.NewHandler(sessionRepo, streamRepo, hub, jwtService)

	// Realtime gateway
	gateway := realtime.NewGateway(hub, sessionRepo, chatRepo, moderator, streamRepo, productRepo, cfg.Chat.HistoryLimit, logger)

	// Metrics
	metricsRepo := metrics.NewRepository(pool)
	orderRepo := metrics.NewOrderRepository(pool)
	collector := metrics.NewCollector(streamRepo, hub, chatRepo, orderRepo, metricsRepo, hub,
		cfg.Collector.Interval, cfg.Collector.Retention, logger)
	metricsHandler := metrics.NewHandler(metricsRepo)

	// Notifications go through the Redis job queue; the worker binary drains
	// it. Dev setups without a worker log deliveries instead.
	var notifier streams.Notifier
	if cfg.Notifications.QueueEnabled {
		jobQueue := queue.NewQueue(rdb.Client, logger)
		notifier = notifications.NewQueueNotifier(jobQueue, logger)
	} else {
		logger.Info("notification queue disabled, logging deliveries")
		notifier = notifications.NewLogNotifier(logger)
	}

	streamService := streams.NewService(streamRepo, productRepo, channelManager, notifier,
		hub, collector, sessionRepo, chatRepo, hub, logger)
	streamHandler := streams.NewHandler(streamService)

	// Recommendations
	recsysRepo := recsys.NewRepository(pool)
	engine := recsys.NewEngine(recsysRepo, streamRepo, cfg.Recsys, logger)
	recsysHandler := recsys.NewHandler(engine, jwtService)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.AccountID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public: browse and discovery (no JWT; anonymous viewers are first-class)
	router.GET("/streams/live", streamHandler.ListActive)
	router.GET("/streams/:id", streamHandler.Get)
	router.GET("/streams/:id/products", streamHandler.ListProducts)
	router.GET("/streams/:id/messages", chatHandler.ListMessages)
	router.POST("/streams/:id/messages", chatHandler.PostMessage)
	router.POST("/streams/:id/join", viewerHandler.Join)
	router.POST("/streams/:id/leave", viewerHandler.Leave)
	router.GET("/streams/:id/metrics", metricsHandler.History)
	router.GET("/streams/:id/metrics/summary", metricsHandler.Summary)
	router.GET("/discover/trending", recsysHandler.Trending)
	router.GET("/discover/for-you", recsysHandler.ForYou)

	// Host API (JWT required; sellers and affiliates run streams, admins moderate)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	api.Use(middleware.RequireRole("seller", "affiliate", "admin"))
	{
		api.POST("/streams", streamHandler.Create)
		api.GET("/streams/mine", streamHandler.ListMine)
		api.PATCH("/streams/:id", streamHandler.Update)
		api.POST("/streams/:id/start", streamHandler.Start)
		api.POST("/streams/:id/end", streamHandler.End)
		api.POST("/streams/:id/cancel", streamHandler.Cancel)
		api.DELETE("/streams/:id", streamHandler.Delete)
		api.GET("/streams/:id/stats", streamHandler.Stats)

		api.POST("/streams/:id/products", streamHandler.AddProduct)
		api.DELETE("/streams/:id/products/:productId", streamHandler.RemoveProduct)
		api.POST("/streams/:id/products/:productId/highlight", streamHandler.HighlightProduct)
		api.DELETE("/streams/:id/products/highlight", streamHandler.UnhighlightProduct)
	}

	// WebSocket (token or session_id in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, gateway, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background metrics sampling
	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	defer collectorCancel()
	go collector.Run(collectorCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	collectorCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
