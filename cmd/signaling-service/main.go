package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pushHandler "voxlink/internal/handler/http/push"
	wsHandler "voxlink/internal/handler/ws"
	"voxlink/internal/middleware"
	"voxlink/internal/registry"
	"voxlink/internal/relay"
	redisRepo "voxlink/internal/repository/redis"
	"voxlink/pkg/constants"
	"voxlink/pkg/env"
	"voxlink/pkg/jwt"
	"voxlink/pkg/logger"
	"voxlink/pkg/metrics"
	"voxlink/pkg/push"
)

const serviceName = "signaling-service"

func main() {
	logger.InitDefault()
	defer logger.Sync()

	// 1. JWT manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewManager(jwtSecret, constants.AccessTokenExpiry)

	// 2. Redis (optional: presence mirror + push token store run degraded
	// without it; the in-memory registries are authoritative either way)
	var redisClient *redis.Client
	redisAddr := env.GetString("REDIS_ADDR", "")
	if redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without mirror", zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("connected to redis", zap.String("addr", redisAddr))
		}
		cancel()
	}

	// 3. Metrics
	appMetrics := metrics.New(serviceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 4. Relay over the in-memory registries
	relayOpts := []relay.Option{}
	var pushSvc *push.Service
	if redisClient != nil {
		relayOpts = append(relayOpts, relay.WithMirror(redisRepo.NewPresenceMirror(redisClient)))

		provider, err := push.NewProvider()
		if err != nil {
			logger.Warn("push provider unavailable, offline calls will not notify", zap.Error(err))
		} else {
			pushSvc = push.NewService(provider, redisRepo.NewPushTokenRepository(redisClient))
			relayOpts = append(relayOpts, relay.WithNotifier(pushSvc))
		}
	}

	r := relay.New(
		logger.Named("relay"),
		registry.NewPresence(),
		registry.NewSessions(),
		registry.NewRooms(),
		appMetrics,
		relayOpts...,
	)

	// 5. Gateway
	gateway := wsHandler.NewGateway(r, jwtManager, appMetrics)

	// 6. Router
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(appMetrics.Handler()))
	router.GET("/ws", gateway.ServeWS)

	// Device tokens for offline-call notifications
	if pushSvc != nil {
		pushAPI := router.Group("/push", middleware.JWTAuth(jwtManager))
		h := pushHandler.NewHandler(pushSvc)
		pushAPI.POST("/tokens", h.RegisterToken)
		pushAPI.DELETE("/tokens", h.UnregisterToken)
	}

	// 7. Serve with graceful shutdown
	port := env.GetString("PORT", "8084")
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		logger.Info("signaling service starting", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
