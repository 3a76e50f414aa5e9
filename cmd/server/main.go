// Package main runs the booking HTTP server with the live booking feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fairway-meetups/backend/config"
	"github.com/fairway-meetups/backend/internal/auth"
	"github.com/fairway-meetups/backend/internal/bookings"
	"github.com/fairway-meetups/backend/internal/dispatch"
	"github.com/fairway-meetups/backend/internal/middleware"
	"github.com/fairway-meetups/backend/internal/profiles"
	"github.com/fairway-meetups/backend/internal/realtime"
	"github.com/fairway-meetups/backend/pkg/database"
	"github.com/fairway-meetups/backend/pkg/queue"
	"github.com/fairway-meetups/backend/pkg/redis"
	"github.com/fairway-meetups/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	storeOpts := []bookings.StoreOption{bookings.WithMaxAttempts(cfg.Booking.TxMaxAttempts)}

	var (
		pool *pgxpool.Pool
		repo bookings.BookingRepository
		ledg bookings.RequestLedger
	)
	switch cfg.Booking.StoreBackend {
	case config.StoreBackendMemory:
		repo = bookings.NewMemoryBookingStore(storeOpts...)
		ledg = bookings.NewMemoryRequestLedger(storeOpts...)
		logger.Warn("using in-memory booking store; data is lost on restart")
	default:
		pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		repo = bookings.NewPostgresBookingStore(pool, storeOpts...)
		ledg = bookings.NewPostgresRequestLedger(pool, storeOpts...)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	// Side effects go through the Redis queue when available.
	var dispatcher bookings.Dispatcher = dispatch.NewLogDispatcher(logger)
	var hub *realtime.Hub
	if rdb != nil {
		dispatcher = dispatch.NewQueueDispatcher(queue.NewQueue(rdb.Client, logger), logger)
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		logger.Warn("REDIS_ADDR not set; side effects are only logged")
		hub = realtime.NewHub(logger, nil, nil)
	}

	svcOpts := []bookings.Option{
		bookings.WithPublisher(hub),
		bookings.WithJoinReward(cfg.Booking.JoinRewardPoints),
		bookings.WithPlaceholderName(cfg.Booking.PlaceholderName),
		bookings.WithMaxCapacity(cfg.Booking.MaxCapacity),
		bookings.WithDispatchTimeout(cfg.Booking.DispatchTimeout),
	}
	if pool != nil {
		var lookup bookings.ProfileLookup = profiles.NewRepository(pool)
		if rdb != nil {
			lookup = profiles.NewCachedLookup(lookup, rdb.Client, cfg.Profiles.CacheTTL, logger)
		}
		svcOpts = append(svcOpts, bookings.WithProfiles(lookup))
	}
	svc := bookings.NewService(repo, ledg, dispatcher, logger, svcOpts...)
	bookingHandler := bookings.NewHandler(svc, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jwtValidate := func(token string) (string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.CallerID(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if pool != nil {
			pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(pingCtx); err != nil {
				response.Error(c, http.StatusServiceUnavailable, "unavailable", "database unreachable")
				return
			}
		}
		response.OK(c, gin.H{"status": "ok", "store": cfg.Booking.StoreBackend})
	})

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	bookingHandler.RegisterRoutes(api)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, svc, jwtValidate, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Booking.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	svc.Wait()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
