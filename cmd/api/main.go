package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/civic-stream-api/internal/config"
	"github.com/noah-isme/civic-stream-api/internal/database"
	"github.com/noah-isme/civic-stream-api/internal/handler"
	"github.com/noah-isme/civic-stream-api/internal/middleware"
	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/internal/repository"
	"github.com/noah-isme/civic-stream-api/internal/router"
	"github.com/noah-isme/civic-stream-api/internal/service"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()
	if cfg.AppEnv == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.BusTransport == config.BusTransportNATS {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	hub := realtime.NewHub(realtime.Options{
		BufferSize: cfg.BusSubscriberBuffer,
		Transport:  busTransport(cfg, redisClient, natsConn),
		Backoff: channel.Backoff{
			Base:        cfg.BusReconnectBase,
			Max:         cfg.BusReconnectMax,
			MaxAttempts: cfg.BusReconnectAttempts,
		},
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)

	reactionOpts := service.ReactionOptions{ThrottleWindow: cfg.ReactionThrottleWindow}
	if redisClient != nil {
		reactionOpts.Throttle = service.NewRedisReactionThrottle(redisClient)
		reactionOpts.Counters = service.NewRedisReactionCounters(redisClient)
	}

	validate := service.NewValidator()

	streamRepo := repository.NewStreamRepository(db)
	sessionRepo := repository.NewViewerSessionRepository(db)
	chatRepo := repository.NewChatRepository(db)
	reactionRepo := repository.NewReactionRepository(db)

	registry := service.NewStreamRegistry(streamRepo)
	chatService := service.NewChatService(registry, chatRepo, hub, validate, cfg.ChatHistoryLimit, logger)
	reactionService := service.NewReactionService(registry, reactionRepo, hub, validate, reactionOpts, logger)
	presenceService := service.NewPresenceService(service.PresenceDependencies{
		Registry:     registry,
		Streams:      streamRepo,
		Sessions:     sessionRepo,
		Messages:     chatService,
		Reactions:    reactionService,
		Bus:          hub,
		Validator:    validate,
		HistoryLimit: cfg.ChatHistoryLimit,
	}, logger)
	streamService := service.NewStreamService(streamRepo, presenceService, hub, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		StreamHandler:       handler.NewStreamHandler(streamService, logger),
		StreamChatHandler:   handler.NewStreamChatHandler(presenceService, chatService, reactionService, logger),
		StreamSocketHandler: handler.NewStreamSocketHandler(hub, registry, cfg.WebsocketKeepAlive, logger),
		BusStatus:           hub.Status,
		JWTMiddleware:       middleware.JWTOptional(cfg.JWTSecret),
		AuthMiddleware:      middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, hub, cancel, cfg.ShutdownTimeout, logger)
}

func busTransport(cfg config.Config, redisClient *redis.Client, natsConn *nats.Conn) realtime.Transport {
	switch cfg.BusTransport {
	case config.BusTransportRedis:
		return realtime.NewRedisTransport(redisClient)
	case config.BusTransportNATS:
		return realtime.NewNATSTransport(natsConn)
	default:
		return nil
	}
}

func waitForShutdown(app *fiber.App, hub *realtime.Hub, stopBus context.CancelFunc, timeout time.Duration, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	stopBus()
	hub.Close()
	logger.Info().Msg("server stopped")
}
