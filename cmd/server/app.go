package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/reelcraft/mediapipe/internal/auth"
	"github.com/reelcraft/mediapipe/internal/client"
	"github.com/reelcraft/mediapipe/internal/config"
	"github.com/reelcraft/mediapipe/internal/executor"
	"github.com/reelcraft/mediapipe/internal/handler"
	"github.com/reelcraft/mediapipe/internal/log"
	"github.com/reelcraft/mediapipe/internal/middleware"
	"github.com/reelcraft/mediapipe/internal/pipeline"
	"github.com/reelcraft/mediapipe/internal/processor"
	"github.com/reelcraft/mediapipe/internal/queue"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/reelcraft/mediapipe/internal/service"
	"github.com/reelcraft/mediapipe/internal/storage"
	"github.com/reelcraft/mediapipe/internal/store"
	ws "github.com/reelcraft/mediapipe/internal/websocket"
	"github.com/reelcraft/mediapipe/internal/worker"
)

// app holds the dependencies shared by the api and worker commands.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	redis    *redis.Client
	redisOpt asynq.RedisClientOpt
	store    *store.RedisStore
	gateway  *storage.Gateway
	r2       *client.R2Client
}

func newApp(logLevel string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	log.SetLevel(cfg.Server.LogLevel)
	logger := log.GetLogger()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("Redis not available")
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		redis:  redisClient,
		redisOpt: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		store: store.NewRedisStore(redisClient),
	}

	backends := []storage.Backend{storage.NewLocalBackend(cfg.Storage.LocalBaseDir)}
	if cfg.Storage.R2.AccessKeyID != "" && cfg.Storage.R2.SecretAccessKey != "" {
		a.r2, err = client.NewR2Client(pingCtx, &cfg.Storage.R2)
		if err != nil {
			logger.WithError(err).Warn("R2 client not initialized")
		} else {
			backends = append(backends, a.r2)
		}
	} else {
		logger.Info("R2 storage not configured, using local storage only")
	}
	if cfg.Storage.DefaultBackend == client.BackendR2 && a.r2 == nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("default storage backend %q is not configured", client.BackendR2)
	}
	a.gateway = storage.NewGateway(cfg.Storage.DefaultBackend, cfg.Storage.TempDir, logger, backends...)

	return a, nil
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close Redis client")
	}
}

// runAPI serves HTTP until ctx is cancelled.
func (a *app) runAPI(ctx context.Context) error {
	cfg := a.cfg

	verifier := a.verifiers(ctx)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		a.logger.Info("Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuth()
	} else {
		apiAuthMiddleware = middleware.Authenticate(verifier)
	}

	hub := ws.NewHub(a.logger)
	go hub.Run()
	go hub.Relay(ctx, a.redis)

	validate := validator.New()
	taskService := service.NewTaskService(a.store, a.gateway)

	routes := &handler.Routes{
		Media:         handler.NewMediaHandler(taskService, validate),
		Timeline:      handler.NewTimelineHandler(taskService, validate),
		Task:          handler.NewTaskHandler(taskService),
		Auth:          handler.NewAuthHandler(verifier),
		Hub:           hub,
		APIAuth:       apiAuthMiddleware,
		RateLimiter:   middleware.NewRateLimiter(a.redis),
		TaskPerHour:   cfg.RateLimit.TaskPerHour,
		RenderPerHour: cfg.RateLimit.RenderPerHour,
		Health: func() fiber.Map {
			pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return fiber.Map{
				"redis": a.redis.Ping(pingCtx).Err() == nil,
				"r2":    a.r2 != nil,
				"auth":  len(verifier) > 0,
			}
		},
	}

	server := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // 50MB
	})

	server.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
	}
	server.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.Register(server)

	go func() {
		<-ctx.Done()
		a.logger.Info("Shutting down server...")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			a.logger.WithError(err).Error("Server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	a.logger.Infof("Server starting on %s", addr)
	if err := server.Listen(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// verifiers returns the configured token verifiers, OIDC first.
func (a *app) verifiers(ctx context.Context) auth.Chain {
	var chain auth.Chain
	if a.cfg.OIDC.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, &a.cfg.OIDC)
		if err != nil {
			a.logger.WithError(err).Warn("JWKS verifier not initialized")
		} else {
			chain = append(chain, jwks)
		}
	}
	if a.cfg.JWT.Secret != "" {
		chain = append(chain, auth.NewHMACVerifier(a.cfg.JWT.Secret))
	}
	return chain
}

// runWorker runs the enqueuer and the asynq servers until ctx is cancelled.
// Parent and step jobs are served by separate servers so blocked parents
// never starve the steps they wait on.
func (a *app) runWorker(ctx context.Context) error {
	cfg := a.cfg

	asynqClient := asynq.NewClient(a.redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(a.redisOpt)
	defer inspector.Close()

	q := queue.NewAsynqQueue(asynqClient, inspector, cfg.Pipeline, a.logger)

	exec := executor.New(runner.New(cfg.FFmpeg, a.logger), cfg.Render, a.logger)
	steps := processor.New(a.store, a.gateway, exec, cfg.Storage.WorkDir, a.logger)
	orch := pipeline.NewOrchestrator(a.store, q, steps, ws.NewPublisher(a.redis, a.logger), a.logger)

	mux := asynq.NewServeMux()
	worker.NewPipelineWorker(orch, a.logger).Register(mux)

	level := asynqLogLevel(cfg.Server.LogLevel)
	parents := asynq.NewServer(a.redisOpt, asynq.Config{
		Concurrency:     cfg.Pipeline.ParentConcurrency,
		Queues:          map[string]int{queue.QueuePipeline: 1},
		Logger:          a.logger,
		LogLevel:        level,
		ShutdownTimeout: 10 * time.Second,
	})
	stepServer := asynq.NewServer(a.redisOpt, asynq.Config{
		Concurrency:     cfg.Pipeline.StepConcurrency,
		Queues:          map[string]int{queue.QueueSteps: 1},
		Logger:          a.logger,
		LogLevel:        level,
		ShutdownTimeout: 10 * time.Second,
	})

	if err := stepServer.Start(mux); err != nil {
		return fmt.Errorf("failed to start step server: %w", err)
	}
	defer stepServer.Shutdown()
	if err := parents.Start(mux); err != nil {
		return fmt.Errorf("failed to start pipeline server: %w", err)
	}
	defer parents.Shutdown()

	enqueuer := service.NewEnqueuer(a.store, q, cfg.Pipeline, a.logger)
	a.logger.WithFields(logrus.Fields{
		"parent_concurrency": cfg.Pipeline.ParentConcurrency,
		"step_concurrency":   cfg.Pipeline.StepConcurrency,
	}).Info("Workers started")
	enqueuer.Run(ctx)

	a.logger.Info("Shutting down workers...")
	return nil
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn", "warning":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
