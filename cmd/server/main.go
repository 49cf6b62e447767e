package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/lofivibes/api/internal/auth"
	"github.com/lofivibes/api/internal/client"
	"github.com/lofivibes/api/internal/config"
	"github.com/lofivibes/api/internal/handler"
	"github.com/lofivibes/api/internal/middleware"
	"github.com/lofivibes/api/internal/service"
	"github.com/lofivibes/api/internal/store"
	ws "github.com/lofivibes/api/internal/websocket"
	"github.com/lofivibes/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Without Redis, sessions live in memory and expire on local timers.
	ctx := context.Background()
	var (
		sessionStore store.Store
		asynqClient  *asynq.Client
	)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, using in-memory session store: %v", err)
		redisClient.Close()
		redisClient = nil
		sessionStore = store.NewMemoryStore(cfg.Session.IdleTTL)
	} else {
		sessionStore = store.NewRedisStore(redisClient, cfg.Session.IdleTTL)
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external clients
	geminiClient := client.NewGeminiClient(&cfg.Gemini)
	elevenLabsClient := client.NewElevenLabsClient(&cfg.ElevenLabs)
	if !geminiClient.IsConfigured() {
		log.Println("Info: GEMINI_API_KEY not set, image generation will be refused")
	}
	if !elevenLabsClient.IsConfigured() {
		log.Println("Info: ELEVENLABS_API_KEY not set, music generation will be refused")
	}

	// Initialize R2 client (optional - tracks stay in memory if not configured)
	var archive client.TrackArchive
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			archive = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, keeping tracks in memory")
	}

	// Initialize services
	imageService := service.NewImageService(geminiClient, cfg.Session.Frames)
	musicService := service.NewMusicService(elevenLabsClient)
	gateway := service.NewLocalGateway(imageService, musicService, archive, cfg.Session.MaxTrackBytes)
	sessionService := service.NewSessionService(gateway, sessionStore, hub, archive, asynqClient, service.SessionOptions{
		Frames:          cfg.Session.Frames,
		PreviewInterval: cfg.Session.PreviewInterval,
		RequestTimeout:  cfg.Session.RequestTimeout,
		IdleTTL:         cfg.Session.IdleTTL,
		PublicURL:       cfg.Session.PublicURL,
	})

	// Initialize handlers
	imageHandler := handler.NewImageHandler(imageService, validate)
	musicHandler := handler.NewMusicHandler(musicService, validate)
	sessionHandler := handler.NewSessionHandler(sessionService, validate)

	// Initialize middleware
	var apiMiddleware fiber.Handler = func(c *fiber.Ctx) error { return c.Next() }
	if cfg.Auth.Enabled {
		var verifiers auth.Chain
		if cfg.Zitadel.Issuer != "" {
			jwksVerifier, err := auth.NewJWKSVerifier(&cfg.Zitadel)
			if err != nil {
				log.Printf("Warning: JWKS verifier not initialized: %v", err)
			} else {
				verifiers = append(verifiers, jwksVerifier)
			}
		}
		if cfg.JWT.Secret != "" {
			verifiers = append(verifiers, auth.NewHMACVerifier(cfg.JWT.Secret))
		}
		apiMiddleware = middleware.Authenticate(verifiers)
		log.Printf("Auth enabled with %d verifier(s)", len(verifiers))
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // 50MB, animation requests carry a full frame
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini":     geminiClient.IsConfigured(),
				"elevenlabs": elevenLabsClient.IsConfigured(),
				"r2":         archive != nil,
				"redis":      redisClient != nil,
				"auth":       cfg.Auth.Enabled,
			},
		})
	})

	// API routes
	api := app.Group("/api", apiMiddleware)

	// Generation gateway
	api.Post("/generate-image", rateLimiter.ImageLimit(cfg.RateLimit.ImagePerMin), imageHandler.Generate)
	api.Get("/generate-music", rateLimiter.MusicLimit(cfg.RateLimit.MusicPerHour), musicHandler.Stream)

	// Session routes
	sessions := api.Group("/sessions")
	sessions.Post("/", rateLimiter.SessionLimit(cfg.RateLimit.SessionsPerHour), sessionHandler.Create)
	sessions.Get("/:id", sessionHandler.Get)
	sessions.Post("/:id/start", rateLimiter.SessionLimit(cfg.RateLimit.SessionsPerHour), sessionHandler.Start)
	sessions.Post("/:id/scene/regenerate", sessionHandler.RegenerateScene)
	sessions.Post("/:id/scene/accept", sessionHandler.AcceptScene)
	sessions.Post("/:id/music/retry", sessionHandler.RetryMusic)
	sessions.Post("/:id/music/skip", sessionHandler.SkipMusic)
	sessions.Post("/:id/reset", sessionHandler.Reset)
	sessions.Get("/:id/share", sessionHandler.Share)
	sessions.Get("/:id/audio", sessionHandler.Audio)
	sessions.Get("/:id/download", sessionHandler.Download)
	sessions.Get("/:id/scene", sessionHandler.Scene)
	sessions.Get("/:id/frames/:n", sessionHandler.Frame)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/sessions/:id", websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("id")
		var initial []byte
		if view, err := sessionService.Get(context.Background(), sessionID); err == nil {
			initial, _ = ws.StateMessage(sessionID, view)
		}
		hub.HandleConnection(c, sessionID, initial)
	}))

	// Start Asynq worker server
	if asynqClient != nil {
		go startWorkerServer(cfg, sessionService)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		sessionService.Close()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, sessions *service.SessionService) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"sessions": 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	expiryWorker := worker.NewExpiryWorker(sessions)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeSessionExpire, expiryWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
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
