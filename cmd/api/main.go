package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/actions"
	"github.com/insight-agent/backend/internal/analysis"
	"github.com/insight-agent/backend/internal/api/handlers"
	"github.com/insight-agent/backend/internal/cache/redis"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/metrics"
	"github.com/insight-agent/backend/internal/middleware/ratelimit"
	"github.com/insight-agent/backend/internal/middleware/security"
	"github.com/insight-agent/backend/internal/middleware/validation"
	"github.com/insight-agent/backend/internal/oracle"
	"github.com/insight-agent/backend/pkg/config"
	appLogger "github.com/insight-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Insight Agent API Server")

	metrics.Init()

	manager := engine.NewManager(engine.ManagerConfig{
		SessionTTL:  time.Duration(cfg.Sessions.TTLMinutes) * time.Minute,
		MaxSessions: cfg.Sessions.MaxSessions,
	})
	defer manager.Close()

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer cache.Close()
	} else {
		appLogger.Info("Redis cache disabled, responses will not be cached")
	}

	oracleClient := oracle.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
	)

	runtime := analysis.NewRuntime(oracleClient, analysis.Config{
		DefaultQueryLimit: cfg.Analysis.DefaultQueryLimit,
		SprintQueryLimit:  cfg.Analysis.SprintQueryLimit,
		ProbeQueryLimit:   cfg.Analysis.ProbeQueryLimit,
		MaxProbes:         cfg.Analysis.MaxProbes,
		ProbeMaxWorkers:   cfg.Analysis.ProbeMaxWorkers,
	})

	actionsRuntime := actions.NewRuntime(cfg.Actions.JiraProject, cfg.Actions.SlackChannel)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	cacheTTL := time.Duration(cfg.Redis.CacheTTL) * time.Second

	sessionHandler := handlers.NewSessionHandler(manager, cache)
	analysisHandler := handlers.NewAnalysisHandler(manager, runtime, oracleClient, cache, cacheTTL)
	labsHandler := handlers.NewLabsHandler(manager)
	actionsHandler := handlers.NewActionsHandler(manager, oracleClient, actionsRuntime)
	wsHandler := handlers.NewWebSocketHandler(manager, runtime)

	api := app.Group("/api/v1")

	api.Post("/upload", sessionHandler.HandleUpload)
	api.Get("/session/:id", sessionHandler.GetSession)
	api.Delete("/session/:id", sessionHandler.DeleteSession)

	api.Post("/analyze", analysisHandler.HandleAnalyze)
	api.Post("/sprint", analysisHandler.HandleSprint)
	api.Post("/hypotheses", analysisHandler.HandleHypotheses)

	api.Post("/lab/causal", labsHandler.HandleCausal)
	api.Post("/lab/regression", labsHandler.HandleRegression)
	api.Post("/lab/anomalies", labsHandler.HandleAnomalies)

	api.Post("/actions/draft", actionsHandler.HandleDraft)
	api.Post("/actions/execute", actionsHandler.HandleExecute)

	api.Get("/health", sessionHandler.HandleHealth)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/analyze", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
