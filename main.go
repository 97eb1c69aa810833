package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"terminalconnect-backend/config"
	"terminalconnect-backend/controllers"
	"terminalconnect-backend/database"
	"terminalconnect-backend/events"
	"terminalconnect-backend/gateway"
	"terminalconnect-backend/middlewares"
	"terminalconnect-backend/routes"
	"terminalconnect-backend/services"
	"terminalconnect-backend/store"
)

func main() {
	cfg := config.Load()

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	middlewares.SetJWTSecret(cfg.JWTSecret)

	// ---- Database
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("database connection failed", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	// ---- Postback stores
	anonymous, err := store.OpenFileStore(cfg.AnonPostbackFile, store.WithFileLogger(logger))
	if err != nil {
		logger.Fatal("anonymous postback store", zap.String("path", cfg.AnonPostbackFile), zap.Error(err))
	}
	identities := store.NewIdentityStore(db, store.WithIdentityLogger(logger))
	stores := store.NewSelector(anonymous, identities)

	// ---- Optional event fan-out
	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBroker != "" {
		publisher = events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaPostbackTopic, logger)
		logger.Info("publishing postback events", zap.String("broker", cfg.KafkaBroker), zap.String("topic", cfg.KafkaPostbackTopic))
	}
	defer publisher.Close()

	// ---- Gateway + services
	client := gateway.NewClient(cfg.GatewayTimeout, logger)
	enricher := gateway.NewEnricher(client, logger)

	reversal := services.ReversalAlwaysProcess
	if cfg.ReversalOptOut {
		reversal = services.ReversalHonorsPinpadOptOut
	}
	intents := services.NewIntentService(client, enricher, reversal, logger)
	postbacks := services.NewPostbackService(stores, logger, services.WithPublisher(publisher))

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.NewErrorHandler(logger),
		BodyLimit:    cfg.BodyLimitBytes,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	// ---- CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: false,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, " +
			"X-Merchant-Id, X-Terminal-Id, X-Api-Key, X-Base-Url, X-Environment, X-Postback-Url, X-Postback-Delay",
	}))

	// ---- Global rate limiter on the API only; gateway callbacks are never throttled
	app.Use("/api", limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWin,
	}))

	// ---- Routes
	routes.Register(app, routes.Deps{
		DB:        db,
		Sessions:  config.NewSessionContexts(cfg.Defaults, cfg.PublicBaseURL),
		Intents:   controllers.NewIntentController(intents),
		Postbacks: controllers.NewPostbackController(postbacks),
	})

	// ---- Start
	logger.Info("API server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
