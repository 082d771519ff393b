// Package main provides the Flowprobe API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowprobe/flowprobe/pkg/engine"
	"github.com/flowprobe/flowprobe/pkg/eventbus"
	"github.com/flowprobe/flowprobe/pkg/persistence"
	"github.com/flowprobe/flowprobe/pkg/testrun"
	"github.com/flowprobe/flowprobe/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      engine.Client
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	workerID    string
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	engineClient engine.Client,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
	workerID string,
) *API {
	return &API{
		logger:      logger,
		persistence: p,
		engine:      engineClient,
		eventBus:    eventBus,
		tracer:      tracer,
		workerID:    workerID,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	runService := testrun.NewService(a.persistence, a.engine, a.eventBus, a.tracer, a.workerID)
	handlers := web.NewAPIHandlers(a.persistence, runService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowprobe API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
