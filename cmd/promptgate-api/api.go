// Package main provides the PromptGate API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/promptgate/promptgate/pkg/cache"
	"github.com/promptgate/promptgate/pkg/cmd"
	"github.com/promptgate/promptgate/pkg/comfy"
	"github.com/promptgate/promptgate/pkg/dispatch"
	"github.com/promptgate/promptgate/pkg/eventbus"
	"github.com/promptgate/promptgate/pkg/nodepool"
	"github.com/promptgate/promptgate/pkg/objectstore"
	"github.com/promptgate/promptgate/pkg/parameterize"
	"github.com/promptgate/promptgate/pkg/persistence"
	"github.com/promptgate/promptgate/pkg/web"
)

type APIConfig struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	Objects     objectstore.Store
	Nodes       []string
	EventBus    eventbus.EventBus
	Cache       cache.ResultCache
	Tokens      map[string]int64
}

type API struct {
	logger   *slog.Logger
	handlers *web.APIHandlers
	poller   *dispatch.Poller
	tokens   map[string]int64
}

func NewAPI(cfg APIConfig) (*API, error) {
	selector, err := nodepool.NewSelector(cfg.Logger, cfg.Nodes)
	if err != nil {
		return nil, err
	}

	client := comfy.NewClient(cfg.Logger)
	engine := parameterize.NewEngine(client, cfg.Objects, cfg.Logger)

	poller := dispatch.NewPoller(dispatch.PollerConfig{
		Persistence: cfg.Persistence,
		Nodes:       client,
		Engine:      engine,
		Cache:       cfg.Cache,
		Logger:      cfg.Logger,
	})

	service := dispatch.NewService(dispatch.ServiceConfig{
		Persistence: cfg.Persistence,
		Objects:     cfg.Objects,
		Nodes:       client,
		Selector:    selector,
		Engine:      engine,
		Hooks:       cmd.NewHooks(cfg.Logger),
		Poller:      poller,
		Publisher:   cfg.EventBus,
		Cache:       cfg.Cache,
		Logger:      cfg.Logger,
	})

	validate := validator.New(validator.WithRequiredStructEnabled())
	handlers := web.NewAPIHandlers(service, cfg.Persistence, cfg.Objects, validate, cfg.Logger)

	return &API{
		logger:   cfg.Logger,
		handlers: handlers,
		poller:   poller,
		tokens:   cfg.Tokens,
	}, nil
}

// Poller exposes the dispatch poller so embedded workers can reuse it.
func (a *API) Poller() *dispatch.Poller {
	return a.poller
}

func (a *API) App(tokens map[string]int64) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("PromptGate API")
	})

	a.handlers.RegisterRoutes(app, tokens)

	return app
}

func (a *API) Start(port int) error {
	return a.App(a.tokens).Listen(":" + strconv.Itoa(port))
}
