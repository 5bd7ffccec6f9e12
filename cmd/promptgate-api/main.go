package main

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/promptgate/promptgate/pkg/cmd"
	"github.com/promptgate/promptgate/pkg/log"
	"github.com/promptgate/promptgate/pkg/otelhelper"
	"github.com/promptgate/promptgate/pkg/worker"
)

const defaultPort = 9090

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "promptgate-api",
		Usage:                 "Serve the inference gateway API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "object-store-url",
				Usage:    "Object store root (directory path or s3://bucket/prefix)",
				Required: true,
				Sources:  cli.EnvVars("OBJECT_STORE_URL"),
			},
			&cli.StringFlag{
				Name:     "nodes",
				Usage:    "Comma-separated compute node endpoints",
				Required: true,
				Sources:  cli.EnvVars("COMFY_NODES"),
			},
			&cli.StringFlag{
				Name:     "api-tokens",
				Usage:    "API token table, token:tenant_id pairs joined by commas",
				Required: true,
				Sources:  cli.EnvVars("API_TOKENS"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the result cache (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing PromptGate API")

			if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
				if _, err := otelhelper.NewTracer(ctx, "promptgate-api"); err != nil {
					return err
				}
			}

			tokens, err := cmd.ParseTokens(command.String("api-tokens"))
			if err != nil {
				return err
			}

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api, err := NewAPI(APIConfig{
				Logger:      logger,
				Persistence: store,
				Objects:     cmd.NewObjectStore(command.String("object-store-url")),
				Nodes:       strings.Split(command.String("nodes"), ","),
				EventBus:    eventBus,
				Cache:       cmd.NewResultCache(command.String("redis-url"), logger),
				Tokens:      tokens,
			})
			if err != nil {
				return err
			}

			// With the in-process bus nothing else can consume dispatch
			// events, so the API hosts its own workers.
			if command.String("event-bus") == "gochannel" {
				workerID := "embedded-" + uuid.New().String()[:8]

				w := worker.New(workerID, store, eventBus, api.Poller(), worker.DefaultConcurrency, logger)
				if err := w.Start(ctx); err != nil {
					return err
				}

				janitor := worker.NewJanitor(store, worker.DefaultStaleAfter, logger)
				if err := janitor.Start(ctx); err != nil {
					return err
				}

				defer janitor.Stop()
			}

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
