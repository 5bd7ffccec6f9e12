// Package main provides the standalone PromptGate worker. It consumes task
// dispatch events from Kafka and polls compute nodes for completions, so
// async submissions settle even when the API process restarts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/promptgate/promptgate/pkg/cmd"
	"github.com/promptgate/promptgate/pkg/comfy"
	"github.com/promptgate/promptgate/pkg/dispatch"
	"github.com/promptgate/promptgate/pkg/log"
	"github.com/promptgate/promptgate/pkg/otelhelper"
	"github.com/promptgate/promptgate/pkg/parameterize"
	"github.com/promptgate/promptgate/pkg/worker"
)

func main() {
	command := &cli.Command{
		Name:                  "promptgate-worker",
		Usage:                 "Poll compute nodes for dispatched task completions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Name:     "event-bus",
				Usage:    "Event bus type (kafka)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum tasks polled at once",
				Value:   worker.DefaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Age past which pending tasks are failed by the janitor",
				Value:   worker.DefaultStaleAfter,
				Sources: cli.EnvVars("STALE_AFTER"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("promptgate-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing PromptGate Worker")

			if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
				if _, err := otelhelper.NewTracer(ctx, "promptgate-worker"); err != nil {
					return err
				}
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

			client := comfy.NewClient(logger)
			engine := parameterize.NewEngine(client, cmd.NewObjectStore(command.String("object-store-url")), logger)

			poller := dispatch.NewPoller(dispatch.PollerConfig{
				Persistence: store,
				Nodes:       client,
				Engine:      engine,
				Cache:       cmd.NewResultCache(command.String("redis-url"), logger),
				Logger:      logger,
			})

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			w := worker.New(workerID, store, eventBus, poller, command.Int("concurrency"), logger)
			if err := w.Start(ctx); err != nil {
				return err
			}

			janitor := worker.NewJanitor(store, command.Duration("stale-after"), logger)
			if err := janitor.Start(ctx); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down worker...")

			cancel()
			janitor.Stop()
			w.Drain()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
