package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/flowprobe/flowprobe/pkg/cmd"
	"github.com/flowprobe/flowprobe/pkg/dispatcher"
	"github.com/flowprobe/flowprobe/pkg/log"
	"github.com/flowprobe/flowprobe/pkg/otelhelper"
	"github.com/flowprobe/flowprobe/pkg/webhook"
)

const defaultWebhookPort = 8085

func main() {
	command := &cli.Command{
		Name:                  "flowprobe-trigger",
		Usage:                 "Receive webhook deliveries and dispatch workflow executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "trigger-id",
				Aliases: []string{"id"},
				Usage:   "Custom trigger service ID (auto-generated if not provided)",
				Sources: cli.EnvVars("TRIGGER_ID"),
			},
			&cli.IntFlag{
				Name:    "webhook-port",
				Usage:   "Port for the webhook HTTP server",
				Value:   defaultWebhookPort,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka or in-process channel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "engine-url",
				Usage:   "Base URL of the workflow engine (empty accepts triggers in degraded mode)",
				Sources: cli.EnvVars("ENGINE_URL"),
			},
			&cli.StringFlag{
				Name:    "engine-api-key",
				Usage:   "API key for the workflow engine",
				Sources: cli.EnvVars("ENGINE_API_KEY"),
			},
			&cli.DurationFlag{
				Name:    "engine-timeout",
				Usage:   "Per-request timeout for engine calls",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("ENGINE_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "signing-secret",
				Usage:   "HMAC secret for webhook signature verification",
				Sources: cli.EnvVars("WEBHOOK_SIGNING_SECRET"),
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Static API key accepted on webhook deliveries",
				Sources: cli.EnvVars("WEBHOOK_API_KEY"),
			},
			&cli.BoolFlag{
				Name:    "hardened",
				Usage:   "Reject unauthenticated deliveries even when no credentials are configured",
				Sources: cli.EnvVars("WEBHOOK_HARDENED"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for delivery deduplication (empty disables dedup)",
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

			logger := log.WithModule("trigger")

			serviceID := command.String("trigger-id")
			if serviceID == "" {
				serviceID = "trigger-" + uuid.New().String()[:8]
			}

			logger.InfoContext(ctx, "Initializing Flowprobe trigger service", "service_id", serviceID)

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(
				command.String("event-bus"),
				"flowprobe-trigger",
				command.String("kafka-brokers"),
				logger,
			)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "flowprobe-trigger")
			if err != nil {
				return err
			}

			engineClient := cmd.NewEngineClient(
				command.String("engine-url"),
				command.String("engine-api-key"),
				command.Duration("engine-timeout"),
			)

			deduper, err := cmd.NewDeduper(command.String("redis-url"))
			if err != nil {
				return err
			}

			d := dispatcher.NewDispatcher(persistence, engineClient, eventBus, tracer, serviceID)

			authenticator := webhook.NewAuthenticator(webhook.AuthenticatorConfig{
				SigningSecret: command.String("signing-secret"),
				APIKey:        command.String("api-key"),
				Hardened:      command.Bool("hardened"),
			})

			server := webhook.NewServer(
				command.Int("webhook-port"),
				persistence.WorkflowRepository(),
				d,
				authenticator,
				deduper,
			)

			service := NewTriggerService(serviceID, persistence, d, server, logger)

			return service.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
