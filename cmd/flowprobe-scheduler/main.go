// Package main provides the Flowprobe scheduler service, which dispatches
// workflows that declare a cron schedule.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/flowprobe/flowprobe/pkg/cmd"
	"github.com/flowprobe/flowprobe/pkg/dispatcher"
	"github.com/flowprobe/flowprobe/pkg/log"
	"github.com/flowprobe/flowprobe/pkg/otelhelper"
	"github.com/flowprobe/flowprobe/pkg/scheduler"
)

const defaultRefreshInterval = time.Minute

func main() {
	command := &cli.Command{
		Name:                  "flowprobe-scheduler",
		Usage:                 "Dispatch workflows on their cron schedules",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler service ID (auto-generated if not provided)",
				Sources: cli.EnvVars("SCHEDULER_ID"),
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
				Usage:   "Base URL of the workflow engine",
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
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Usage:   "How often to reconcile cron jobs against persistence",
				Value:   defaultRefreshInterval,
				Sources: cli.EnvVars("REFRESH_INTERVAL"),
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

			logger := log.WithModule("scheduler")

			serviceID := command.String("scheduler-id")
			if serviceID == "" {
				serviceID = "scheduler-" + uuid.New().String()[:8]
			}

			logger.InfoContext(ctx, "Initializing Flowprobe scheduler", "service_id", serviceID)

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
				"flowprobe-scheduler",
				command.String("kafka-brokers"),
				logger,
			)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "flowprobe-scheduler")
			if err != nil {
				return err
			}

			engineClient := cmd.NewEngineClient(
				command.String("engine-url"),
				command.String("engine-api-key"),
				command.Duration("engine-timeout"),
			)

			d := dispatcher.NewDispatcher(persistence, engineClient, eventBus, tracer, serviceID)
			s := scheduler.NewScheduler(persistence.WorkflowRepository(), d)

			if err := s.Start(ctx); err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				sig := <-signals
				logger.Info("Received signal", "signal", sig)
				cancel()
			}()

			ticker := time.NewTicker(command.Duration("refresh-interval"))
			defer ticker.Stop()

			for {
				select {
				case <-runCtx.Done():
					stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer stopCancel()

					return s.Stop(stopCtx)
				case <-ticker.C:
					if err := s.Refresh(runCtx); err != nil {
						logger.Error("Failed to refresh schedules", "error", err)
					}
				}
			}
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
