// Package main provides the Flowprobe trigger service, the inbound webhook
// surface that turns authenticated deliveries into workflow executions.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowprobe/flowprobe/pkg/dispatcher"
	"github.com/flowprobe/flowprobe/pkg/persistence"
	"github.com/flowprobe/flowprobe/pkg/webhook"
)

const shutdownTimeout = 30 * time.Second

type TriggerService struct {
	id          string
	persistence persistence.Persistence
	dispatcher  *dispatcher.Dispatcher
	server      *webhook.Server
	logger      *slog.Logger
}

func NewTriggerService(
	id string,
	p persistence.Persistence,
	d *dispatcher.Dispatcher,
	server *webhook.Server,
	logger *slog.Logger,
) *TriggerService {
	return &TriggerService{
		id:          id,
		persistence: p,
		dispatcher:  d,
		server:      server,
		logger:      logger.With("module", "trigger_service", "service_id", id),
	}
}

// Start runs the webhook server until the context is cancelled or a shutdown
// signal arrives.
func (ts *TriggerService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ts.logger.Info("Starting trigger service")

	if err := ts.server.Start(ctx); err != nil {
		return err
	}

	ts.handleSignals(cancel)

	<-ctx.Done()

	return ts.stop()
}

func (ts *TriggerService) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		ts.logger.Info("Received signal", "signal", sig)
		cancel()
	}()
}

func (ts *TriggerService) stop() error {
	ts.logger.Info("Shutting down trigger service")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := ts.server.Stop(stopCtx); err != nil {
		return err
	}

	ts.logger.Info("Trigger service stopped")

	return nil
}
