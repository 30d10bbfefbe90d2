package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"kringlewatch/internal/ingest"
)

// Ingest consumes engagement signals from RabbitMQ until interrupted.
func (a *App) Ingest(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	consumer, err := ingest.NewConsumer(a.Config.RabbitMQ, a.Logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	err = consumer.Run(ctx, ingest.NewHandler(rt.signals, a.Logger))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info().Msg("ingest stopped")
	return nil
}
