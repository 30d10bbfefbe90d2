package app

import (
	"context"

	"kringlewatch/internal/storage/clickhouse"
	"kringlewatch/internal/storage/migrations"
)

// Migrate applies the embedded schema to Postgres and, when signals live
// there, to ClickHouse.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	applied, err := migrations.RunPostgres(ctx, store.Pool())
	if err != nil {
		return err
	}
	a.Logger.Info().Strs("files", applied).Msg("postgres migrations applied")

	if a.Config.Signals.Backend != "clickhouse" {
		return nil
	}
	conn, err := clickhouse.Open(ctx, a.Config.ClickHouse.DSN, a.Config.ClickHouse.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err = migrations.RunClickHouse(ctx, conn)
	if err != nil {
		return err
	}
	a.Logger.Info().Strs("files", applied).Msg("clickhouse migrations applied")
	return nil
}
