package app

import (
	"context"
	"errors"
	"time"

	"kringlewatch/internal/storage/memory"
)

// Backfill recomputes trend snapshots for each scheduled instant in [From, To).
// Scores come from the signals recorded before each instant. Back in Stock,
// High Margin and Best Value are derived from today's active offers because
// the catalog keeps no offer history. Rerunning an instant replaces its
// ranking. A dry run keeps results in memory.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	interval := a.Config.Scheduler.TrendsInterval
	if interval <= 0 {
		return errors.New("scheduler trends interval must be positive")
	}

	start := alignForward(opts.From.UTC(), interval, a.Config.Scheduler.TrendsOffset)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("backfill range is empty, check --from/--to")
	}

	a.Logger.Warn().Msg("backfill scores use historical signals; offer badges use current offers")

	rt, err := a.open(ctx, !opts.DryRun)
	if err != nil {
		return err
	}
	defer rt.Close()

	var run func(context.Context, time.Time) error
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: trend snapshots will not be written")
		scratch := memory.NewStore()
		agg := a.newAggregator(rt, scratch)
		run = func(ctx context.Context, at time.Time) error {
			report, err := agg.ComputeTrends(ctx, at)
			if err != nil {
				return err
			}
			a.Logger.Info().Time("at", at).Int("rows", report.Rows).Int("bands_failed", len(report.Failed)).Msg("dry-run trend computation")
			return nil
		}
	} else {
		svc, err := a.newService(rt)
		if err != nil {
			return err
		}
		run = svc.ProcessTrends
	}

	processed := 0
	failed := 0
	for at := start; at.Before(end); at = at.Add(interval) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := run(ctx, at); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("at", at).Msg("backfill step failed")
			continue
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill finished")
	if failed > 0 {
		return errors.New("some backfill steps failed, check the logs")
	}
	return nil
}

// alignForward returns the first instant at or after t that lies on the
// interval grid shifted by offset.
func alignForward(t time.Time, interval, offset time.Duration) time.Time {
	offset %= interval
	if offset < 0 {
		offset += interval
	}
	aligned := t.Add(-offset).Truncate(interval).Add(offset)
	if aligned.Before(t) {
		return aligned.Add(interval)
	}
	return aligned
}
