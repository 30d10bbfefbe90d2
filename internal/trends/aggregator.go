// Package trends computes and serves per-age-band trending product rankings.
package trends

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/metrics"
	"kringlewatch/internal/storage"
)

const (
	DefaultTopN   = 10
	DefaultWindow = 24 * time.Hour
)

// Invalidator drops cached rankings after a band is recomputed.
type Invalidator interface {
	Invalidate(ctx context.Context, band domain.AgeBand) error
}

// Options tune the aggregator.
type Options struct {
	TopN   int
	Window time.Duration
}

// Report summarises one ComputeTrends run.
type Report struct {
	Processed int
	Failed    []domain.AgeBand
	Rows      int
}

// Aggregator turns raw signals into dated per-band rankings.
type Aggregator struct {
	catalog storage.Catalog
	signals storage.SignalStore
	prices  storage.PriceHistoryStore
	trends  storage.TrendStore
	cache   Invalidator
	opts    Options
	logger  zerolog.Logger
}

// NewAggregator wires the aggregator to its stores.
func NewAggregator(catalog storage.Catalog, signals storage.SignalStore, prices storage.PriceHistoryStore, trendStore storage.TrendStore, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Aggregator{
		catalog: catalog,
		signals: signals,
		prices:  prices,
		trends:  trendStore,
		opts:    opts,
		logger:  logger.With().Str("component", "trend_aggregator").Logger(),
	}
}

// WithInvalidator registers a cache to clear after each written band.
func (a *Aggregator) WithInvalidator(cache Invalidator) *Aggregator {
	a.cache = cache
	return a
}

// ComputeTrends ranks every age band as of at. A failing band is logged and
// skipped; an error is returned only when no band could be processed.
func (a *Aggregator) ComputeTrends(ctx context.Context, at time.Time) (Report, error) {
	var (
		report Report
		errs   []error
	)

	for _, band := range domain.AgeBands() {
		rows, err := a.computeBand(ctx, band, at)
		if err != nil {
			a.logger.Error().Err(err).Str("age_band", string(band)).Msg("trend aggregation failed for band")
			metrics.RecordBand("failed", 0)
			report.Failed = append(report.Failed, band)
			errs = append(errs, fmt.Errorf("age band %s: %w", band, err))
			continue
		}
		report.Processed++
		report.Rows += rows
		metrics.RecordBand("processed", rows)
	}

	a.logger.Info().
		Time("at", at).
		Int("processed", report.Processed).
		Int("failed", len(report.Failed)).
		Int("rows", report.Rows).
		Msg("trend computation finished")

	if report.Processed == 0 && len(errs) > 0 {
		return report, fmt.Errorf("compute trends: %w", errors.Join(errs...))
	}
	return report, nil
}

type scoredProduct struct {
	product  domain.Product
	current  float64
	previous float64
}

func (a *Aggregator) computeBand(ctx context.Context, band domain.AgeBand, at time.Time) (int, error) {
	products, err := a.catalog.ProductsInAgeBand(ctx, band)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}
	if len(products) == 0 {
		return 0, nil
	}

	ranked, err := a.rank(ctx, products, at)
	if err != nil {
		return 0, err
	}
	if len(ranked) == 0 {
		a.logger.Debug().Str("age_band", string(band)).Msg("no signals in window, keeping previous snapshot")
		return 0, nil
	}

	cutoff := at.Add(-a.opts.Window)
	rows := make([]domain.TrendSnapshot, 0, len(ranked))
	for i, sp := range ranked {
		offers, err := a.catalog.ActiveOffers(ctx, sp.product.ID)
		if err != nil {
			return 0, fmt.Errorf("active offers for %s: %w", sp.product.ID, err)
		}
		in := BadgeInput{}
		if best, ok := domain.BestOffer(offers); ok {
			in.BestOffer = &best
			in.WasOutOfStock, err = a.wasOutOfStock(ctx, offers, cutoff)
			if err != nil {
				return 0, fmt.Errorf("stock history for %s: %w", sp.product.ID, err)
			}
		}

		rows = append(rows, domain.TrendSnapshot{
			ProductID:    sp.product.ID,
			AgeBand:      band,
			Rank:         i + 1,
			TrendScore:   sp.current,
			Badges:       AssignBadges(sp.current, sp.previous, in),
			SnapshotDate: at,
		})
	}

	if err := a.trends.InsertTrendSnapshots(ctx, rows); err != nil {
		return 0, fmt.Errorf("persist snapshot: %w", err)
	}

	if a.cache != nil {
		if err := a.cache.Invalidate(ctx, band); err != nil {
			a.logger.Warn().Err(err).Str("age_band", string(band)).Msg("failed to invalidate trend cache")
		}
	}

	a.logger.Debug().Str("age_band", string(band)).Int("rows", len(rows)).Msg("band snapshot written")
	return len(rows), nil
}

// rank scores products over the current and previous windows and keeps the
// top N. Equal scores are ordered by product ID.
func (a *Aggregator) rank(ctx context.Context, products []domain.Product, at time.Time) ([]scoredProduct, error) {
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}

	currentFrom := at.Add(-a.opts.Window)
	current, err := a.signals.SignalTotals(ctx, ids, currentFrom, at)
	if err != nil {
		return nil, fmt.Errorf("current signal totals: %w", err)
	}
	previous, err := a.signals.SignalTotals(ctx, ids, currentFrom.Add(-a.opts.Window), currentFrom)
	if err != nil {
		return nil, fmt.Errorf("previous signal totals: %w", err)
	}

	scored := make([]scoredProduct, 0, len(current))
	for _, p := range products {
		totals, ok := current[p.ID]
		if !ok {
			continue
		}
		scored = append(scored, scoredProduct{
			product:  p,
			current:  totals.Score(),
			previous: previous[p.ID].Score(),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].current != scored[j].current {
			return scored[i].current > scored[j].current
		}
		return scored[i].product.ID < scored[j].product.ID
	})
	if len(scored) > a.opts.TopN {
		scored = scored[:a.opts.TopN]
	}
	return scored, nil
}

// wasOutOfStock reports whether any currently active offer was last seen
// unavailable at or before cutoff.
func (a *Aggregator) wasOutOfStock(ctx context.Context, offers []domain.Offer, cutoff time.Time) (bool, error) {
	for _, offer := range offers {
		if !offer.IsActive {
			continue
		}
		snap, err := a.prices.LatestSnapshotAtOrBefore(ctx, offer.ID, cutoff)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if !snap.IsAvailable {
			return true, nil
		}
	}
	return false, nil
}
