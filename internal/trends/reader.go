package trends

import (
	"context"
	"errors"
	"fmt"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/storage"
)

// Source serves the latest ranking of an age band.
type Source interface {
	LatestTrends(ctx context.Context, band domain.AgeBand) ([]domain.TrendingProduct, error)
}

// Reader serves persisted rankings straight from the stores.
type Reader struct {
	trends  storage.TrendStore
	catalog storage.Catalog
}

// NewReader constructs a store-backed Reader.
func NewReader(trendStore storage.TrendStore, catalog storage.Catalog) *Reader {
	return &Reader{trends: trendStore, catalog: catalog}
}

// LatestTrends returns the most recent ranking of band ordered by rank, each
// row enriched with its product title and cheapest active offer. A band that
// has never been computed yields an empty slice.
func (r *Reader) LatestTrends(ctx context.Context, band domain.AgeBand) ([]domain.TrendingProduct, error) {
	if _, err := domain.ParseAgeBand(string(band)); err != nil {
		return nil, err
	}

	rows, err := r.trends.LatestTrendSnapshots(ctx, band)
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}

	out := make([]domain.TrendingProduct, 0, len(rows))
	for _, row := range rows {
		item := domain.TrendingProduct{
			Rank:      row.Rank,
			ProductID: row.ProductID,
			Score:     row.TrendScore,
			Badges:    row.Badges,
			AsOf:      row.SnapshotDate,
		}

		product, err := r.catalog.Product(ctx, row.ProductID)
		switch {
		case err == nil:
			item.Title = product.Title
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("load product %s: %w", row.ProductID, err)
		}

		offers, err := r.catalog.ActiveOffers(ctx, row.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load offers for %s: %w", row.ProductID, err)
		}
		if best, ok := domain.BestOffer(offers); ok {
			item.BestOffer = &best
		}

		out = append(out, item)
	}
	return out, nil
}

// AllBands calls LatestTrends once per known age band.
func AllBands(ctx context.Context, src Source) (map[domain.AgeBand][]domain.TrendingProduct, error) {
	out := make(map[domain.AgeBand][]domain.TrendingProduct, len(domain.AgeBands()))
	for _, band := range domain.AgeBands() {
		items, err := src.LatestTrends(ctx, band)
		if err != nil {
			return nil, fmt.Errorf("age band %s: %w", band, err)
		}
		out[band] = items
	}
	return out, nil
}

// AllBands returns the latest ranking of every age band.
func (r *Reader) AllBands(ctx context.Context) (map[domain.AgeBand][]domain.TrendingProduct, error) {
	return AllBands(ctx, r)
}
