package trends

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/storage/memory"
)

var runAt = time.Date(2024, 12, 1, 2, 0, 0, 0, time.UTC)

func newAggregator(store *memory.Store) *Aggregator {
	return NewAggregator(store, store, store, store, Options{}, zerolog.Nop())
}

func addSignals(t *testing.T, store *memory.Store, productID string, typ domain.SignalType, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.AppendSignal(context.Background(), domain.Signal{
			ProductID:  productID,
			Type:       typ,
			Value:      1,
			RecordedAt: at.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestComputeTrendsEndToEndRising(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p-1", Title: "Marble Run", AgeBand: domain.AgeBandEarly})
	store.PutOffer(domain.Offer{ID: "o-1", ProductID: "p-1", MerchantName: "ToyCo", PriceCents: 4500, CommissionRateBps: 500, IsActive: true})

	current := runAt.Add(-6 * time.Hour)
	addSignals(t, store, "p-1", domain.SignalView, 10, current)
	addSignals(t, store, "p-1", domain.SignalAddToBag, 2, current)
	addSignals(t, store, "p-1", domain.SignalClaim, 1, current)
	addSignals(t, store, "p-1", domain.SignalView, 10, runAt.Add(-30*time.Hour))

	report, err := newAggregator(store).ComputeTrends(context.Background(), runAt)
	require.NoError(t, err)
	require.Equal(t, len(domain.AgeBands()), report.Processed)
	require.Empty(t, report.Failed)
	require.Equal(t, 1, report.Rows)

	rows := store.TrendSnapshots(domain.AgeBandEarly)
	require.Len(t, rows, 1)
	require.Equal(t, "p-1", rows[0].ProductID)
	require.Equal(t, 1, rows[0].Rank)
	require.Equal(t, 21.0, rows[0].TrendScore)
	require.Equal(t, []domain.Badge{domain.BadgeRising}, rows[0].Badges)
	require.True(t, rows[0].SnapshotDate.Equal(runAt))
}

func TestComputeTrendsDenseTopTen(t *testing.T) {
	store := memory.NewStore()
	for i := 1; i <= 12; i++ {
		id := fmt.Sprintf("p-%02d", i)
		store.PutProduct(domain.Product{ID: id, AgeBand: domain.AgeBandMiddle})
		addSignals(t, store, id, domain.SignalView, i, runAt.Add(-2*time.Hour))
	}
	store.PutProduct(domain.Product{ID: "p-silent", AgeBand: domain.AgeBandMiddle})

	_, err := newAggregator(store).ComputeTrends(context.Background(), runAt)
	require.NoError(t, err)

	rows := store.TrendSnapshots(domain.AgeBandMiddle)
	require.Len(t, rows, 10)
	for i, row := range rows {
		require.Equal(t, i+1, row.Rank)
		require.NotEqual(t, "p-silent", row.ProductID)
		if i > 0 {
			require.Greater(t, rows[i-1].TrendScore, row.TrendScore)
		}
	}
	require.Equal(t, "p-12", rows[0].ProductID)
	require.Equal(t, "p-03", rows[9].ProductID)
}

func TestComputeTrendsTieBreakByProductID(t *testing.T) {
	store := memory.NewStore()
	for _, id := range []string{"p-b", "p-a", "p-c"} {
		store.PutProduct(domain.Product{ID: id, AgeBand: domain.AgeBandTween})
		addSignals(t, store, id, domain.SignalShare, 1, runAt.Add(-time.Hour))
	}

	_, err := newAggregator(store).ComputeTrends(context.Background(), runAt)
	require.NoError(t, err)

	rows := store.TrendSnapshots(domain.AgeBandTween)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"p-a", "p-b", "p-c"}, []string{rows[0].ProductID, rows[1].ProductID, rows[2].ProductID})
}

func TestComputeTrendsSignalWindowBoundaries(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p-1", AgeBand: domain.AgeBandTeen})
	ctx := context.Background()

	// at-24h belongs to the current window, at itself does not
	require.NoError(t, store.AppendSignal(ctx, domain.Signal{ProductID: "p-1", Type: domain.SignalClaim, Value: 1, RecordedAt: runAt.Add(-24 * time.Hour)}))
	require.NoError(t, store.AppendSignal(ctx, domain.Signal{ProductID: "p-1", Type: domain.SignalClaim, Value: 1, RecordedAt: runAt}))

	_, err := newAggregator(store).ComputeTrends(ctx, runAt)
	require.NoError(t, err)

	rows := store.TrendSnapshots(domain.AgeBandTeen)
	require.Len(t, rows, 1)
	require.Equal(t, 5.0, rows[0].TrendScore)
	require.NotContains(t, rows[0].Badges, domain.BadgeRising)
}

func TestComputeTrendsBackInStock(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	store.PutProduct(domain.Product{ID: "p-1", AgeBand: domain.AgeBandToddler})
	store.PutProduct(domain.Product{ID: "p-2", AgeBand: domain.AgeBandToddler})
	store.PutOffer(domain.Offer{ID: "o-1", ProductID: "p-1", PriceCents: 5000, IsActive: true})
	store.PutOffer(domain.Offer{ID: "o-2", ProductID: "p-2", PriceCents: 5000, IsActive: true})
	addSignals(t, store, "p-1", domain.SignalView, 2, runAt.Add(-time.Hour))
	addSignals(t, store, "p-2", domain.SignalView, 1, runAt.Add(-time.Hour))

	require.NoError(t, store.AppendSnapshot(ctx, domain.PriceSnapshot{OfferID: "o-1", PriceCents: 5000, IsAvailable: false, RecordedAt: runAt.Add(-30 * time.Hour)}))
	require.NoError(t, store.AppendSnapshot(ctx, domain.PriceSnapshot{OfferID: "o-2", PriceCents: 5000, IsAvailable: true, RecordedAt: runAt.Add(-30 * time.Hour)}))

	_, err := newAggregator(store).ComputeTrends(ctx, runAt)
	require.NoError(t, err)

	rows := store.TrendSnapshots(domain.AgeBandToddler)
	require.Len(t, rows, 2)
	require.Equal(t, "p-1", rows[0].ProductID)
	require.Contains(t, rows[0].Badges, domain.BadgeBackInStock)
	require.NotContains(t, rows[1].Badges, domain.BadgeBackInStock)
}

func TestComputeTrendsEmptyBandKeepsPreviousSnapshot(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	store.PutProduct(domain.Product{ID: "p-1", AgeBand: domain.AgeBandInfant})

	earlier := runAt.Add(-24 * time.Hour)
	require.NoError(t, store.InsertTrendSnapshots(ctx, []domain.TrendSnapshot{
		{ProductID: "p-1", AgeBand: domain.AgeBandInfant, Rank: 1, TrendScore: 3, SnapshotDate: earlier},
	}))

	report, err := newAggregator(store).ComputeTrends(ctx, runAt)
	require.NoError(t, err)
	require.Zero(t, report.Rows)

	latest, err := NewReader(store, store).LatestTrends(ctx, domain.AgeBandInfant)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.True(t, latest[0].AsOf.Equal(earlier))
}

type flakyCatalog struct {
	*memory.Store
	failBand domain.AgeBand
}

func (f flakyCatalog) ProductsInAgeBand(ctx context.Context, band domain.AgeBand) ([]domain.Product, error) {
	if band == f.failBand || f.failBand == "*" {
		return nil, errors.New("catalog unavailable")
	}
	return f.Store.ProductsInAgeBand(ctx, band)
}

func TestComputeTrendsIsolatesBandFailures(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p-1", AgeBand: domain.AgeBandEarly})
	addSignals(t, store, "p-1", domain.SignalClick, 1, runAt.Add(-time.Hour))

	catalog := flakyCatalog{Store: store, failBand: domain.AgeBandInfant}
	agg := NewAggregator(catalog, store, store, store, Options{}, zerolog.Nop())

	report, err := agg.ComputeTrends(context.Background(), runAt)
	require.NoError(t, err)
	require.Equal(t, []domain.AgeBand{domain.AgeBandInfant}, report.Failed)
	require.Equal(t, len(domain.AgeBands())-1, report.Processed)
	require.Len(t, store.TrendSnapshots(domain.AgeBandEarly), 1)
}

func TestComputeTrendsFailsWhenEveryBandFails(t *testing.T) {
	store := memory.NewStore()
	agg := NewAggregator(flakyCatalog{Store: store, failBand: "*"}, store, store, store, Options{}, zerolog.Nop())

	report, err := agg.ComputeTrends(context.Background(), runAt)
	require.Error(t, err)
	require.Zero(t, report.Processed)
	require.Len(t, report.Failed, len(domain.AgeBands()))
}

type recordingInvalidator struct {
	bands []domain.AgeBand
}

func (r *recordingInvalidator) Invalidate(_ context.Context, band domain.AgeBand) error {
	r.bands = append(r.bands, band)
	return nil
}

func TestComputeTrendsInvalidatesWrittenBands(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p-1", AgeBand: domain.AgeBandEarly})
	addSignals(t, store, "p-1", domain.SignalView, 1, runAt.Add(-time.Hour))

	inv := &recordingInvalidator{}
	_, err := newAggregator(store).WithInvalidator(inv).ComputeTrends(context.Background(), runAt)
	require.NoError(t, err)
	require.Equal(t, []domain.AgeBand{domain.AgeBandEarly}, inv.bands)
}

func TestComputeTrendsRerunAtSameInstantReplacesRanking(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p-1", Title: "Kite", AgeBand: domain.AgeBandMiddle})
	store.PutProduct(domain.Product{ID: "p-2", Title: "Yo-yo", AgeBand: domain.AgeBandMiddle})
	addSignals(t, store, "p-1", domain.SignalView, 3, runAt.Add(-2*time.Hour))
	addSignals(t, store, "p-2", domain.SignalView, 1, runAt.Add(-2*time.Hour))

	agg := newAggregator(store)
	_, err := agg.ComputeTrends(context.Background(), runAt)
	require.NoError(t, err)
	_, err = agg.ComputeTrends(context.Background(), runAt)
	require.NoError(t, err)

	rows := store.TrendSnapshots(domain.AgeBandMiddle)
	require.Len(t, rows, 2)
	require.Equal(t, 1, rows[0].Rank)
	require.Equal(t, 2, rows[1].Rank)
}

func TestComputeTrendsPastInstantUsesCurrentOffers(t *testing.T) {
	store := memory.NewStore()
	past := runAt.Add(-72 * time.Hour)
	store.PutProduct(domain.Product{ID: "p-1", Title: "Puzzle", AgeBand: domain.AgeBandTween})
	store.PutOffer(domain.Offer{ID: "o-1", ProductID: "p-1", PriceCents: 2500, CommissionRateBps: 1300, IsActive: true})
	addSignals(t, store, "p-1", domain.SignalClaim, 1, past.Add(-3*time.Hour))

	_, err := newAggregator(store).ComputeTrends(context.Background(), past)
	require.NoError(t, err)

	rows := store.TrendSnapshots(domain.AgeBandTween)
	require.Len(t, rows, 1)
	require.True(t, rows[0].SnapshotDate.Equal(past))
	require.Equal(t, 5.0, rows[0].TrendScore)
	require.Equal(t, []domain.Badge{domain.BadgeHighMargin, domain.BadgeBestValue}, rows[0].Badges)
}
