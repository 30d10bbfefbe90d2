package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/storage"
)

var base = time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

func TestSignalTotalsHalfOpenWindow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for _, sig := range []domain.Signal{
		{ProductID: "p-1", Type: domain.SignalView, Value: 1, RecordedAt: base},
		{ProductID: "p-1", Type: domain.SignalView, Value: 1, RecordedAt: base.Add(time.Hour)},
		{ProductID: "p-1", Type: domain.SignalClaim, Value: 1, RecordedAt: base.Add(24 * time.Hour)},
		{ProductID: "p-2", Type: domain.SignalView, Value: 1, RecordedAt: base.Add(time.Hour)},
	} {
		require.NoError(t, s.AppendSignal(ctx, sig))
	}

	totals, err := s.SignalTotals(ctx, []string{"p-1"}, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	require.Equal(t, 2.0, totals["p-1"][domain.SignalView])
	require.Zero(t, totals["p-1"][domain.SignalClaim])
}

func TestSnapshotLookups(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.LatestSnapshot(ctx, "o-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.AppendSnapshot(ctx, domain.PriceSnapshot{PriceCents: 1}), storage.ErrInvalidInput)

	for i, price := range []int64{1500, 1200, 1300} {
		require.NoError(t, s.AppendSnapshot(ctx, domain.PriceSnapshot{
			OfferID:     "o-1",
			PriceCents:  price,
			IsAvailable: true,
			RecordedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	latest, err := s.LatestSnapshot(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(1300), latest.PriceCents)

	before, err := s.LatestSnapshotAtOrBefore(ctx, "o-1", base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1200), before.PriceCents)

	history, err := s.PriceHistory(ctx, "o-1", base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 2)

	lowest, ok, err := s.MinPrice(ctx, "o-1", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1200), lowest)

	_, ok, err = s.MinPrice(ctx, "o-2", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLatestTrendSnapshotsReturnsNewestRanking(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	band := domain.AgeBandEarly

	require.NoError(t, s.InsertTrendSnapshots(ctx, []domain.TrendSnapshot{
		{ProductID: "old", AgeBand: band, Rank: 1, SnapshotDate: base},
	}))
	require.NoError(t, s.InsertTrendSnapshots(ctx, []domain.TrendSnapshot{
		{ProductID: "b", AgeBand: band, Rank: 2, SnapshotDate: base.Add(24 * time.Hour)},
		{ProductID: "a", AgeBand: band, Rank: 1, SnapshotDate: base.Add(24 * time.Hour)},
	}))

	rows, err := s.LatestTrendSnapshots(ctx, band)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a", rows[0].ProductID)
	require.Equal(t, "b", rows[1].ProductID)

	empty, err := s.LatestTrendSnapshots(ctx, domain.AgeBandTeen)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestAlertHistoryFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertAlertHistory(ctx, []domain.AlertHistory{
		{RecipientEmail: "a@example.com", BagItemID: "bi-1", Type: domain.AlertRestock, SentAt: base},
		{RecipientEmail: "a@example.com", BagItemID: "bi-2", Type: domain.AlertRestock, SentAt: base.Add(2 * time.Hour)},
		{RecipientEmail: "b@example.com", BagItemID: "bi-3", Type: domain.AlertRestock, SentAt: base.Add(time.Hour)},
	}))

	count, err := s.CountAlertsSince(ctx, "a@example.com", base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	rows, err := s.ListAlertHistory(ctx, storage.AlertHistoryFilter{RecipientEmail: "a@example.com", Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "bi-2", rows[0].BagItemID)
	require.NotEmpty(t, rows[0].ID)
}

func TestCatalogLookups(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.PutProduct(domain.Product{ID: "p-2", AgeBand: domain.AgeBandEarly})
	s.PutProduct(domain.Product{ID: "p-1", AgeBand: domain.AgeBandEarly})
	s.PutProduct(domain.Product{ID: "p-3", AgeBand: domain.AgeBandTeen})
	s.PutOffer(domain.Offer{ID: "o-2", ProductID: "p-1", PriceCents: 800, IsActive: true})
	s.PutOffer(domain.Offer{ID: "o-1", ProductID: "p-1", PriceCents: 800, IsActive: true})
	s.PutOffer(domain.Offer{ID: "o-3", ProductID: "p-1", PriceCents: 100, IsActive: false})

	products, err := s.ProductsInAgeBand(ctx, domain.AgeBandEarly)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "p-1", products[0].ID)

	offers, err := s.ActiveOffers(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	require.Equal(t, "o-1", offers[0].ID)

	_, err = s.BagOwner(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.RecipientEmail(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertTrendSnapshotsReplacesSameInstant(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	band := domain.AgeBandEarly

	require.NoError(t, s.InsertTrendSnapshots(ctx, []domain.TrendSnapshot{
		{ProductID: "a", AgeBand: band, Rank: 1, SnapshotDate: base},
		{ProductID: "b", AgeBand: band, Rank: 2, SnapshotDate: base},
		{ProductID: "z", AgeBand: domain.AgeBandTeen, Rank: 1, SnapshotDate: base},
	}))
	require.NoError(t, s.InsertTrendSnapshots(ctx, []domain.TrendSnapshot{
		{ProductID: "b", AgeBand: band, Rank: 1, SnapshotDate: base},
	}))

	rows, err := s.LatestTrendSnapshots(ctx, band)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "b", rows[0].ProductID)
	require.Len(t, s.TrendSnapshots(domain.AgeBandTeen), 1)
}
