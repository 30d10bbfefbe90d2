package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"kringlewatch/internal/config"
	"kringlewatch/internal/domain"
	"kringlewatch/internal/storage"
	"kringlewatch/internal/storage/migrations"
)

func setupStore(t *testing.T) *storage.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("kringlewatch"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := storage.NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)

	applied, err := migrations.RunPostgres(ctx, pool)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	store := storage.NewStore(pool)
	t.Cleanup(store.Close)
	return store
}

func seedCatalog(t *testing.T, store *storage.Store) {
	t.Helper()
	stmts := []string{
		`INSERT INTO users (id, email) VALUES ('u-1', 'parent@example.com')`,
		`INSERT INTO children (id, user_id, nickname) VALUES ('c-1', 'u-1', 'Mia')`,
		`INSERT INTO bags (id, child_id) VALUES ('bag-1', 'c-1')`,
		`INSERT INTO products (id, title, age_band) VALUES ('p-1', 'Magna-Tiles', '5-7'), ('p-2', 'Scooter', '8-10')`,
		`INSERT INTO merchants (id, name) VALUES ('m-1', 'ToyCo')`,
		`INSERT INTO product_offers (id, product_id, merchant_id, price_cents, commission_rate_bps, is_active)
		 VALUES ('o-1', 'p-1', 'm-1', 1000, 1200, TRUE), ('o-2', 'p-1', NULL, 900, 0, FALSE)`,
		`INSERT INTO bag_items (id, bag_id, product_offer_id, alert_enabled)
		 VALUES ('bi-1', 'bag-1', 'o-1', TRUE), ('bi-2', 'bag-1', 'o-2', FALSE)`,
	}
	for _, stmt := range stmts {
		_, err := store.Pool().Exec(context.Background(), stmt)
		require.NoError(t, err)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store := setupStore(t)
	seedCatalog(t, store)
	ctx := context.Background()
	at := time.Date(2024, 12, 1, 2, 0, 0, 0, time.UTC)

	products, err := store.ProductsInAgeBand(ctx, domain.AgeBandEarly)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "Magna-Tiles", products[0].Title)

	offers, err := store.ActiveOffers(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, "ToyCo", offers[0].MerchantName)

	items, err := store.AlertEnabledItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	owner, err := store.BagOwner(ctx, "bag-1")
	require.NoError(t, err)
	require.Equal(t, "Mia", owner.ChildNickname)

	email, err := store.RecipientEmail(ctx, owner.UserID)
	require.NoError(t, err)
	require.Equal(t, "parent@example.com", email)

	_, err = store.Product(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.AppendSignal(ctx, domain.Signal{ProductID: "p-1", Type: domain.SignalClaim, Value: 2, RecordedAt: at.Add(-time.Hour)}))
	require.NoError(t, store.AppendSignal(ctx, domain.Signal{ProductID: "p-1", Type: domain.SignalView, Value: 1, RecordedAt: at}))
	totals, err := store.SignalTotals(ctx, []string{"p-1"}, at.Add(-24*time.Hour), at)
	require.NoError(t, err)
	require.InDelta(t, 10.0, totals["p-1"].Score(), 1e-9)

	require.NoError(t, store.AppendSnapshot(ctx, domain.PriceSnapshot{OfferID: "o-1", PriceCents: 1000, IsAvailable: true, RecordedAt: at.Add(-2 * time.Hour)}))
	require.NoError(t, store.AppendSnapshot(ctx, domain.PriceSnapshot{OfferID: "o-1", PriceCents: 800, IsAvailable: true, RecordedAt: at}))
	latest, err := store.LatestSnapshot(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(800), latest.PriceCents)
	before, err := store.LatestSnapshotAtOrBefore(ctx, "o-1", at.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1000), before.PriceCents)
	lowest, ok, err := store.MinPrice(ctx, "o-1", at.Add(-3*time.Hour), at)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(800), lowest)

	rows := []domain.TrendSnapshot{
		{ProductID: "p-1", AgeBand: domain.AgeBandEarly, Rank: 1, TrendScore: 10, Badges: []domain.Badge{domain.BadgeHighMargin}, SnapshotDate: at},
	}
	require.NoError(t, store.InsertTrendSnapshots(ctx, rows))
	latestTrends, err := store.LatestTrendSnapshots(ctx, domain.AgeBandEarly)
	require.NoError(t, err)
	require.Len(t, latestTrends, 1)
	require.Equal(t, []domain.Badge{domain.BadgeHighMargin}, latestTrends[0].Badges)

	require.NoError(t, store.InsertTrendSnapshots(ctx, []domain.TrendSnapshot{
		{ProductID: "p-1", AgeBand: domain.AgeBandEarly, Rank: 1, TrendScore: 12, SnapshotDate: at},
	}))
	rerun, err := store.LatestTrendSnapshots(ctx, domain.AgeBandEarly)
	require.NoError(t, err)
	require.Len(t, rerun, 1)
	require.Equal(t, 12.0, rerun[0].TrendScore)

	drop := int64(200)
	require.NoError(t, store.InsertAlertHistory(ctx, []domain.AlertHistory{
		{RecipientEmail: "parent@example.com", BagItemID: "bi-1", Type: domain.AlertPriceDrop, SentAt: at, PriceDropCents: &drop},
	}))
	count, err := store.CountAlertsSince(ctx, "parent@example.com", at.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count)
	history, err := store.ListAlertHistory(ctx, storage.AlertHistoryFilter{RecipientEmail: "parent@example.com"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, drop, *history[0].PriceDropCents)
}

func TestPostgresAdvisoryLockIsExclusive(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	unlock, ok, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.False(t, ok)

	unlock()
	unlock2, ok, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.True(t, ok)
	unlock2()
}
