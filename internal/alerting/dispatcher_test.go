package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/storage"
	"kringlewatch/internal/storage/memory"
)

type recordingNotifier struct {
	bundles []Bundle
	failFor map[string]bool
}

func (n *recordingNotifier) Notify(_ context.Context, b Bundle) error {
	if n.failFor[b.RecipientEmail] {
		return errors.New("smtp down")
	}
	n.bundles = append(n.bundles, b)
	return nil
}

func utcPolicy() Policy {
	p := DefaultPolicy()
	p.Location = time.UTC
	return p
}

func clockAt(hour int) func() time.Time {
	return func() time.Time { return time.Date(2024, 12, 1, hour, 30, 0, 0, time.UTC) }
}

func dropEvent(email, bagItemID string, oldCents, newCents int64) domain.PriceAlertEvent {
	pct := (oldCents - newCents) * 100 / oldCents
	return domain.PriceAlertEvent{
		BagItemID:      bagItemID,
		OfferID:        "o-" + bagItemID,
		RecipientEmail: email,
		Type:           domain.AlertPriceDrop,
		OldPriceCents:  &oldCents,
		NewPriceCents:  newCents,
		DropPercentage: &pct,
	}
}

func restockEvent(email, bagItemID string) domain.PriceAlertEvent {
	return domain.PriceAlertEvent{BagItemID: bagItemID, RecipientEmail: email, Type: domain.AlertRestock, NewPriceCents: 1200}
}

func seedHistory(t *testing.T, store *memory.Store, email string, n int, sentAt time.Time) {
	t.Helper()
	rows := make([]domain.AlertHistory, n)
	for i := range rows {
		rows[i] = domain.AlertHistory{RecipientEmail: email, BagItemID: "old", Type: domain.AlertRestock, SentAt: sentAt}
	}
	require.NoError(t, store.InsertAlertHistory(context.Background(), rows))
}

func TestBundleAndDispatchBundlesPerRecipient(t *testing.T) {
	store := memory.NewStore()
	notifier := &recordingNotifier{}
	d := NewDispatcher(store, notifier, utcPolicy(), testLogger()).WithClock(clockAt(15))

	events := []domain.PriceAlertEvent{
		dropEvent("a@example.com", "bi-1", 1000, 900),
		restockEvent("b@example.com", "bi-2"),
		restockEvent("a@example.com", "bi-3"),
	}

	report, err := d.BundleAndDispatch(context.Background(), events)
	require.NoError(t, err)
	require.Equal(t, DispatchReport{Recipients: 2, Sent: 2, HistoryRows: 3}, report)

	require.Len(t, notifier.bundles, 2)
	require.Equal(t, "a@example.com", notifier.bundles[0].RecipientEmail)
	require.Len(t, notifier.bundles[0].PriceDrops, 1)
	require.Len(t, notifier.bundles[0].Restocks, 1)
	require.Equal(t, "b@example.com", notifier.bundles[1].RecipientEmail)

	history, err := store.ListAlertHistory(context.Background(), storage.AlertHistoryFilter{RecipientEmail: "a@example.com"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, row := range history {
		require.True(t, row.SentAt.Equal(clockAt(15)()))
		require.NotEmpty(t, row.ID)
		switch row.Type {
		case domain.AlertPriceDrop:
			require.Equal(t, "bi-1", row.BagItemID)
			require.NotNil(t, row.PriceDropCents)
			require.Equal(t, int64(100), *row.PriceDropCents)
		case domain.AlertRestock:
			require.Equal(t, "bi-3", row.BagItemID)
			require.Nil(t, row.PriceDropCents)
		}
	}
}

func TestBundleAndDispatchRateLimit(t *testing.T) {
	store := memory.NewStore()
	now := clockAt(15)()
	seedHistory(t, store, "busy@example.com", 5, now.Add(-2*time.Hour))
	seedHistory(t, store, "yesterday@example.com", 5, now.Add(-20*time.Hour))

	notifier := &recordingNotifier{}
	d := NewDispatcher(store, notifier, utcPolicy(), testLogger()).WithClock(clockAt(15))

	report, err := d.BundleAndDispatch(context.Background(), []domain.PriceAlertEvent{
		dropEvent("busy@example.com", "bi-1", 1000, 900),
		dropEvent("yesterday@example.com", "bi-2", 1000, 900),
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.RateLimited)
	require.Equal(t, 1, report.Sent)

	require.Len(t, notifier.bundles, 1)
	require.Equal(t, "yesterday@example.com", notifier.bundles[0].RecipientEmail)

	busy, err := store.CountAlertsSince(context.Background(), "busy@example.com", time.Time{})
	require.NoError(t, err)
	require.Equal(t, 5, busy)
}

func TestBundleAndDispatchQuietHours(t *testing.T) {
	store := memory.NewStore()
	notifier := &recordingNotifier{}
	d := NewDispatcher(store, notifier, utcPolicy(), testLogger()).WithClock(clockAt(23))

	report, err := d.BundleAndDispatch(context.Background(), []domain.PriceAlertEvent{
		dropEvent("a@example.com", "bi-1", 1000, 900),
		restockEvent("b@example.com", "bi-2"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Deferred)
	require.Zero(t, report.Sent)
	require.Zero(t, report.HistoryRows)
	require.Empty(t, notifier.bundles)

	rows, err := store.ListAlertHistory(context.Background(), storage.AlertHistoryFilter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestBundleAndDispatchIsolatesSendFailures(t *testing.T) {
	store := memory.NewStore()
	notifier := &recordingNotifier{failFor: map[string]bool{"broken@example.com": true}}
	d := NewDispatcher(store, notifier, utcPolicy(), testLogger()).WithClock(clockAt(10))

	report, err := d.BundleAndDispatch(context.Background(), []domain.PriceAlertEvent{
		restockEvent("broken@example.com", "bi-1"),
		restockEvent("ok@example.com", "bi-2"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, 1, report.HistoryRows)

	broken, err := store.CountAlertsSince(context.Background(), "broken@example.com", time.Time{})
	require.NoError(t, err)
	require.Zero(t, broken)
}

func TestBundleAndDispatchNoEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(memory.NewStore(), notifier, utcPolicy(), testLogger())

	report, err := d.BundleAndDispatch(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, DispatchReport{}, report)
	require.Empty(t, notifier.bundles)
}

func TestPolicyIsQuiet(t *testing.T) {
	p := utcPolicy()
	cases := map[int]bool{0: true, 7: true, 8: false, 12: false, 21: false, 22: true, 23: true}
	for hour, want := range cases {
		at := time.Date(2024, 12, 1, hour, 0, 0, 0, time.UTC)
		require.Equal(t, want, p.IsQuiet(at), "hour %d", hour)
	}

	daytime := Policy{QuietStart: 12, QuietEnd: 14, Location: time.UTC}
	require.True(t, daytime.IsQuiet(time.Date(2024, 12, 1, 13, 0, 0, 0, time.UTC)))
	require.False(t, daytime.IsQuiet(time.Date(2024, 12, 1, 14, 0, 0, 0, time.UTC)))

	disabled := Policy{QuietStart: 0, QuietEnd: 0, Location: time.UTC}
	require.False(t, disabled.IsQuiet(time.Date(2024, 12, 1, 3, 0, 0, 0, time.UTC)))
}

func TestPolicyDayStartUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	p := Policy{Location: loc}

	at := time.Date(2024, 12, 2, 3, 0, 0, 0, time.UTC) // 22:00 on Dec 1 in UTC-5
	start := p.DayStart(at)
	require.True(t, start.Equal(time.Date(2024, 12, 1, 5, 0, 0, 0, time.UTC)))
}
