package storage

import (
	"context"
	"time"

	"kringlewatch/internal/domain"
)

// SignalStore is the append-only interaction log behind trend scoring.
type SignalStore interface {
	AppendSignal(ctx context.Context, signal domain.Signal) error
	// SignalTotals sums signal values per product and type over [from, to).
	// Products without signals in the window are absent from the result.
	SignalTotals(ctx context.Context, productIDs []string, from, to time.Time) (map[string]domain.SignalTotals, error)
}

// PriceHistoryStore keeps append-only offer price snapshots.
type PriceHistoryStore interface {
	AppendSnapshot(ctx context.Context, snapshot domain.PriceSnapshot) error
	LatestSnapshot(ctx context.Context, offerID string) (domain.PriceSnapshot, error)
	LatestSnapshotAtOrBefore(ctx context.Context, offerID string, cutoff time.Time) (domain.PriceSnapshot, error)
	PriceHistory(ctx context.Context, offerID string, from, to time.Time) ([]domain.PriceSnapshot, error)
	MinPrice(ctx context.Context, offerID string, from, to time.Time) (int64, bool, error)
}

// TrendStore persists and serves dated per-band rankings.
type TrendStore interface {
	InsertTrendSnapshots(ctx context.Context, rows []domain.TrendSnapshot) error
	LatestTrendSnapshots(ctx context.Context, band domain.AgeBand) ([]domain.TrendSnapshot, error)
}

// AlertHistoryFilter narrows ListAlertHistory.
type AlertHistoryFilter struct {
	RecipientEmail string
	BagItemID      string
	Since          time.Time
	Limit          int
}

// AlertHistoryStore records dispatched alerts for rate limiting and auditing.
type AlertHistoryStore interface {
	InsertAlertHistory(ctx context.Context, rows []domain.AlertHistory) error
	CountAlertsSince(ctx context.Context, recipientEmail string, since time.Time) (int, error)
	ListAlertHistory(ctx context.Context, filter AlertHistoryFilter) ([]domain.AlertHistory, error)
}

// Catalog is the read-only product/offer lookup owned by the web application.
type Catalog interface {
	ProductsInAgeBand(ctx context.Context, band domain.AgeBand) ([]domain.Product, error)
	Product(ctx context.Context, productID string) (domain.Product, error)
	Offer(ctx context.Context, offerID string) (domain.Offer, error)
	// ActiveOffers lists a product's active offers, cheapest first.
	ActiveOffers(ctx context.Context, productID string) ([]domain.Offer, error)
}

// BagItemSource enumerates alert subscriptions and resolves bag ownership.
type BagItemSource interface {
	AlertEnabledItems(ctx context.Context) ([]domain.BagItem, error)
	BagOwner(ctx context.Context, bagID string) (domain.BagOwner, error)
}

// RecipientDirectory resolves account IDs to e-mail addresses.
type RecipientDirectory interface {
	RecipientEmail(ctx context.Context, userID string) (string, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
