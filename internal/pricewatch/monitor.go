// Package pricewatch snapshots bag item offers and detects price drops and restocks.
package pricewatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/metrics"
	"kringlewatch/internal/storage"
)

const (
	DefaultLookback     = 24 * time.Hour
	DefaultDedupeWindow = 30 * time.Minute
)

// Options tune detection.
type Options struct {
	// Lookback is how far back the comparison snapshot must lie.
	Lookback time.Duration
	// DedupeWindow suppresses repeat events when the previous snapshot is
	// this recent and unchanged.
	DedupeWindow time.Duration
}

// Monitor walks alert-enabled bag items once per run.
type Monitor struct {
	items      storage.BagItemSource
	catalog    storage.Catalog
	recipients storage.RecipientDirectory
	prices     storage.PriceHistoryStore
	opts       Options
	logger     zerolog.Logger
}

// NewMonitor constructs a Monitor.
func NewMonitor(items storage.BagItemSource, catalog storage.Catalog, recipients storage.RecipientDirectory, prices storage.PriceHistoryStore, opts Options, logger zerolog.Logger) *Monitor {
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.DedupeWindow < 0 {
		opts.DedupeWindow = 0
	}
	return &Monitor{
		items:      items,
		catalog:    catalog,
		recipients: recipients,
		prices:     prices,
		opts:       opts,
		logger:     logger.With().Str("component", "price_monitor").Logger(),
	}
}

// MonitorPrices snapshots every offer referenced by an alert-enabled item once
// at time at and returns the detected events, one per affected bag item.
// Per-offer and per-item failures are logged and skipped.
func (m *Monitor) MonitorPrices(ctx context.Context, at time.Time) ([]domain.PriceAlertEvent, error) {
	items, err := m.items.AlertEnabledItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alert-enabled items: %w", err)
	}

	var (
		events  []domain.PriceAlertEvent
		skipped int
		failed  int
	)
	fail := func(item domain.BagItem, err error) {
		if errors.Is(err, storage.ErrNotFound) {
			skipped++
			metrics.RecordMonitoredItem("skipped")
			m.logger.Warn().Err(err).Str("bag_item_id", item.ID).Msg("skipping bag item with missing reference")
			return
		}
		failed++
		metrics.RecordMonitoredItem("failed")
		m.logger.Error().Err(err).Str("bag_item_id", item.ID).Msg("failed to check bag item")
	}

	order, byOffer := groupByOffer(items)
	for _, offerID := range order {
		check, err := m.checkOffer(ctx, offerID, at)
		if err != nil {
			for _, item := range byOffer[offerID] {
				fail(item, err)
			}
			continue
		}

		for _, item := range byOffer[offerID] {
			itemEvents, err := m.itemEvents(ctx, item, check)
			if err != nil {
				fail(item, err)
				continue
			}
			metrics.RecordMonitoredItem("checked")
			for _, ev := range itemEvents {
				metrics.RecordAlert(string(ev.Type))
			}
			events = append(events, itemEvents...)
		}
	}

	m.logger.Info().
		Time("at", at).
		Int("items", len(items)).
		Int("offers", len(order)).
		Int("skipped", skipped).
		Int("failed", failed).
		Int("events", len(events)).
		Msg("price monitoring finished")
	return events, nil
}

// offerCheck is the per-run outcome for one offer, shared by every bag item on it.
type offerCheck struct {
	offer    domain.Offer
	product  domain.Product
	current  domain.PriceSnapshot
	baseline domain.PriceSnapshot
	drop     bool
	restock  bool
}

// groupByOffer buckets items by offer ID in first-seen order.
func groupByOffer(items []domain.BagItem) ([]string, map[string][]domain.BagItem) {
	var order []string
	grouped := make(map[string][]domain.BagItem)
	for _, item := range items {
		if _, ok := grouped[item.OfferID]; !ok {
			order = append(order, item.OfferID)
		}
		grouped[item.OfferID] = append(grouped[item.OfferID], item)
	}
	return order, grouped
}

// checkOffer appends exactly one snapshot for the offer and decides drop and restock.
func (m *Monitor) checkOffer(ctx context.Context, offerID string, at time.Time) (offerCheck, error) {
	offer, err := m.catalog.Offer(ctx, offerID)
	if err != nil {
		return offerCheck{}, fmt.Errorf("offer %s: %w", offerID, err)
	}
	product, err := m.catalog.Product(ctx, offer.ProductID)
	if err != nil {
		return offerCheck{}, fmt.Errorf("product %s: %w", offer.ProductID, err)
	}

	prior, hasPrior, err := m.lookup(m.prices.LatestSnapshot(ctx, offer.ID))
	if err != nil {
		return offerCheck{}, fmt.Errorf("latest snapshot: %w", err)
	}
	baseline, hasBaseline, err := m.lookup(m.prices.LatestSnapshotAtOrBefore(ctx, offer.ID, at.Add(-m.opts.Lookback)))
	if err != nil {
		return offerCheck{}, fmt.Errorf("baseline snapshot: %w", err)
	}

	current := domain.PriceSnapshot{
		OfferID:     offer.ID,
		PriceCents:  offer.PriceCents,
		IsAvailable: offer.IsActive,
		RecordedAt:  at,
	}
	if err := m.prices.AppendSnapshot(ctx, current); err != nil {
		return offerCheck{}, fmt.Errorf("append snapshot: %w", err)
	}

	check := offerCheck{offer: offer, product: product, current: current, baseline: baseline}
	if !hasBaseline || (hasPrior && m.isRepeat(prior, current)) {
		return check, nil
	}
	check.drop = current.PriceCents < baseline.PriceCents
	check.restock = current.IsAvailable && !baseline.IsAvailable
	return check, nil
}

// itemEvents resolves the item's recipient and emits the offer's events for it.
func (m *Monitor) itemEvents(ctx context.Context, item domain.BagItem, check offerCheck) ([]domain.PriceAlertEvent, error) {
	if !check.drop && !check.restock {
		return nil, nil
	}
	owner, err := m.items.BagOwner(ctx, item.BagID)
	if err != nil {
		return nil, fmt.Errorf("bag %s: %w", item.BagID, err)
	}
	email, err := m.recipients.RecipientEmail(ctx, owner.UserID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", owner.UserID, err)
	}

	base := domain.PriceAlertEvent{
		BagItemID:      item.ID,
		OfferID:        check.offer.ID,
		RecipientID:    owner.UserID,
		RecipientEmail: email,
		SubjectLabel:   owner.ChildNickname,
		ProductTitle:   check.product.Title,
		NewPriceCents:  check.current.PriceCents,
		MerchantName:   check.offer.MerchantName,
	}

	var events []domain.PriceAlertEvent
	if check.drop {
		ev := base
		ev.Type = domain.AlertPriceDrop
		old := check.baseline.PriceCents
		pct := DropPercentage(old, check.current.PriceCents)
		ev.OldPriceCents = &old
		ev.DropPercentage = &pct
		events = append(events, ev)
	}
	if check.restock {
		ev := base
		ev.Type = domain.AlertRestock
		events = append(events, ev)
	}
	return events, nil
}

func (m *Monitor) lookup(snap domain.PriceSnapshot, err error) (domain.PriceSnapshot, bool, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return domain.PriceSnapshot{}, false, nil
	}
	if err != nil {
		return domain.PriceSnapshot{}, false, err
	}
	return snap, true, nil
}

// isRepeat reports whether current merely repeats a snapshot taken moments ago.
func (m *Monitor) isRepeat(prior, current domain.PriceSnapshot) bool {
	if prior.PriceCents != current.PriceCents || prior.IsAvailable != current.IsAvailable {
		return false
	}
	age := current.RecordedAt.Sub(prior.RecordedAt)
	return age >= 0 && age < m.opts.DedupeWindow
}

// DropPercentage returns (old-new)/old*100 rounded half away from zero.
func DropPercentage(oldCents, newCents int64) int64 {
	if oldCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(oldCents - newCents).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(oldCents)).
		Round(0).
		IntPart()
}
