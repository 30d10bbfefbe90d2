// Package memory provides in-memory stores used by tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/storage"
)

// Store keeps every pipeline record in process memory.
type Store struct {
	mu sync.RWMutex

	signals   []domain.Signal
	snapshots []domain.PriceSnapshot
	trends    []domain.TrendSnapshot
	history   []domain.AlertHistory

	products   map[string]domain.Product
	offers     map[string]domain.Offer
	bagItems   []domain.BagItem
	bagOwners  map[string]domain.BagOwner
	recipients map[string]string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		products:   make(map[string]domain.Product),
		offers:     make(map[string]domain.Offer),
		bagOwners:  make(map[string]domain.BagOwner),
		recipients: make(map[string]string),
	}
}

var (
	_ storage.SignalStore        = (*Store)(nil)
	_ storage.PriceHistoryStore  = (*Store)(nil)
	_ storage.TrendStore         = (*Store)(nil)
	_ storage.AlertHistoryStore  = (*Store)(nil)
	_ storage.Catalog            = (*Store)(nil)
	_ storage.BagItemSource      = (*Store)(nil)
	_ storage.RecipientDirectory = (*Store)(nil)
)

// PutProduct adds or replaces a catalog product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// PutOffer adds or replaces an offer.
func (s *Store) PutOffer(o domain.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = o
}

// PutBagItem appends a bag item.
func (s *Store) PutBagItem(item domain.BagItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bagItems = append(s.bagItems, item)
}

// PutBagOwner registers the owner chain of a bag.
func (s *Store) PutBagOwner(owner domain.BagOwner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bagOwners[owner.BagID] = owner
}

// PutRecipient registers a user's e-mail.
func (s *Store) PutRecipient(userID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[userID] = email
}

// AppendSignal records one interaction signal.
func (s *Store) AppendSignal(_ context.Context, signal domain.Signal) error {
	if signal.ProductID == "" || !signal.Type.Valid() {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signal)
	return nil
}

// SignalTotals sums signal values per product and type within [from, to).
func (s *Store) SignalTotals(_ context.Context, productIDs []string, from, to time.Time) (map[string]domain.SignalTotals, error) {
	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]domain.SignalTotals)
	for _, sig := range s.signals {
		if _, ok := wanted[sig.ProductID]; !ok {
			continue
		}
		if sig.RecordedAt.Before(from) || !sig.RecordedAt.Before(to) {
			continue
		}
		if totals[sig.ProductID] == nil {
			totals[sig.ProductID] = make(domain.SignalTotals)
		}
		totals[sig.ProductID][sig.Type] += sig.Value
	}
	return totals, nil
}

// AppendSnapshot stores a price observation.
func (s *Store) AppendSnapshot(_ context.Context, snapshot domain.PriceSnapshot) error {
	if snapshot.OfferID == "" || snapshot.PriceCents < 0 {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

// Snapshots returns every stored snapshot of an offer in insertion order.
func (s *Store) Snapshots(offerID string) []domain.PriceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PriceSnapshot
	for _, snap := range s.snapshots {
		if snap.OfferID == offerID {
			out = append(out, snap)
		}
	}
	return out
}

// LatestSnapshot returns the most recent snapshot of an offer.
func (s *Store) LatestSnapshot(ctx context.Context, offerID string) (domain.PriceSnapshot, error) {
	return s.latest(offerID, func(domain.PriceSnapshot) bool { return true })
}

// LatestSnapshotAtOrBefore returns the newest snapshot recorded at or before cutoff.
func (s *Store) LatestSnapshotAtOrBefore(_ context.Context, offerID string, cutoff time.Time) (domain.PriceSnapshot, error) {
	return s.latest(offerID, func(snap domain.PriceSnapshot) bool { return !snap.RecordedAt.After(cutoff) })
}

func (s *Store) latest(offerID string, keep func(domain.PriceSnapshot) bool) (domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  domain.PriceSnapshot
		found bool
	)
	for _, snap := range s.snapshots {
		if snap.OfferID != offerID || !keep(snap) {
			continue
		}
		// later inserts win ties on recorded_at
		if !found || !snap.RecordedAt.Before(best.RecordedAt) {
			best = snap
			found = true
		}
	}
	if !found {
		return domain.PriceSnapshot{}, storage.ErrNotFound
	}
	return best, nil
}

// PriceHistory lists snapshots of an offer within [from, to], oldest first.
func (s *Store) PriceHistory(_ context.Context, offerID string, from, to time.Time) ([]domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PriceSnapshot, 0)
	for _, snap := range s.snapshots {
		if snap.OfferID != offerID {
			continue
		}
		if !from.IsZero() && snap.RecordedAt.Before(from) {
			continue
		}
		if !to.IsZero() && snap.RecordedAt.After(to) {
			continue
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// MinPrice returns the lowest recorded price in [from, to].
func (s *Store) MinPrice(ctx context.Context, offerID string, from, to time.Time) (int64, bool, error) {
	history, err := s.PriceHistory(ctx, offerID, from, to)
	if err != nil || len(history) == 0 {
		return 0, false, err
	}
	lowest := history[0].PriceCents
	for _, snap := range history[1:] {
		if snap.PriceCents < lowest {
			lowest = snap.PriceCents
		}
	}
	return lowest, true, nil
}

// InsertTrendSnapshots stores one ranking, replacing any ranking already
// stored for the same band and instant.
func (s *Store) InsertTrendSnapshots(_ context.Context, rows []domain.TrendSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.trends[:0]
	for _, existing := range s.trends {
		if !replacedBy(existing, rows) {
			kept = append(kept, existing)
		}
	}
	s.trends = kept

	for _, row := range rows {
		row.Badges = append([]domain.Badge(nil), row.Badges...)
		s.trends = append(s.trends, row)
	}
	return nil
}

func replacedBy(existing domain.TrendSnapshot, rows []domain.TrendSnapshot) bool {
	for _, row := range rows {
		if row.AgeBand == existing.AgeBand && row.SnapshotDate.Equal(existing.SnapshotDate) {
			return true
		}
	}
	return false
}

// TrendSnapshots returns every stored snapshot row of a band.
func (s *Store) TrendSnapshots(band domain.AgeBand) []domain.TrendSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TrendSnapshot
	for _, row := range s.trends {
		if row.AgeBand == band {
			out = append(out, row)
		}
	}
	return out
}

// LatestTrendSnapshots returns the newest ranking of a band ordered by rank.
func (s *Store) LatestTrendSnapshots(_ context.Context, band domain.AgeBand) ([]domain.TrendSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	for _, row := range s.trends {
		if row.AgeBand == band && row.SnapshotDate.After(latest) {
			latest = row.SnapshotDate
		}
	}

	out := make([]domain.TrendSnapshot, 0)
	if latest.IsZero() {
		return out, nil
	}
	for _, row := range s.trends {
		if row.AgeBand == band && row.SnapshotDate.Equal(latest) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// InsertAlertHistory records dispatched alerts.
func (s *Store) InsertAlertHistory(_ context.Context, rows []domain.AlertHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		s.history = append(s.history, row)
	}
	return nil
}

// CountAlertsSince counts alerts sent to a recipient at or after since.
func (s *Store) CountAlertsSince(_ context.Context, recipientEmail string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, row := range s.history {
		if row.RecipientEmail == recipientEmail && !row.SentAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ListAlertHistory lists alert history newest first.
func (s *Store) ListAlertHistory(_ context.Context, filter storage.AlertHistoryFilter) ([]domain.AlertHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AlertHistory, 0)
	for _, row := range s.history {
		if filter.RecipientEmail != "" && row.RecipientEmail != filter.RecipientEmail {
			continue
		}
		if filter.BagItemID != "" && row.BagItemID != filter.BagItemID {
			continue
		}
		if !filter.Since.IsZero() && row.SentAt.Before(filter.Since) {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ProductsInAgeBand lists products targeted at a band ordered by ID.
func (s *Store) ProductsInAgeBand(_ context.Context, band domain.AgeBand) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0)
	for _, p := range s.products {
		if p.AgeBand == band {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Product looks up a product by ID.
func (s *Store) Product(_ context.Context, productID string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return domain.Product{}, storage.ErrNotFound
	}
	return p, nil
}

// Offer looks up an offer by ID.
func (s *Store) Offer(_ context.Context, offerID string) (domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[offerID]
	if !ok {
		return domain.Offer{}, storage.ErrNotFound
	}
	return o, nil
}

// ActiveOffers lists a product's active offers, cheapest first.
func (s *Store) ActiveOffers(_ context.Context, productID string) ([]domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Offer, 0)
	for _, o := range s.offers {
		if o.ProductID == productID && o.IsActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceCents != out[j].PriceCents {
			return out[i].PriceCents < out[j].PriceCents
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AlertEnabledItems lists bag items subscribed to price alerts.
func (s *Store) AlertEnabledItems(_ context.Context) ([]domain.BagItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BagItem, 0, len(s.bagItems))
	for _, item := range s.bagItems {
		if item.AlertEnabled {
			out = append(out, item)
		}
	}
	return out, nil
}

// BagOwner resolves the owner chain of a bag.
func (s *Store) BagOwner(_ context.Context, bagID string) (domain.BagOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.bagOwners[bagID]
	if !ok {
		return domain.BagOwner{}, storage.ErrNotFound
	}
	return owner, nil
}

// RecipientEmail resolves a user's e-mail address.
func (s *Store) RecipientEmail(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email, ok := s.recipients[userID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return email, nil
}
