package domain

import "sort"

// Product is the catalog metadata the trend pipeline needs.
type Product struct {
	ID      string
	Title   string
	AgeBand AgeBand
}

// Offer is a merchant listing for a product.
type Offer struct {
	ID                string
	ProductID         string
	MerchantName      string
	PriceCents        int64
	CommissionRateBps int64
	IsActive          bool
}

// BestOffer returns the cheapest active offer, ties broken by offer ID.
func BestOffer(offers []Offer) (Offer, bool) {
	active := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.IsActive {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return Offer{}, false
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].PriceCents != active[j].PriceCents {
			return active[i].PriceCents < active[j].PriceCents
		}
		return active[i].ID < active[j].ID
	})
	return active[0], true
}

// BagItem is a product offer placed in a child's bag.
type BagItem struct {
	ID           string
	BagID        string
	OfferID      string
	AlertEnabled bool
}

// BagOwner resolves a bag to the child and parent account owning it.
type BagOwner struct {
	BagID         string
	ChildNickname string
	UserID        string
}
