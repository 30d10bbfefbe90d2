package domain

import "time"

// PriceSnapshot records an offer's price and availability at a point in time.
type PriceSnapshot struct {
	OfferID     string
	PriceCents  int64
	IsAvailable bool
	RecordedAt  time.Time
}

// AlertType distinguishes the two alert kinds.
type AlertType string

const (
	AlertPriceDrop AlertType = "PRICE_DROP"
	AlertRestock   AlertType = "RESTOCK"
)

// PriceAlertEvent is a detected drop or restock awaiting dispatch.
type PriceAlertEvent struct {
	BagItemID      string
	OfferID        string
	RecipientID    string
	RecipientEmail string
	SubjectLabel   string
	ProductTitle   string
	Type           AlertType
	OldPriceCents  *int64
	NewPriceCents  int64
	DropPercentage *int64
	MerchantName   string
}

// PriceDropCents returns old-new for price drops, nil otherwise.
func (e PriceAlertEvent) PriceDropCents() *int64 {
	if e.Type != AlertPriceDrop || e.OldPriceCents == nil {
		return nil
	}
	drop := *e.OldPriceCents - e.NewPriceCents
	return &drop
}

// AlertHistory is a persisted record of a dispatched alert.
type AlertHistory struct {
	ID             string
	RecipientEmail string
	BagItemID      string
	Type           AlertType
	SentAt         time.Time
	PriceDropCents *int64
}
