package domain

import "time"

// Badge is a qualitative tag attached to a trending product.
type Badge string

const (
	BadgeRising      Badge = "Rising"
	BadgeBackInStock Badge = "Back in Stock"
	BadgeHighMargin  Badge = "High Margin"
	BadgeBestValue   Badge = "Best Value"
)

// TrendSnapshot is one ranked row of a dated per-band ranking.
type TrendSnapshot struct {
	ProductID    string
	AgeBand      AgeBand
	Rank         int
	TrendScore   float64
	Badges       []Badge
	SnapshotDate time.Time
}

// TrendingProduct is a snapshot row enriched for the read path.
type TrendingProduct struct {
	Rank      int       `json:"rank"`
	ProductID string    `json:"product_id"`
	Title     string    `json:"title"`
	Score     float64   `json:"score"`
	Badges    []Badge   `json:"badges"`
	BestOffer *Offer    `json:"best_offer,omitempty"`
	AsOf      time.Time `json:"as_of"`
}
