package trends

import "kringlewatch/internal/domain"

const (
	risingFactor      = 1.5
	highMarginMinBps  = 1200
	bestValueMaxCents = 3000
	bestValueMinBps   = 800
)

// BadgeInput carries the offer-side facts badge derivation needs.
type BadgeInput struct {
	// BestOffer is the cheapest active offer, nil when the product has none.
	BestOffer     *domain.Offer
	WasOutOfStock bool
}

// AssignBadges derives the badges of a ranked product. Badges come back in a
// fixed order: Rising, Back in Stock, High Margin, Best Value.
func AssignBadges(current, previous float64, in BadgeInput) []domain.Badge {
	badges := make([]domain.Badge, 0, 4)

	if previous > 0 && current >= risingFactor*previous {
		badges = append(badges, domain.BadgeRising)
	}

	best := in.BestOffer
	if best == nil {
		return badges
	}

	if in.WasOutOfStock {
		badges = append(badges, domain.BadgeBackInStock)
	}
	if best.CommissionRateBps >= highMarginMinBps {
		badges = append(badges, domain.BadgeHighMargin)
	}
	if best.PriceCents < bestValueMaxCents && best.CommissionRateBps >= bestValueMinBps {
		badges = append(badges, domain.BadgeBestValue)
	}
	return badges
}
