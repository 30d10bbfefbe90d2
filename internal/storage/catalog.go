package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kringlewatch/internal/domain"
)

const (
	productsInAgeBandSQL = `SELECT id, title, age_band
    FROM products
    WHERE age_band = $1
    ORDER BY id;`

	productByIDSQL = `SELECT id, title, age_band FROM products WHERE id = $1;`

	offerColumns = `o.id,
        o.product_id,
        COALESCE(m.name, ''),
        o.price_cents,
        o.commission_rate_bps,
        o.is_active`

	offerByIDSQL = `SELECT ` + offerColumns + `
    FROM product_offers o
    LEFT JOIN merchants m ON m.id = o.merchant_id
    WHERE o.id = $1;`

	activeOffersSQL = `SELECT ` + offerColumns + `
    FROM product_offers o
    LEFT JOIN merchants m ON m.id = o.merchant_id
    WHERE o.product_id = $1
      AND o.is_active
    ORDER BY o.price_cents ASC, o.id ASC;`

	alertEnabledItemsSQL = `SELECT id, bag_id, product_offer_id, alert_enabled
    FROM bag_items
    WHERE alert_enabled
    ORDER BY id;`

	bagOwnerSQL = `SELECT b.id, c.nickname, c.user_id
    FROM bags b
    JOIN children c ON c.id = b.child_id
    WHERE b.id = $1;`

	recipientEmailSQL = `SELECT email FROM users WHERE id = $1;`
)

// ProductsInAgeBand lists products targeted at a band.
func (s *Store) ProductsInAgeBand(ctx context.Context, band domain.AgeBand) ([]domain.Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, productsInAgeBandSQL, string(band))
	if err != nil {
		return nil, fmt.Errorf("query products in age band: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// Product looks up a product by ID.
func (s *Store) Product(ctx context.Context, productID string) (domain.Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Product{}, err
	}
	p, err := scanProduct(pool.QueryRow(ctx, productByIDSQL, productID))
	if err != nil {
		return domain.Product{}, notFound(err, "product "+productID)
	}
	return p, nil
}

// Offer looks up an offer with its merchant name.
func (s *Store) Offer(ctx context.Context, offerID string) (domain.Offer, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Offer{}, err
	}
	o, err := scanOffer(pool.QueryRow(ctx, offerByIDSQL, offerID))
	if err != nil {
		return domain.Offer{}, notFound(err, "offer "+offerID)
	}
	return o, nil
}

// ActiveOffers lists a product's active offers, cheapest first.
func (s *Store) ActiveOffers(ctx context.Context, productID string) ([]domain.Offer, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, activeOffersSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("query active offers: %w", err)
	}
	defer rows.Close()

	offers := make([]domain.Offer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

// AlertEnabledItems lists bag items subscribed to price alerts.
func (s *Store) AlertEnabledItems(ctx context.Context) ([]domain.BagItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, alertEnabledItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("query alert enabled items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.BagItem, 0)
	for rows.Next() {
		var item domain.BagItem
		if err := rows.Scan(&item.ID, &item.BagID, &item.OfferID, &item.AlertEnabled); err != nil {
			return nil, fmt.Errorf("scan bag item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// BagOwner resolves the child and account behind a bag.
func (s *Store) BagOwner(ctx context.Context, bagID string) (domain.BagOwner, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.BagOwner{}, err
	}
	var owner domain.BagOwner
	if err := pool.QueryRow(ctx, bagOwnerSQL, bagID).Scan(&owner.BagID, &owner.ChildNickname, &owner.UserID); err != nil {
		return domain.BagOwner{}, notFound(err, "bag "+bagID)
	}
	return owner, nil
}

// RecipientEmail resolves a user's e-mail address.
func (s *Store) RecipientEmail(ctx context.Context, userID string) (string, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}
	var email string
	if err := pool.QueryRow(ctx, recipientEmailSQL, userID).Scan(&email); err != nil {
		return "", notFound(err, "user "+userID)
	}
	return email, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		p    domain.Product
		band string
	)
	if err := row.Scan(&p.ID, &p.Title, &band); err != nil {
		return domain.Product{}, err
	}
	p.AgeBand = domain.AgeBand(band)
	return p, nil
}

func scanOffer(row pgx.Row) (domain.Offer, error) {
	var o domain.Offer
	if err := row.Scan(&o.ID, &o.ProductID, &o.MerchantName, &o.PriceCents, &o.CommissionRateBps, &o.IsActive); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}
