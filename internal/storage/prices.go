package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"kringlewatch/internal/domain"
)

const (
	insertSnapshotSQL = `INSERT INTO price_history (
        product_offer_id,
        price_cents,
        is_available,
        recorded_at
    ) VALUES ($1,$2,$3,$4);`

	latestSnapshotSQL = `SELECT product_offer_id, price_cents, is_available, recorded_at
    FROM price_history
    WHERE product_offer_id = $1
    ORDER BY recorded_at DESC
    LIMIT 1;`

	latestSnapshotBeforeSQL = `SELECT product_offer_id, price_cents, is_available, recorded_at
    FROM price_history
    WHERE product_offer_id = $1
      AND recorded_at <= $2
    ORDER BY recorded_at DESC
    LIMIT 1;`

	minPriceSQL = `SELECT MIN(price_cents)
    FROM price_history
    WHERE product_offer_id = $1
      AND recorded_at >= $2
      AND recorded_at <= $3;`
)

// AppendSnapshot stores a price observation.
func (s *Store) AppendSnapshot(ctx context.Context, snapshot domain.PriceSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if snapshot.OfferID == "" || snapshot.PriceCents < 0 {
		return ErrInvalidInput
	}

	if _, err := pool.Exec(ctx, insertSnapshotSQL,
		snapshot.OfferID,
		snapshot.PriceCents,
		snapshot.IsAvailable,
		snapshot.RecordedAt,
	); err != nil {
		return fmt.Errorf("insert price snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of an offer.
func (s *Store) LatestSnapshot(ctx context.Context, offerID string) (domain.PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	snap, err := scanSnapshot(pool.QueryRow(ctx, latestSnapshotSQL, offerID))
	if err != nil {
		return domain.PriceSnapshot{}, notFound(err, "latest price snapshot")
	}
	return snap, nil
}

// LatestSnapshotAtOrBefore returns the newest snapshot recorded at or before cutoff.
func (s *Store) LatestSnapshotAtOrBefore(ctx context.Context, offerID string, cutoff time.Time) (domain.PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	snap, err := scanSnapshot(pool.QueryRow(ctx, latestSnapshotBeforeSQL, offerID, cutoff))
	if err != nil {
		return domain.PriceSnapshot{}, notFound(err, "price snapshot before cutoff")
	}
	return snap, nil
}

// PriceHistory lists snapshots of an offer within [from, to], oldest first.
func (s *Store) PriceHistory(ctx context.Context, offerID string, from, to time.Time) ([]domain.PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	builder := psql.
		Select("product_offer_id", "price_cents", "is_available", "recorded_at").
		From("price_history").
		Where(sq.Eq{"product_offer_id": offerID}).
		OrderBy("recorded_at ASC")
	if !from.IsZero() {
		builder = builder.Where(sq.GtOrEq{"recorded_at": from})
	}
	if !to.IsZero() {
		builder = builder.Where(sq.LtOrEq{"recorded_at": to})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build price history query: %w", err)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.PriceSnapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		history = append(history, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

// MinPrice returns the lowest recorded price in [from, to]; ok is false without data.
func (s *Store) MinPrice(ctx context.Context, offerID string, from, to time.Time) (int64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}
	var min *int64
	if err := pool.QueryRow(ctx, minPriceSQL, offerID, from, to).Scan(&min); err != nil {
		return 0, false, fmt.Errorf("query min price: %w", err)
	}
	if min == nil {
		return 0, false, nil
	}
	return *min, true, nil
}

func scanSnapshot(row pgx.Row) (domain.PriceSnapshot, error) {
	var snap domain.PriceSnapshot
	if err := row.Scan(&snap.OfferID, &snap.PriceCents, &snap.IsAvailable, &snap.RecordedAt); err != nil {
		return domain.PriceSnapshot{}, err
	}
	return snap, nil
}
