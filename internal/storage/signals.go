package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"kringlewatch/internal/domain"
)

const insertSignalSQL = `INSERT INTO popularity_signals (
        product_id,
        signal_type,
        signal_value,
        recorded_at
    ) VALUES ($1,$2,$3,$4);`

// AppendSignal records one interaction signal.
func (s *Store) AppendSignal(ctx context.Context, signal domain.Signal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if signal.ProductID == "" || !signal.Type.Valid() {
		return ErrInvalidInput
	}

	if _, err := pool.Exec(ctx, insertSignalSQL,
		signal.ProductID,
		string(signal.Type),
		signal.Value,
		signal.RecordedAt,
	); err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// SignalTotals sums signal values per product and type within [from, to).
func (s *Store) SignalTotals(ctx context.Context, productIDs []string, from, to time.Time) (map[string]domain.SignalTotals, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]domain.SignalTotals)
	if len(productIDs) == 0 {
		return totals, nil
	}

	query, args, err := psql.
		Select("product_id", "signal_type", "SUM(signal_value)").
		From("popularity_signals").
		Where(sq.Eq{"product_id": productIDs}).
		Where(sq.GtOrEq{"recorded_at": from}).
		Where(sq.Lt{"recorded_at": to}).
		GroupBy("product_id", "signal_type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build signal totals query: %w", err)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signal totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			typ       string
			sum       float64
		)
		if err := rows.Scan(&productID, &typ, &sum); err != nil {
			return nil, fmt.Errorf("scan signal totals: %w", err)
		}
		signalType, err := domain.ParseSignalType(typ)
		if err != nil {
			continue
		}
		if totals[productID] == nil {
			totals[productID] = make(domain.SignalTotals)
		}
		totals[productID][signalType] += sum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}
