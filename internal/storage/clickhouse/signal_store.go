package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/storage"
)

const (
	insertSignalSQL = `INSERT INTO popularity_signals (product_id, signal_type, signal_value, recorded_at)`

	signalTotalsSQL = `SELECT product_id, signal_type, sum(signal_value)
		FROM popularity_signals
		WHERE has(?, product_id)
		  AND recorded_at >= ?
		  AND recorded_at < ?
		GROUP BY product_id, signal_type`
)

// SignalStore implements storage.SignalStore on a MergeTree table.
type SignalStore struct {
	conn driver.Conn
}

// NewSignalStore wraps an open ClickHouse connection.
func NewSignalStore(conn driver.Conn) *SignalStore {
	return &SignalStore{conn: conn}
}

var _ storage.SignalStore = (*SignalStore)(nil)

// AppendSignal inserts one signal.
func (s *SignalStore) AppendSignal(ctx context.Context, signal domain.Signal) error {
	return s.AppendSignals(ctx, []domain.Signal{signal})
}

// AppendSignals inserts signals as one batch.
func (s *SignalStore) AppendSignals(ctx context.Context, signals []domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	for _, sig := range signals {
		if sig.ProductID == "" || !sig.Type.Valid() {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, insertSignalSQL)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, sig := range signals {
		if err := batch.Append(sig.ProductID, string(sig.Type), sig.Value, sig.RecordedAt.UTC()); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// SignalTotals sums signal values per product and type within [from, to).
func (s *SignalStore) SignalTotals(ctx context.Context, productIDs []string, from, to time.Time) (map[string]domain.SignalTotals, error) {
	totals := make(map[string]domain.SignalTotals)
	if len(productIDs) == 0 {
		return totals, nil
	}

	rows, err := s.conn.Query(ctx, signalTotalsSQL, productIDs, from.UTC(), to.UTC())
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
