package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kringlewatch/internal/domain"
)

const (
	insertAlertHistorySQL = `INSERT INTO alert_history (
        id,
        user_email,
        bag_item_id,
        alert_type,
        sent_at,
        price_drop_cents
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	countAlertsSinceSQL = `SELECT COUNT(*)
    FROM alert_history
    WHERE user_email = $1
      AND sent_at >= $2;`
)

// InsertAlertHistory records dispatched alerts, assigning IDs when missing.
func (s *Store) InsertAlertHistory(ctx context.Context, rows []domain.AlertHistory) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		id := row.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(insertAlertHistorySQL,
			id,
			row.RecipientEmail,
			row.BagItemID,
			string(row.Type),
			row.SentAt,
			row.PriceDropCents,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert alert history: %w", err)
		}
	}
	return nil
}

// CountAlertsSince counts alerts sent to a recipient at or after since.
func (s *Store) CountAlertsSince(ctx context.Context, recipientEmail string, since time.Time) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if err := pool.QueryRow(ctx, countAlertsSinceSQL, recipientEmail, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

// ListAlertHistory lists alert history newest first.
func (s *Store) ListAlertHistory(ctx context.Context, filter AlertHistoryFilter) ([]domain.AlertHistory, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	builder := psql.
		Select("id", "user_email", "bag_item_id", "alert_type", "sent_at", "price_drop_cents").
		From("alert_history").
		OrderBy("sent_at DESC")
	if filter.RecipientEmail != "" {
		builder = builder.Where(sq.Eq{"user_email": filter.RecipientEmail})
	}
	if filter.BagItemID != "" {
		builder = builder.Where(sq.Eq{"bag_item_id": filter.BagItemID})
	}
	if !filter.Since.IsZero() {
		builder = builder.Where(sq.GtOrEq{"sent_at": filter.Since})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build alert history query: %w", err)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.AlertHistory, 0)
	for rows.Next() {
		var (
			rec  domain.AlertHistory
			typ  string
			drop *int64
		)
		if err := rows.Scan(&rec.ID, &rec.RecipientEmail, &rec.BagItemID, &typ, &rec.SentAt, &drop); err != nil {
			return nil, fmt.Errorf("scan alert history: %w", err)
		}
		rec.Type = domain.AlertType(typ)
		rec.PriceDropCents = drop
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}
