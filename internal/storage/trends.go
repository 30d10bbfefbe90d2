package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"kringlewatch/internal/domain"
)

const (
	insertTrendSnapshotSQL = `INSERT INTO trend_snapshots (
        product_id,
        age_band,
        rank,
        trend_score,
        badges,
        snapshot_date
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	deleteTrendSetSQL = `DELETE FROM trend_snapshots
    WHERE age_band = $1
      AND snapshot_date = $2;`

	latestTrendSnapshotsSQL = `SELECT
        product_id,
        age_band,
        rank,
        trend_score,
        badges,
        snapshot_date
    FROM trend_snapshots
    WHERE age_band = $1
      AND snapshot_date = (
        SELECT MAX(snapshot_date) FROM trend_snapshots WHERE age_band = $1
      )
    ORDER BY rank ASC;`
)

// InsertTrendSnapshots writes one ranking atomically. A ranking already stored
// for the same band and instant is replaced, so reruns keep ranks dense.
func (s *Store) InsertTrendSnapshots(ctx context.Context, rows []domain.TrendSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trend snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	type setKey struct {
		band string
		at   time.Time
	}
	cleared := make(map[setKey]struct{})
	for _, row := range rows {
		key := setKey{band: string(row.AgeBand), at: row.SnapshotDate.UTC()}
		if _, ok := cleared[key]; ok {
			continue
		}
		cleared[key] = struct{}{}
		if _, err := tx.Exec(ctx, deleteTrendSetSQL, key.band, row.SnapshotDate); err != nil {
			return fmt.Errorf("replace trend snapshot set: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		badges := make([]string, 0, len(row.Badges))
		for _, b := range row.Badges {
			badges = append(badges, string(b))
		}
		batch.Queue(insertTrendSnapshotSQL,
			row.ProductID,
			string(row.AgeBand),
			row.Rank,
			row.TrendScore,
			badges,
			row.SnapshotDate,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert trend snapshot: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close trend snapshot batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit trend snapshots: %w", err)
	}
	return nil
}

// LatestTrendSnapshots returns the newest ranking of a band ordered by rank.
func (s *Store) LatestTrendSnapshots(ctx context.Context, band domain.AgeBand) ([]domain.TrendSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, latestTrendSnapshotsSQL, string(band))
	if err != nil {
		return nil, fmt.Errorf("query latest trends: %w", err)
	}
	defer rows.Close()

	snapshots := make([]domain.TrendSnapshot, 0)
	for rows.Next() {
		var (
			snap      domain.TrendSnapshot
			bandLabel string
			badges    []string
		)
		if err := rows.Scan(
			&snap.ProductID,
			&bandLabel,
			&snap.Rank,
			&snap.TrendScore,
			&badges,
			&snap.SnapshotDate,
		); err != nil {
			return nil, fmt.Errorf("scan trend snapshot: %w", err)
		}
		snap.AgeBand = domain.AgeBand(bandLabel)
		snap.Badges = make([]domain.Badge, 0, len(badges))
		for _, b := range badges {
			snap.Badges = append(snap.Badges, domain.Badge(b))
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}
