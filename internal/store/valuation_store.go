package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/qiwenlee/fundflow/internal/models"
)

// Querier is the subset of pgxpool.Pool the store needs; pgxmock
// implements it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ValuationStore persists fetched valuation points so history queries
// and reconciliation survive restarts and can reach further back than
// any provider window.
type ValuationStore struct {
	db Querier
}

func NewValuationStore(db Querier) *ValuationStore {
	return &ValuationStore{db: db}
}

const upsertSQL = `
	INSERT INTO valuation_points (code, date, nav, accum_nav, daily_return, source, is_stale)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (code, date) DO UPDATE SET
		nav = EXCLUDED.nav,
		accum_nav = EXCLUDED.accum_nav,
		daily_return = EXCLUDED.daily_return,
		source = EXCLUDED.source,
		is_stale = EXCLUDED.is_stale`

// Upsert writes points, replacing any existing row for (code, date).
func (s *ValuationStore) Upsert(ctx context.Context, points []models.ValuationPoint) error {
	for _, p := range points {
		if _, err := s.db.Exec(ctx, upsertSQL,
			p.Code, p.Date, p.NAV, p.AccumNAV, p.DailyReturn, p.Source, p.IsStale); err != nil {
			return fmt.Errorf("failed to upsert valuation point %s@%s: %w",
				p.Code, p.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

const queryRangeSQL = `
	SELECT code, date, nav, accum_nav, daily_return, source, is_stale
	FROM valuation_points
	WHERE code = $1 AND date >= $2 AND date <= $3
	ORDER BY date ASC`

// QueryRange returns the stored points for code within [from, to],
// ascending by date.
func (s *ValuationStore) QueryRange(ctx context.Context, code string, from, to time.Time) ([]models.ValuationPoint, error) {
	rows, err := s.db.Query(ctx, queryRangeSQL, code, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuation range: %w", err)
	}
	defer rows.Close()

	var points []models.ValuationPoint
	for rows.Next() {
		var p models.ValuationPoint
		if err := rows.Scan(&p.Code, &p.Date, &p.NAV, &p.AccumNAV, &p.DailyReturn, &p.Source, &p.IsStale); err != nil {
			return nil, fmt.Errorf("failed to scan valuation point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read valuation rows: %w", err)
	}
	return points, nil
}

const latestSQL = `
	SELECT code, date, nav, accum_nav, daily_return, source, is_stale
	FROM valuation_points
	WHERE code = $1
	ORDER BY date DESC
	LIMIT 1`

// Latest returns the newest stored point for code, or nil without error
// when none exists.
func (s *ValuationStore) Latest(ctx context.Context, code string) (*models.ValuationPoint, error) {
	var p models.ValuationPoint
	err := s.db.QueryRow(ctx, latestSQL, code).
		Scan(&p.Code, &p.Date, &p.NAV, &p.AccumNAV, &p.DailyReturn, &p.Source, &p.IsStale)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest valuation: %w", err)
	}
	return &p, nil
}
