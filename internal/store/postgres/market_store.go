package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predictfi/settlebot/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Rows mirror
// on-chain state; synced_at records the last time the mirror was refreshed.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketCols = `id, title, criteria, category, status, outcome,
	volume, end_date, settled_at, synced_at`

const upsertMarketQuery = `
	INSERT INTO markets (
		id, title, criteria, category, status, outcome,
		volume, end_date, settled_at, synced_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		title      = EXCLUDED.title,
		criteria   = EXCLUDED.criteria,
		category   = EXCLUDED.category,
		status     = EXCLUDED.status,
		outcome    = EXCLUDED.outcome,
		volume     = EXCLUDED.volume,
		end_date   = EXCLUDED.end_date,
		settled_at = EXCLUDED.settled_at,
		synced_at  = NOW()`

func marketArgs(m domain.Market) []any {
	return []any{
		m.ID, m.Title, m.Criteria, m.Category,
		uint8(m.Status), uint8(m.Outcome),
		m.Volume, nullableTime(m.EndDate), nullableTime(m.SettledAt),
	}
}

// Upsert inserts or refreshes a single market mirror row.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	if _, err := s.pool.Exec(ctx, upsertMarketQuery, marketArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch refreshes multiple market rows in a single batch round trip.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(upsertMarketQuery, marketArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                  domain.Market
		status, outcome    uint8
		endDate, settledAt *time.Time
	)
	err := row.Scan(
		&m.ID, &m.Title, &m.Criteria, &m.Category, &status, &outcome,
		&m.Volume, &endDate, &settledAt, &m.SyncedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.Outcome = domain.SettlementOutcome(outcome)
	if endDate != nil {
		m.EndDate = endDate.UTC()
	}
	if settledAt != nil {
		m.SettledAt = settledAt.UTC()
	}
	return m, nil
}

// GetByID retrieves a mirrored market by its on-chain ID.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns mirrored markets ordered by ID with pagination.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets ORDER BY id`
	query, args := paginate(query, nil, opts)

	return s.queryMarkets(ctx, "list markets", query, args)
}

// ListPending returns markets that are past their close time but not yet
// resolved, the settlement work queue, oldest close first.
func (s *MarketStore) ListPending(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE status <> $1 AND end_date IS NOT NULL AND end_date <= $2
		ORDER BY end_date`
	args := []any{uint8(domain.MarketStatusResolved), now}
	query, args = paginate(query, args, opts)

	return s.queryMarkets(ctx, "list pending markets", query, args)
}

// Count returns the total number of mirrored markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func (s *MarketStore) queryMarkets(ctx context.Context, op, query string, args []any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: rows: %w", op, err)
	}
	return markets, nil
}

// paginate appends LIMIT/OFFSET clauses for the options that are set.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// nullableTime maps zero times to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
