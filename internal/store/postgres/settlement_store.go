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

// SettlementStore implements domain.SettlementStore using PostgreSQL. It is
// the audit trail: one row per settlement attempt, successful or not.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

const settlementCols = `id, market_id, method, result, confidence, outcome,
	evidence_uri, tx_hash, error, created_at`

// Insert appends a settlement attempt record.
func (s *SettlementStore) Insert(ctx context.Context, rec domain.SettlementRecord) error {
	const query = `
		INSERT INTO settlements (
			id, market_id, method, result, confidence, outcome,
			evidence_uri, tx_hash, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.MarketID, string(rec.Method), string(rec.Result),
		rec.Confidence, uint8(rec.Outcome),
		rec.EvidenceURI, rec.TxHash, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", rec.ID, err)
	}
	return nil
}

func scanSettlement(row pgx.Row) (domain.SettlementRecord, error) {
	var (
		rec             domain.SettlementRecord
		method, result  string
		outcome         uint8
	)
	err := row.Scan(
		&rec.ID, &rec.MarketID, &method, &result, &rec.Confidence, &outcome,
		&rec.EvidenceURI, &rec.TxHash, &rec.Error, &rec.CreatedAt,
	)
	if err != nil {
		return domain.SettlementRecord{}, err
	}
	rec.Method = domain.SettlementMethod(method)
	rec.Result = domain.VerdictResult(result)
	rec.Outcome = domain.SettlementOutcome(outcome)
	return rec, nil
}

// GetByID retrieves a settlement record by its UUID.
func (s *SettlementStore) GetByID(ctx context.Context, id string) (domain.SettlementRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settlementCols+` FROM settlements WHERE id = $1`, id)
	rec, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementRecord{}, domain.ErrNotFound
		}
		return domain.SettlementRecord{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return rec, nil
}

// ListByMarket returns the settlement attempts for one market, newest first.
func (s *SettlementStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementCols + ` FROM settlements
		WHERE market_id = $1 ORDER BY created_at DESC`
	query, args := paginate(query, []any{marketID}, opts)

	return s.querySettlements(ctx, "list settlements by market", query, args)
}

// ListBefore returns all settlement attempts recorded strictly before the
// cutoff, oldest first. It feeds the archive export.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementCols + ` FROM settlements
		WHERE created_at < $1 ORDER BY created_at`

	return s.querySettlements(ctx, "list settlements before cutoff", query, []any{before})
}

// ListRecent returns the most recent settlement attempts across all markets.
func (s *SettlementStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementCols + ` FROM settlements ORDER BY created_at DESC`
	query, args := paginate(query, nil, opts)

	return s.querySettlements(ctx, "list recent settlements", query, args)
}

func (s *SettlementStore) querySettlements(ctx context.Context, op, query string, args []any) ([]domain.SettlementRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var recs []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: rows: %w", op, err)
	}
	return recs, nil
}
