package domain

import (
	"context"
	"time"
)

// ListOpts carries standard pagination parameters for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore is the persistent mirror of the on-chain market list.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	// ListPending returns the manual resolution queue: markets whose close
	// time predates now and that have not reached the resolved state.
	ListPending(ctx context.Context, now time.Time, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// SettlementStore records every settlement dispatch for audit.
type SettlementStore interface {
	Insert(ctx context.Context, rec SettlementRecord) error
	GetByID(ctx context.Context, id string) (SettlementRecord, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]SettlementRecord, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]SettlementRecord, error)
}
