// Package service holds the application services between the HTTP surface
// and the infrastructure layers: the market read model mirrored from the
// chain, and the settlement pipeline that resolves and dispatches outcomes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/predictfi/settlebot/internal/domain"
)

// ChainReader is the read side of the on-chain gateway.
type ChainReader interface {
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	GetAllMarkets(ctx context.Context) ([]domain.Market, error)
}

// MarketService serves the market read model: Redis in front of the Postgres
// mirror, with the chain as the source of truth refreshed by the sync loop.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	chain   ChainReader
	logger  *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	cache domain.MarketCache,
	chain ChainReader,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		chain:   chain,
		logger:  logger,
	}
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the mirror on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := s.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %d: %w", id, err)
	}

	// Back-fill the cache; a write failure is not worth failing the read.
	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.Uint64("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	return m, nil
}

// List returns mirrored markets with pagination.
func (s *MarketService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// ListPending returns the settlement work queue: markets past their close
// time that have not reached a terminal state.
func (s *MarketService) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListPending(ctx, time.Now().UTC(), opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list pending: %w", err)
	}
	return markets, nil
}

// Count returns the total number of mirrored markets.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// SyncFromChain reads every market from the contract and refreshes the
// mirror, invalidating cached entries so reads pick up fresh state. It
// returns the number of markets synced.
func (s *MarketService) SyncFromChain(ctx context.Context) (int, error) {
	markets, err := s.chain.GetAllMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: read chain: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	if err := s.markets.UpsertBatch(ctx, markets); err != nil {
		return 0, fmt.Errorf("market_service: upsert batch: %w", err)
	}

	for _, m := range markets {
		if err := s.cache.Invalidate(ctx, m.ID); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "market_service: synced markets",
		slog.Int("count", len(markets)),
	)
	return len(markets), nil
}

// Refresh re-reads one market from the contract and updates the mirror.
// Settlement paths call this after a transaction is submitted so the mirror
// converges on the terminal state.
func (s *MarketService) Refresh(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := s.chain.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: refresh %d: %w", id, err)
	}

	if err := s.markets.Upsert(ctx, m); err != nil {
		return domain.Market{}, err
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
	return m, nil
}
