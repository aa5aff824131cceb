package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/predictfi/settlebot/internal/notify"
	"github.com/predictfi/settlebot/internal/resolver"
	"github.com/predictfi/settlebot/internal/server"
	"github.com/predictfi/settlebot/internal/server/handler"
	"github.com/predictfi/settlebot/internal/server/ws"
	"github.com/predictfi/settlebot/internal/service"
	"github.com/predictfi/settlebot/internal/settlement"
)

// ServerMode runs the settlement API: the HTTP server, the WebSocket hub, and
// the resolution/dispatch pipeline behind them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startServer(ctx, g, deps); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	return g.Wait()
}

// SyncerMode runs only the chain mirror loop and the settlement archive
// export. No HTTP surface and no signing key.
func (a *App) SyncerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting syncer mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSyncer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the settlement API and the chain mirror loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startServer(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startSyncer(ctx, g, deps)
	return g.Wait()
}

// startServer builds the service graph and adds the hub and HTTP server
// goroutines to the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	marketSvc := service.NewMarketService(deps.MarketStore, deps.MarketCache, deps.Chain, a.logger)

	settlementSvc, err := a.buildSettlementService(deps, marketSvc)
	if err != nil {
		return err
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var evidence handler.EvidenceFetcher
	if deps.Evidence != nil {
		evidence = deps.Evidence
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Markets:     handler.NewMarketHandler(marketSvc, a.logger),
		Settlements: handler.NewSettlementHandler(settlementSvc, evidence, a.logger),
		Resolve:     handler.NewResolveHandler(settlementSvc, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.ApiKey,
		ResolveRateLimit:  a.cfg.Server.ResolveRateLimit,
		ResolveRateWindow: a.cfg.Server.ResolveRateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return nil
}

// startSyncer adds the periodic chain mirror loop and, when cold storage is
// configured, the daily settlement archive export.
func (a *App) startSyncer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	marketSvc := service.NewMarketService(deps.MarketStore, deps.MarketCache, deps.Chain, a.logger)

	interval := a.cfg.Sync.Interval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	g.Go(func() error {
		a.syncOnce(ctx, marketSvc, deps.Notifier)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.syncOnce(ctx, marketSvc, deps.Notifier)
			}
		}
	})

	if deps.Archiver != nil && a.cfg.Sync.ArchiveAfterDays > 0 {
		retention := time.Duration(a.cfg.Sync.ArchiveAfterDays) * 24 * time.Hour
		g.Go(func() error {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					cutoff := time.Now().UTC().Add(-retention)
					n, err := deps.Archiver.ArchiveSettlements(ctx, cutoff)
					if err != nil {
						a.logger.ErrorContext(ctx, "settlement archive export failed",
							slog.String("error", err.Error()),
						)
						continue
					}
					if n > 0 {
						a.logger.InfoContext(ctx, "settlement archive exported",
							slog.Int64("records", n),
							slog.Time("cutoff", cutoff),
						)
					}
				}
			}
		})
	}
}

// syncOnce mirrors the contract state into Postgres and alerts operators on
// failure. Sync errors never stop the loop.
func (a *App) syncOnce(ctx context.Context, markets *service.MarketService, notifier *notify.Notifier) {
	n, err := markets.SyncFromChain(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "market sync failed",
			slog.String("error", err.Error()),
		)
		if notifier != nil {
			_ = notifier.Notify(ctx, notify.EventSyncFailed, "Market sync failed", err.Error())
		}
		return
	}
	a.logger.InfoContext(ctx, "market sync complete", slog.Int("markets", n))
}

// buildSettlementService assembles the resolver, dispatcher, and settlement
// pipeline from config.
func (a *App) buildSettlementService(deps *Dependencies, markets *service.MarketService) (*service.SettlementService, error) {
	var search resolver.Searcher
	if a.cfg.Search.ApiKey != "" {
		search = resolver.NewHTTPSearcher(a.cfg.Search.BaseURL, a.cfg.Search.ApiKey, a.cfg.Search.MaxResults)
	} else {
		a.logger.Warn("search api key not set; resolver runs without the web search tool")
	}

	res, err := resolver.New(resolver.Config{
		APIKey:          a.cfg.Resolver.ApiKey,
		BaseURL:         a.cfg.Resolver.BaseURL,
		Model:           a.cfg.Resolver.Model,
		Temperature:     float32(a.cfg.Resolver.Temperature),
		MaxTokens:       a.cfg.Resolver.MaxTokens,
		Timeout:         a.cfg.Resolver.Timeout.Duration,
		StepBudget:      a.cfg.Resolver.StepBudget,
		IncludeCriteria: a.cfg.Resolver.IncludeCriteria,
	}, search, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build settlement service: %w", err)
	}

	dispatcher := settlement.NewDispatcher(deps.Chain, a.logger)

	var evidence service.EvidenceArchiver
	if deps.Evidence != nil {
		evidence = deps.Evidence
	}

	return service.NewSettlementService(
		res,
		dispatcher,
		markets,
		deps.SettlementStore,
		deps.VerdictCache,
		deps.LockManager,
		evidence,
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	), nil
}
