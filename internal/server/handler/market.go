package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/predictfi/settlebot/internal/domain"
)

// MarketReader is the market read-model surface the handler needs.
type MarketReader interface {
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
}

// MarketHandler serves the market read endpoints.
type MarketHandler struct {
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// ListMarkets returns mirrored markets with pagination.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// ListPending returns the settlement work queue: markets past their close
// time without a terminal outcome.
// GET /api/markets/pending
func (h *MarketHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListPending(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list pending markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list pending markets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"count":   len(markets),
	})
}

// GetMarket returns one market by its on-chain ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, market)
}
