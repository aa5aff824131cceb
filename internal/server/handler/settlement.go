package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/predictfi/settlebot/internal/domain"
)

// SettlementRunner is the settlement pipeline surface the handler needs.
type SettlementRunner interface {
	SettleMarket(ctx context.Context, marketID uint64) (domain.SettlementRecord, error)
	SettleManually(ctx context.Context, marketID uint64, outcome domain.SettlementOutcome) (domain.SettlementRecord, error)
	GetSettlement(ctx context.Context, id string) (domain.SettlementRecord, error)
	ListSettlements(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.SettlementRecord, error)
}

// EvidenceFetcher reads archived evidence records by URI.
type EvidenceFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// SettlementHandler serves the settlement pipeline endpoints.
type SettlementHandler struct {
	settlements SettlementRunner
	evidence    EvidenceFetcher
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler. evidence may be nil when
// no archive bucket is configured.
func NewSettlementHandler(settlements SettlementRunner, evidence EvidenceFetcher, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, evidence: evidence, logger: logger}
}

// SettleMarket runs the automated resolution pipeline for a market.
// POST /api/markets/{id}/settle
func (h *SettlementHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	rec, err := h.settlements.SettleMarket(r.Context(), id)
	if err != nil {
		h.writeSettlementError(w, r, id, rec, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

type manualSettleRequest struct {
	Outcome string `json:"outcome"`
}

// SettleManually dispatches an operator-decided YES or NO outcome.
// POST /api/markets/{id}/settle/manual
func (h *SettlementHandler) SettleManually(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req manualSettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var outcome domain.SettlementOutcome
	switch domain.VerdictResult(req.Outcome) {
	case domain.VerdictYes:
		outcome = domain.OutcomeYes
	case domain.VerdictNo:
		outcome = domain.OutcomeNo
	default:
		writeError(w, http.StatusBadRequest, `outcome must be "YES" or "NO"`)
		return
	}

	rec, err := h.settlements.SettleManually(r.Context(), id, outcome)
	if err != nil {
		h.writeSettlementError(w, r, id, rec, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListSettlements returns recent settlement attempts, optionally filtered by
// ?market_id=.
// GET /api/settlements
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	var marketID uint64
	if v := r.URL.Query().Get("market_id"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid market_id")
			return
		}
		marketID = parsed
	}

	recs, err := h.settlements.ListSettlements(r.Context(), marketID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list settlements failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": recs,
		"count":       len(recs),
	})
}

// GetSettlement returns one settlement attempt by its UUID.
// GET /api/settlements/{id}
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.settlements.GetSettlement(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "settlement not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get settlement failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get settlement")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetEvidence streams the archived evidence record for a settlement attempt.
// GET /api/settlements/{id}/evidence
func (h *SettlementHandler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeError(w, http.StatusNotFound, "evidence archive not configured")
		return
	}

	rec, err := h.settlements.GetSettlement(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "settlement not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get settlement")
		return
	}
	if rec.EvidenceURI == "" {
		writeError(w, http.StatusNotFound, "settlement has no evidence record")
		return
	}

	data, err := h.evidence.Fetch(r.Context(), rec.EvidenceURI)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "evidence record not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "fetch evidence failed",
			slog.String("uri", rec.EvidenceURI),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch evidence")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeSettlementError maps pipeline failures onto HTTP statuses. Dispatch
// failures surface the audit row so the caller can retry with context.
func (h *SettlementHandler) writeSettlementError(w http.ResponseWriter, r *http.Request, marketID uint64, rec domain.SettlementRecord, err error) {
	h.logger.ErrorContext(r.Context(), "settlement failed",
		slog.Uint64("market_id", marketID),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "market not found")
	case errors.Is(err, domain.ErrMarketResolved):
		writeError(w, http.StatusConflict, "market is already resolved")
	case errors.Is(err, domain.ErrMarketNotClosed):
		writeError(w, http.StatusConflict, "market has not closed yet")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "settlement already in progress for this market")
	case errors.Is(err, domain.ErrManualOutcome):
		writeError(w, http.StatusBadRequest, `manual settlement accepts only "YES" or "NO"`)
	case errors.Is(err, domain.ErrNoStructuredOutput):
		writeError(w, http.StatusBadGateway, "model did not produce a structured verdict")
	case errors.Is(err, domain.ErrResolverUnavailable):
		writeError(w, http.StatusBadGateway, "resolution service unavailable")
	default:
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":      "settlement dispatch failed",
			"settlement": rec,
		})
	}
}
