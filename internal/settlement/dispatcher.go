// Package settlement maps resolver verdicts onto terminal contract calls.
// The dispatcher is the last gate before an irreversible on-chain action, so
// its mapping is total: any verdict it does not positively recognize becomes
// a manual-resolution flag, never a payout.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/predictfi/settlebot/internal/domain"
)

// Contract is the slice of the on-chain gateway the dispatcher needs.
type Contract interface {
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	SettleMarket(ctx context.Context, id uint64, outcome domain.SettlementOutcome, confidence uint64, evidenceURI string) (string, error)
	SettleMarketManually(ctx context.Context, id uint64, outcome domain.SettlementOutcome) (string, error)
}

// Dispatcher submits settlement transactions for resolved verdicts.
type Dispatcher struct {
	contract Contract
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher wires a dispatcher to an on-chain gateway.
func NewDispatcher(contract Contract, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		contract: contract,
		logger:   logger.With(slog.String("component", "dispatcher")),
		now:      time.Now,
	}
}

// Dispatch converts a verdict into a settlement action for the given market.
//
// YES and NO verdicts produce a settleMarket transaction carrying the
// confidence and evidence reference. Every other verdict, including anything
// malformed, is flagged for manual resolution without touching the chain.
// The market is re-read first so a concurrently settled or still-open market
// is rejected before any transaction is built; the contract remains the
// final authority on the single terminal transition.
func (d *Dispatcher) Dispatch(ctx context.Context, marketID uint64, verdict domain.Verdict, evidenceURI string) (domain.SettlementReceipt, error) {
	receipt := domain.SettlementReceipt{
		MarketID:    marketID,
		Outcome:     domain.OutcomeForVerdict(verdict.Result),
		Confidence:  verdict.Confidence,
		EvidenceURI: evidenceURI,
		SubmittedAt: d.now().UTC(),
	}

	if err := d.precheck(ctx, marketID); err != nil {
		return receipt, err
	}

	if !receipt.Outcome.Binary() {
		receipt.ManualRequired = true
		d.logger.InfoContext(ctx, "verdict flagged for manual resolution",
			slog.Uint64("market_id", marketID),
			slog.String("result", string(verdict.Result)),
		)
		return receipt, nil
	}

	confidence := uint64(verdict.Confidence)
	txHash, err := d.contract.SettleMarket(ctx, marketID, receipt.Outcome, confidence, evidenceURI)
	if err != nil {
		return receipt, fmt.Errorf("settlement: settle market %d: %w", marketID, err)
	}
	receipt.TxHash = txHash

	d.logger.InfoContext(ctx, "settlement submitted",
		slog.Uint64("market_id", marketID),
		slog.String("outcome", receipt.Outcome.String()),
		slog.Int("confidence", verdict.Confidence),
		slog.String("tx_hash", txHash),
	)
	return receipt, nil
}

// DispatchManual submits an operator-decided settlement. Only the binary
// outcomes are accepted: an operator resolves a market YES or NO, never to a
// state that needs further resolution.
func (d *Dispatcher) DispatchManual(ctx context.Context, marketID uint64, outcome domain.SettlementOutcome) (domain.SettlementReceipt, error) {
	receipt := domain.SettlementReceipt{
		MarketID:    marketID,
		Outcome:     outcome,
		SubmittedAt: d.now().UTC(),
	}

	if !outcome.Binary() {
		return receipt, fmt.Errorf("settlement: manual outcome %s: %w", outcome, domain.ErrManualOutcome)
	}
	if err := d.precheck(ctx, marketID); err != nil {
		return receipt, err
	}

	txHash, err := d.contract.SettleMarketManually(ctx, marketID, outcome)
	if err != nil {
		return receipt, fmt.Errorf("settlement: settle market %d manually: %w", marketID, err)
	}
	receipt.TxHash = txHash

	d.logger.InfoContext(ctx, "manual settlement submitted",
		slog.Uint64("market_id", marketID),
		slog.String("outcome", outcome.String()),
		slog.String("tx_hash", txHash),
	)
	return receipt, nil
}

// precheck re-reads the market and rejects dispatches that cannot succeed.
// This is an early exit, not the safety mechanism: the contract itself
// enforces at most one terminal transition per market.
func (d *Dispatcher) precheck(ctx context.Context, marketID uint64) error {
	market, err := d.contract.GetMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("settlement: read market %d: %w", marketID, err)
	}
	if market.Status == domain.MarketStatusResolved {
		return fmt.Errorf("settlement: market %d: %w", marketID, domain.ErrMarketResolved)
	}
	if !market.Closed(d.now()) {
		return fmt.Errorf("settlement: market %d: %w", marketID, domain.ErrMarketNotClosed)
	}
	return nil
}
