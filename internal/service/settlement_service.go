package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/predictfi/settlebot/internal/domain"
	"github.com/predictfi/settlebot/internal/resolver"
)

// settleLockTTL bounds how long a settlement attempt may hold a market's
// dispatch lock before it is assumed dead.
const settleLockTTL = 2 * time.Minute

// SettlementChannel is the pub/sub channel settlement lifecycle events are
// published on.
const SettlementChannel = "settlements"

// OutcomeResolver resolves a market question into a structured verdict.
type OutcomeResolver interface {
	Resolve(ctx context.Context, q resolver.Question) (domain.Verdict, resolver.Evidence, error)
	IncludeCriteria() bool
}

// VerdictDispatcher turns verdicts into on-chain settlement actions.
type VerdictDispatcher interface {
	Dispatch(ctx context.Context, marketID uint64, verdict domain.Verdict, evidenceURI string) (domain.SettlementReceipt, error)
	DispatchManual(ctx context.Context, marketID uint64, outcome domain.SettlementOutcome) (domain.SettlementReceipt, error)
}

// EvidenceArchiver stores a resolution record and returns its URI.
type EvidenceArchiver interface {
	Archive(ctx context.Context, marketID uint64, record any) (string, error)
}

// OperatorNotifier alerts operators about settlement lifecycle events.
type OperatorNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementEvent is the JSON payload published on SettlementChannel.
type SettlementEvent struct {
	Type       string                   `json:"type"`
	MarketID   uint64                   `json:"market_id"`
	Outcome    domain.SettlementOutcome `json:"outcome,omitempty"`
	Confidence int                      `json:"confidence,omitempty"`
	TxHash     string                   `json:"tx_hash,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// SettlementService runs the resolution-to-dispatch pipeline. Each market's
// dispatch is serialized by a distributed lock; verdicts are cached so a
// failed transaction can be retried without a second model call.
type SettlementService struct {
	resolver    OutcomeResolver
	dispatcher  VerdictDispatcher
	markets     *MarketService
	settlements domain.SettlementStore
	verdicts    domain.VerdictCache
	locks       domain.LockManager
	evidence    EvidenceArchiver
	bus         domain.SignalBus
	notifier    OperatorNotifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewSettlementService wires the settlement pipeline. evidence, bus, and
// notifier may be nil; the corresponding step is skipped.
func NewSettlementService(
	res OutcomeResolver,
	dispatcher VerdictDispatcher,
	markets *MarketService,
	settlements domain.SettlementStore,
	verdicts domain.VerdictCache,
	locks domain.LockManager,
	evidence EvidenceArchiver,
	bus domain.SignalBus,
	notifier OperatorNotifier,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		resolver:    res,
		dispatcher:  dispatcher,
		markets:     markets,
		settlements: settlements,
		verdicts:    verdicts,
		locks:       locks,
		evidence:    evidence,
		bus:         bus,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve answers an ad-hoc question without touching any market. It backs
// the raw resolution endpoint and shares the verdict cache with the
// settlement path.
func (s *SettlementService) Resolve(ctx context.Context, prompt string) (domain.Verdict, error) {
	q := resolver.Question{Title: prompt}
	key := q.CacheKey(s.resolver.IncludeCriteria())

	if cached, ok, err := s.verdicts.Get(ctx, key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: verdict cache read failed",
			slog.String("error", err.Error()),
		)
	}

	verdict, _, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return domain.Verdict{}, err
	}

	if err := s.verdicts.Set(ctx, key, verdict); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: verdict cache write failed",
			slog.String("error", err.Error()),
		)
	}
	return verdict, nil
}

// SettleMarket runs the full pipeline for one market: resolve the question,
// archive the evidence, and dispatch the verdict. The returned record is the
// audit row written for this attempt; it is persisted for failures too.
func (s *SettlementService) SettleMarket(ctx context.Context, marketID uint64) (domain.SettlementRecord, error) {
	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("settle:%d", marketID), settleLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.SettlementRecord{}, fmt.Errorf("settlement_service: market %d: %w", marketID, domain.ErrLockHeld)
		}
		return domain.SettlementRecord{}, fmt.Errorf("settlement_service: lock market %d: %w", marketID, err)
	}
	defer unlock()

	market, err := s.markets.GetMarket(ctx, marketID)
	if err != nil {
		return domain.SettlementRecord{}, err
	}
	if market.Status == domain.MarketStatusResolved {
		return domain.SettlementRecord{}, fmt.Errorf("settlement_service: market %d: %w", marketID, domain.ErrMarketResolved)
	}
	if !market.Closed(s.now()) {
		return domain.SettlementRecord{}, fmt.Errorf("settlement_service: market %d: %w", marketID, domain.ErrMarketNotClosed)
	}

	rec := domain.SettlementRecord{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Method:    domain.SettlementMethodAuto,
		CreatedAt: s.now().UTC(),
	}

	verdict, evidenceURI, err := s.resolveMarket(ctx, market)
	if err != nil {
		rec.Error = err.Error()
		s.record(ctx, rec)
		s.announceFailure(ctx, marketID, err)
		return rec, err
	}
	rec.Result = verdict.Result
	rec.Confidence = verdict.Confidence
	rec.EvidenceURI = evidenceURI

	receipt, err := s.dispatcher.Dispatch(ctx, marketID, verdict, evidenceURI)
	rec.Outcome = receipt.Outcome
	rec.TxHash = receipt.TxHash
	if err != nil {
		rec.Error = err.Error()
		s.record(ctx, rec)
		s.announceFailure(ctx, marketID, err)
		return rec, fmt.Errorf("settlement_service: dispatch market %d: %w", marketID, err)
	}

	s.record(ctx, rec)
	s.afterDispatch(ctx, marketID, receipt)
	return rec, nil
}

// SettleManually dispatches an operator-decided binary outcome for a market
// whose automated resolution was inconclusive or wrong to trust.
func (s *SettlementService) SettleManually(ctx context.Context, marketID uint64, outcome domain.SettlementOutcome) (domain.SettlementRecord, error) {
	if !outcome.Binary() {
		return domain.SettlementRecord{}, fmt.Errorf("settlement_service: outcome %s: %w", outcome, domain.ErrManualOutcome)
	}

	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("settle:%d", marketID), settleLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.SettlementRecord{}, fmt.Errorf("settlement_service: market %d: %w", marketID, domain.ErrLockHeld)
		}
		return domain.SettlementRecord{}, fmt.Errorf("settlement_service: lock market %d: %w", marketID, err)
	}
	defer unlock()

	rec := domain.SettlementRecord{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Method:    domain.SettlementMethodManual,
		Outcome:   outcome,
		CreatedAt: s.now().UTC(),
	}

	receipt, err := s.dispatcher.DispatchManual(ctx, marketID, outcome)
	rec.TxHash = receipt.TxHash
	if err != nil {
		rec.Error = err.Error()
		s.record(ctx, rec)
		s.announceFailure(ctx, marketID, err)
		return rec, fmt.Errorf("settlement_service: manual dispatch market %d: %w", marketID, err)
	}

	s.record(ctx, rec)
	s.afterDispatch(ctx, marketID, receipt)
	return rec, nil
}

// GetSettlement returns one settlement attempt by ID.
func (s *SettlementService) GetSettlement(ctx context.Context, id string) (domain.SettlementRecord, error) {
	return s.settlements.GetByID(ctx, id)
}

// ListSettlements returns recent settlement attempts, optionally scoped to
// one market.
func (s *SettlementService) ListSettlements(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	if marketID != 0 {
		return s.settlements.ListByMarket(ctx, marketID, opts)
	}
	return s.settlements.ListRecent(ctx, opts)
}

// resolveMarket resolves the market's question, consulting the verdict cache
// first and archiving evidence for fresh resolutions.
func (s *SettlementService) resolveMarket(ctx context.Context, market domain.Market) (domain.Verdict, string, error) {
	q := resolver.Question{Title: market.Title, Criteria: market.Criteria}
	key := q.CacheKey(s.resolver.IncludeCriteria())

	if cached, ok, err := s.verdicts.Get(ctx, key); err == nil && ok {
		s.logger.InfoContext(ctx, "settlement_service: verdict cache hit",
			slog.Uint64("market_id", market.ID),
			slog.String("result", string(cached.Result)),
		)
		return cached, "", nil
	} else if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: verdict cache read failed",
			slog.String("error", err.Error()),
		)
	}

	verdict, evidence, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return domain.Verdict{}, "", err
	}

	if err := s.verdicts.Set(ctx, key, verdict); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: verdict cache write failed",
			slog.String("error", err.Error()),
		)
	}

	var evidenceURI string
	if s.evidence != nil {
		evidenceURI, err = s.evidence.Archive(ctx, market.ID, evidence)
		if err != nil {
			// The verdict is still usable; the on-chain reference is just
			// empty for this attempt.
			s.logger.ErrorContext(ctx, "settlement_service: evidence archive failed",
				slog.Uint64("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			evidenceURI = ""
		}
	}
	return verdict, evidenceURI, nil
}

// record persists the audit row. Persistence failures are logged, not
// propagated: losing an audit row must not mask the pipeline's own result.
func (s *SettlementService) record(ctx context.Context, rec domain.SettlementRecord) {
	if err := s.settlements.Insert(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "settlement_service: record attempt failed",
			slog.String("settlement_id", rec.ID),
			slog.Uint64("market_id", rec.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// afterDispatch refreshes the market mirror and fans out lifecycle events.
func (s *SettlementService) afterDispatch(ctx context.Context, marketID uint64, receipt domain.SettlementReceipt) {
	if _, err := s.markets.Refresh(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: post-dispatch refresh failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	if receipt.ManualRequired {
		s.publish(ctx, SettlementEvent{
			Type:       "manual_required",
			MarketID:   marketID,
			Outcome:    receipt.Outcome,
			Confidence: receipt.Confidence,
		})
		s.notify(ctx, "manual_required", "Manual resolution required",
			fmt.Sprintf("Market %d could not be resolved automatically (confidence %d).", marketID, receipt.Confidence))
		return
	}

	s.publish(ctx, SettlementEvent{
		Type:       "settlement_submitted",
		MarketID:   marketID,
		Outcome:    receipt.Outcome,
		Confidence: receipt.Confidence,
		TxHash:     receipt.TxHash,
	})
	s.notify(ctx, "settlement_submitted", "Settlement submitted",
		fmt.Sprintf("Market %d settled %s (tx %s).", marketID, receipt.Outcome, receipt.TxHash))
}

func (s *SettlementService) announceFailure(ctx context.Context, marketID uint64, cause error) {
	s.publish(ctx, SettlementEvent{
		Type:     "settlement_failed",
		MarketID: marketID,
		Error:    cause.Error(),
	})
	s.notify(ctx, "settlement_failed", "Settlement failed",
		fmt.Sprintf("Market %d: %v", marketID, cause))
}

func (s *SettlementService) publish(ctx context.Context, event SettlementEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, SettlementChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: publish failed",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
