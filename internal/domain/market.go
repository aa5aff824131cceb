package domain

import "time"

// MarketStatus is the lifecycle state of a market as stored on-chain.
type MarketStatus uint8

const (
	// MarketStatusOpen is a live market accepting trades.
	MarketStatusOpen MarketStatus = 0
	// MarketStatusResolved is the terminal state: a settlement transaction
	// has confirmed and the outcome is final.
	MarketStatusResolved MarketStatus = 3
)

// String returns the human-readable status name.
func (s MarketStatus) String() string {
	switch s {
	case MarketStatusOpen:
		return "open"
	case MarketStatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Market is the read-model of an on-chain prediction market. The contract
// owns the authoritative state; this service mirrors it for queries and only
// ever writes through the two settlement entry points.
type Market struct {
	ID        uint64            `json:"id"`
	Title     string            `json:"title"`
	Criteria  string            `json:"criteria"`
	Category  uint8             `json:"category"`
	Status    MarketStatus      `json:"status"`
	Outcome   SettlementOutcome `json:"outcome"`
	Volume    uint64            `json:"volume"`
	EndDate   time.Time         `json:"end_date"`
	SettledAt time.Time         `json:"settled_at,omitzero"`
	SyncedAt  time.Time         `json:"synced_at,omitzero"`
}

// Closed reports whether the market's close time has passed.
func (m Market) Closed(now time.Time) bool {
	return !m.EndDate.IsZero() && now.After(m.EndDate)
}

// Settleable reports whether a settlement attempt makes sense: the market is
// past its close time and has not reached the terminal resolved state. The
// contract re-checks this atomically on submission; this is only a read-side
// filter.
func (m Market) Settleable(now time.Time) bool {
	return m.Status != MarketStatusResolved && m.Closed(now)
}

// NeedsManualResolution reports whether the market sits in the manual
// resolution queue: closed, not yet resolved, and either never dispatched or
// explicitly flagged inconclusive by the resolver.
func (m Market) NeedsManualResolution(now time.Time) bool {
	if !m.Settleable(now) {
		return false
	}
	return m.Outcome == OutcomeUnset || m.Outcome == OutcomeInconclusive
}
