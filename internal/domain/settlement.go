package domain

import "time"

// SettlementMethod distinguishes the two settlement entry points.
type SettlementMethod string

const (
	// SettlementMethodAuto is the resolver-driven path through settleMarket.
	SettlementMethodAuto SettlementMethod = "auto"
	// SettlementMethodManual is the admin override through settleMarketManually.
	SettlementMethodManual SettlementMethod = "manual"
)

// SettlementReceipt is the result of a dispatch. Exactly one of two shapes is
// returned: a submitted transaction (TxHash set, ManualRequired false) or an
// explicit manual-resolution flag (ManualRequired true, no transaction).
type SettlementReceipt struct {
	MarketID       uint64            `json:"market_id"`
	Outcome        SettlementOutcome `json:"outcome"`
	Confidence     int               `json:"confidence"`
	EvidenceURI    string            `json:"evidence_uri,omitempty"`
	TxHash         string            `json:"tx_hash,omitempty"`
	ManualRequired bool              `json:"manual_required"`
	SubmittedAt    time.Time         `json:"submitted_at"`
}

// SettlementRecord is the audit row persisted for every dispatch attempt,
// whether it produced a transaction, a manual flag, or a failure.
type SettlementRecord struct {
	ID          string            `json:"id"`
	MarketID    uint64            `json:"market_id"`
	Method      SettlementMethod  `json:"method"`
	Result      VerdictResult     `json:"result,omitempty"`
	Confidence  int               `json:"confidence"`
	Outcome     SettlementOutcome `json:"outcome"`
	EvidenceURI string            `json:"evidence_uri,omitempty"`
	TxHash      string            `json:"tx_hash,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
