package domain

import "fmt"

// VerdictResult is the resolver's judgment on a market question.
type VerdictResult string

const (
	VerdictYes          VerdictResult = "YES"
	VerdictNo           VerdictResult = "NO"
	VerdictInconclusive VerdictResult = "INCONCLUSIVE"
)

// Confidence bounds, in basis points of certainty.
const (
	MinConfidence = 0
	MaxConfidence = 10_000
)

// Verdict is the structured output of the outcome resolver: a three-way
// judgment plus a confidence score in basis points. A Verdict is only valid
// when Validate returns nil; anything else is a resolution failure, never a
// verdict.
type Verdict struct {
	Result     VerdictResult `json:"result"`
	Confidence int           `json:"confidence"`
}

// Validate checks the verdict against the resolver output schema: the result
// must be one of the three enumerated values and the confidence an integer in
// [0, 10000].
func (v Verdict) Validate() error {
	switch v.Result {
	case VerdictYes, VerdictNo, VerdictInconclusive:
	default:
		return fmt.Errorf("verdict: unknown result %q", v.Result)
	}
	if v.Confidence < MinConfidence || v.Confidence > MaxConfidence {
		return fmt.Errorf("verdict: confidence %d out of range [%d, %d]",
			v.Confidence, MinConfidence, MaxConfidence)
	}
	return nil
}

// SettlementOutcome is the on-chain encoding of a market outcome.
type SettlementOutcome uint8

const (
	OutcomeUnset        SettlementOutcome = 0
	OutcomeNo           SettlementOutcome = 1
	OutcomeYes          SettlementOutcome = 2
	OutcomeInconclusive SettlementOutcome = 3
)

// String returns the human-readable outcome name.
func (o SettlementOutcome) String() string {
	switch o {
	case OutcomeUnset:
		return "UNSET"
	case OutcomeNo:
		return "NO"
	case OutcomeYes:
		return "YES"
	case OutcomeInconclusive:
		return "INCONCLUSIVE"
	default:
		return fmt.Sprintf("SettlementOutcome(%d)", uint8(o))
	}
}

// Binary reports whether the outcome is a definite YES or NO, the only two
// values eligible for automated settlement.
func (o SettlementOutcome) Binary() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// OutcomeForVerdict maps a verdict result onto the on-chain outcome space.
// The mapping is total and fail-safe: YES and NO map to their settlement
// outcomes, and every other value, including malformed or empty results,
// maps to INCONCLUSIVE so that ambiguity always routes to manual resolution
// instead of a guessed binary outcome.
func OutcomeForVerdict(result VerdictResult) SettlementOutcome {
	switch result {
	case VerdictYes:
		return OutcomeYes
	case VerdictNo:
		return OutcomeNo
	default:
		return OutcomeInconclusive
	}
}
