package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictValidate(t *testing.T) {
	tests := []struct {
		name    string
		verdict Verdict
		wantErr bool
	}{
		{"yes with confidence", Verdict{Result: VerdictYes, Confidence: 8700}, false},
		{"no at lower bound", Verdict{Result: VerdictNo, Confidence: 0}, false},
		{"inconclusive at upper bound", Verdict{Result: VerdictInconclusive, Confidence: 10000}, false},
		{"unknown result", Verdict{Result: "MAYBE", Confidence: 5000}, true},
		{"empty result", Verdict{Result: "", Confidence: 5000}, true},
		{"lowercase result", Verdict{Result: "yes", Confidence: 5000}, true},
		{"confidence above range", Verdict{Result: VerdictYes, Confidence: 10001}, true},
		{"negative confidence", Verdict{Result: VerdictNo, Confidence: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.verdict.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestOutcomeForVerdictIsTotalAndFailSafe(t *testing.T) {
	assert.Equal(t, OutcomeYes, OutcomeForVerdict(VerdictYes))
	assert.Equal(t, OutcomeNo, OutcomeForVerdict(VerdictNo))
	assert.Equal(t, OutcomeInconclusive, OutcomeForVerdict(VerdictInconclusive))

	// Everything outside the enumeration routes to manual resolution.
	for _, r := range []VerdictResult{"", "MAYBE", "Yes", "yes", "TRUE", "2"} {
		assert.Equal(t, OutcomeInconclusive, OutcomeForVerdict(r), "result %q", r)
	}
}

func TestSettlementOutcomeEncoding(t *testing.T) {
	assert.Equal(t, uint8(0), uint8(OutcomeUnset))
	assert.Equal(t, uint8(1), uint8(OutcomeNo))
	assert.Equal(t, uint8(2), uint8(OutcomeYes))
	assert.Equal(t, uint8(3), uint8(OutcomeInconclusive))

	assert.True(t, OutcomeYes.Binary())
	assert.True(t, OutcomeNo.Binary())
	assert.False(t, OutcomeUnset.Binary())
	assert.False(t, OutcomeInconclusive.Binary())
}

func TestMarketLifecyclePredicates(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	open := Market{ID: 1, Status: MarketStatusOpen, EndDate: now.Add(24 * time.Hour)}
	assert.False(t, open.Closed(now))
	assert.False(t, open.Settleable(now))
	assert.False(t, open.NeedsManualResolution(now))

	closed := Market{ID: 2, Status: MarketStatusOpen, EndDate: now.Add(-time.Hour)}
	assert.True(t, closed.Closed(now))
	assert.True(t, closed.Settleable(now))
	assert.True(t, closed.NeedsManualResolution(now))

	flagged := closed
	flagged.Outcome = OutcomeInconclusive
	assert.True(t, flagged.NeedsManualResolution(now))

	resolved := Market{ID: 3, Status: MarketStatusResolved, Outcome: OutcomeYes, EndDate: now.Add(-time.Hour)}
	assert.False(t, resolved.Settleable(now))
	assert.False(t, resolved.NeedsManualResolution(now))
}
