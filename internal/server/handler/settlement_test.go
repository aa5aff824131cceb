package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictfi/settlebot/internal/domain"
)

type stubSettlements struct {
	rec        domain.SettlementRecord
	err        error
	settled    []uint64
	manual     []domain.SettlementOutcome
	listOpts   domain.ListOpts
	listMarket uint64
}

func (s *stubSettlements) SettleMarket(_ context.Context, marketID uint64) (domain.SettlementRecord, error) {
	s.settled = append(s.settled, marketID)
	return s.rec, s.err
}

func (s *stubSettlements) SettleManually(_ context.Context, marketID uint64, outcome domain.SettlementOutcome) (domain.SettlementRecord, error) {
	s.manual = append(s.manual, outcome)
	return s.rec, s.err
}

func (s *stubSettlements) GetSettlement(_ context.Context, id string) (domain.SettlementRecord, error) {
	if s.err != nil {
		return domain.SettlementRecord{}, s.err
	}
	return s.rec, nil
}

func (s *stubSettlements) ListSettlements(_ context.Context, marketID uint64, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	s.listMarket = marketID
	s.listOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return []domain.SettlementRecord{s.rec}, nil
}

func newSettlementMux(h *SettlementHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets/{id}/settle", h.SettleMarket)
	mux.HandleFunc("POST /api/markets/{id}/settle/manual", h.SettleManually)
	mux.HandleFunc("GET /api/settlements", h.ListSettlements)
	mux.HandleFunc("GET /api/settlements/{id}", h.GetSettlement)
	return mux
}

func TestSettleMarketRoute(t *testing.T) {
	stub := &stubSettlements{rec: domain.SettlementRecord{
		ID:       "a1",
		MarketID: 7,
		Method:   domain.SettlementMethodAuto,
		Result:   domain.VerdictYes,
		Outcome:  domain.OutcomeYes,
		TxHash:   "0xaaa",
	}}
	mux := newSettlementMux(NewSettlementHandler(stub, nil, discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/markets/7/settle", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []uint64{7}, stub.settled)

	var rec domain.SettlementRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "0xaaa", rec.TxHash)
}

func TestSettleMarketErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown market", domain.ErrNotFound, http.StatusNotFound},
		{"already resolved", domain.ErrMarketResolved, http.StatusConflict},
		{"still open", domain.ErrMarketNotClosed, http.StatusConflict},
		{"in progress", domain.ErrLockHeld, http.StatusConflict},
		{"no structured output", domain.ErrNoStructuredOutput, http.StatusBadGateway},
		{"resolver down", domain.ErrResolverUnavailable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubSettlements{err: tt.err}
			mux := newSettlementMux(NewSettlementHandler(stub, nil, discardLogger()))

			req := httptest.NewRequest(http.MethodPost, "/api/markets/7/settle", nil)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestSettleManuallyRoute(t *testing.T) {
	stub := &stubSettlements{rec: domain.SettlementRecord{
		ID:      "a2",
		Method:  domain.SettlementMethodManual,
		Outcome: domain.OutcomeNo,
		TxHash:  "0xbbb",
	}}
	mux := newSettlementMux(NewSettlementHandler(stub, nil, discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/markets/7/settle/manual",
		strings.NewReader(`{"outcome":"NO"}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []domain.SettlementOutcome{domain.OutcomeNo}, stub.manual)
}

func TestSettleManuallyRejectsNonBinaryOutcomes(t *testing.T) {
	for _, body := range []string{
		`{"outcome":"INCONCLUSIVE"}`,
		`{"outcome":"yes"}`,
		`{"outcome":""}`,
		`{}`,
	} {
		stub := &stubSettlements{}
		mux := newSettlementMux(NewSettlementHandler(stub, nil, discardLogger()))

		req := httptest.NewRequest(http.MethodPost, "/api/markets/7/settle/manual", strings.NewReader(body))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "body %s", body)
		assert.Empty(t, stub.manual, "body %s", body)
	}
}

func TestListSettlementsFilter(t *testing.T) {
	stub := &stubSettlements{rec: domain.SettlementRecord{ID: "a3", MarketID: 9}}
	mux := newSettlementMux(NewSettlementHandler(stub, nil, discardLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/settlements?market_id=9&limit=10", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, uint64(9), stub.listMarket)
	assert.Equal(t, 10, stub.listOpts.Limit)
}
