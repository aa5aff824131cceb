package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictfi/settlebot/internal/domain"
)

type stubMarkets struct {
	markets []domain.Market
	err     error
}

func (s *stubMarkets) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	if s.err != nil {
		return domain.Market{}, s.err
	}
	for _, m := range s.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *stubMarkets) List(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return s.markets, s.err
}

func (s *stubMarkets) ListPending(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return s.markets, s.err
}

func (s *stubMarkets) Count(context.Context) (int64, error) {
	return int64(len(s.markets)), s.err
}

func newMarketMux(h *MarketHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/pending", h.ListPending)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	return mux
}

func TestListMarketsEnvelope(t *testing.T) {
	stub := &stubMarkets{markets: []domain.Market{
		{ID: 1, Title: "one"},
		{ID: 2, Title: "two"},
	}}
	mux := newMarketMux(NewMarketHandler(stub, discardLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/markets?limit=25", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Markets []domain.Market `json:"markets"`
		Total   int64           `json:"total"`
		Limit   int             `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Markets, 2)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, 25, resp.Limit)
}

func TestGetMarketByID(t *testing.T) {
	stub := &stubMarkets{markets: []domain.Market{{ID: 42, Title: "answer"}}}
	mux := newMarketMux(NewMarketHandler(stub, discardLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/markets/42", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var m domain.Market
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	assert.Equal(t, "answer", m.Title)
}

func TestGetMarketErrors(t *testing.T) {
	mux := newMarketMux(NewMarketHandler(&stubMarkets{}, discardLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/markets/42", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/markets/not-a-number", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListPendingQueue(t *testing.T) {
	stub := &stubMarkets{markets: []domain.Market{{ID: 9, Title: "overdue"}}}
	mux := newMarketMux(NewMarketHandler(stub, discardLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/markets/pending", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Markets []domain.Market `json:"markets"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}
