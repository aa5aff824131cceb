package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictfi/settlebot/internal/domain"
	"github.com/predictfi/settlebot/internal/resolver"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type memMarketStore struct {
	mu      sync.Mutex
	markets map[uint64]domain.Market
}

func (s *memMarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

func (s *memMarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	for _, m := range markets {
		if err := s.Upsert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarketStore) ListPending(_ context.Context, now time.Time, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Settleable(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

type nopMarketCache struct{}

func (nopMarketCache) Set(context.Context, domain.Market) error { return nil }
func (nopMarketCache) Get(context.Context, uint64) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (nopMarketCache) Invalidate(context.Context, uint64) error { return nil }

type memVerdictCache struct {
	mu   sync.Mutex
	data map[string]domain.Verdict
}

func (c *memVerdictCache) Get(_ context.Context, key string) (domain.Verdict, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memVerdictCache) Set(_ context.Context, key string, v domain.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
	return nil
}

type memLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type memSettlementStore struct {
	mu   sync.Mutex
	recs []domain.SettlementRecord
}

func (s *memSettlementStore) Insert(_ context.Context, rec domain.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSettlementStore) GetByID(_ context.Context, id string) (domain.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.SettlementRecord{}, domain.ErrNotFound
}

func (s *memSettlementStore) ListByMarket(_ context.Context, marketID uint64, _ domain.ListOpts) ([]domain.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SettlementRecord
	for _, r := range s.recs {
		if r.MarketID == marketID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memSettlementStore) ListRecent(_ context.Context, _ domain.ListOpts) ([]domain.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SettlementRecord(nil), s.recs...), nil
}

type fakeResolver struct {
	verdict domain.Verdict
	err     error
	calls   int
}

func (r *fakeResolver) Resolve(_ context.Context, q resolver.Question) (domain.Verdict, resolver.Evidence, error) {
	r.calls++
	ev := resolver.Evidence{Question: q.Title, RawOutput: `{"result":"` + string(r.verdict.Result) + `"}`}
	if r.err != nil {
		return domain.Verdict{}, ev, r.err
	}
	return r.verdict, ev, nil
}

func (r *fakeResolver) IncludeCriteria() bool { return true }

type fakeDispatcher struct {
	dispatched []uint64
	manual     []uint64
	err        error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, marketID uint64, verdict domain.Verdict, evidenceURI string) (domain.SettlementReceipt, error) {
	receipt := domain.SettlementReceipt{
		MarketID:    marketID,
		Outcome:     domain.OutcomeForVerdict(verdict.Result),
		Confidence:  verdict.Confidence,
		EvidenceURI: evidenceURI,
		SubmittedAt: testNow,
	}
	if d.err != nil {
		return receipt, d.err
	}
	if !receipt.Outcome.Binary() {
		receipt.ManualRequired = true
		return receipt, nil
	}
	d.dispatched = append(d.dispatched, marketID)
	receipt.TxHash = "0xaaa"
	return receipt, nil
}

func (d *fakeDispatcher) DispatchManual(_ context.Context, marketID uint64, outcome domain.SettlementOutcome) (domain.SettlementReceipt, error) {
	receipt := domain.SettlementReceipt{MarketID: marketID, Outcome: outcome, SubmittedAt: testNow}
	if d.err != nil {
		return receipt, d.err
	}
	d.manual = append(d.manual, marketID)
	receipt.TxHash = "0xbbb"
	return receipt, nil
}

type fakeArchiver struct{ uris []string }

func (a *fakeArchiver) Archive(_ context.Context, marketID uint64, _ any) (string, error) {
	uri := fmt.Sprintf("s3://evidence/evidence/%d/test.json", marketID)
	a.uris = append(a.uris, uri)
	return uri, nil
}

type fakeChain struct {
	markets map[uint64]domain.Market
}

func (c *fakeChain) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *fakeChain) GetAllMarkets(_ context.Context) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(c.markets))
	for _, m := range c.markets {
		out = append(out, m)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc        *SettlementService
	resolver   *fakeResolver
	dispatcher *fakeDispatcher
	store      *memSettlementStore
	verdicts   *memVerdictCache
	locks      *memLockManager
	archiver   *fakeArchiver
}

func newFixture(t *testing.T, markets ...domain.Market) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	byID := make(map[uint64]domain.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	marketStore := &memMarketStore{markets: byID}
	chain := &fakeChain{markets: byID}
	marketSvc := NewMarketService(marketStore, nopMarketCache{}, chain, logger)

	f := &fixture{
		resolver:   &fakeResolver{verdict: domain.Verdict{Result: domain.VerdictYes, Confidence: 8700}},
		dispatcher: &fakeDispatcher{},
		store:      &memSettlementStore{},
		verdicts:   &memVerdictCache{data: map[string]domain.Verdict{}},
		locks:      &memLockManager{held: map[string]bool{}},
		archiver:   &fakeArchiver{},
	}
	f.svc = NewSettlementService(
		f.resolver, f.dispatcher, marketSvc, f.store,
		f.verdicts, f.locks, f.archiver, nil, nil, logger,
	)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func closedMarket(id uint64, title string) domain.Market {
	return domain.Market{
		ID:      id,
		Title:   title,
		Status:  domain.MarketStatusOpen,
		EndDate: testNow.Add(-time.Hour),
	}
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestSettleMarketHappyPath(t *testing.T) {
	f := newFixture(t, closedMarket(7, "Did the Lakers win the 2025 NBA Finals?"))

	rec, err := f.svc.SettleMarket(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, domain.SettlementMethodAuto, rec.Method)
	assert.Equal(t, domain.VerdictYes, rec.Result)
	assert.Equal(t, 8700, rec.Confidence)
	assert.Equal(t, domain.OutcomeYes, rec.Outcome)
	assert.Equal(t, "0xaaa", rec.TxHash)
	assert.NotEmpty(t, rec.EvidenceURI)
	assert.Empty(t, rec.Error)

	assert.Equal(t, []uint64{7}, f.dispatcher.dispatched)
	require.Len(t, f.store.recs, 1)
	require.Len(t, f.archiver.uris, 1)
}

func TestSettleMarketCachedVerdictSkipsResolver(t *testing.T) {
	market := closedMarket(7, "Did X happen?")
	f := newFixture(t, market)

	q := resolver.Question{Title: market.Title, Criteria: market.Criteria}
	key := q.CacheKey(true)
	require.NoError(t, f.verdicts.Set(context.Background(), key, domain.Verdict{Result: domain.VerdictNo, Confidence: 9000}))

	rec, err := f.svc.SettleMarket(context.Background(), 7)
	require.NoError(t, err)

	assert.Zero(t, f.resolver.calls, "cached verdict must not trigger a model call")
	assert.Equal(t, domain.VerdictNo, rec.Result)
	assert.Empty(t, rec.EvidenceURI, "replayed verdicts carry no fresh evidence")
}

func TestSettleMarketResolverFailureIsRecorded(t *testing.T) {
	f := newFixture(t, closedMarket(7, "Did X happen?"))
	f.resolver.err = fmt.Errorf("resolver: decode output: %w", domain.ErrNoStructuredOutput)

	_, err := f.svc.SettleMarket(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrNoStructuredOutput)

	assert.Empty(t, f.dispatcher.dispatched)
	require.Len(t, f.store.recs, 1, "failed attempts are still audited")
	assert.NotEmpty(t, f.store.recs[0].Error)
}

func TestSettleMarketInconclusiveRoutesToManualQueue(t *testing.T) {
	f := newFixture(t, closedMarket(7, "Did X happen?"))
	f.resolver.verdict = domain.Verdict{Result: domain.VerdictInconclusive, Confidence: 1000}

	rec, err := f.svc.SettleMarket(context.Background(), 7)
	require.NoError(t, err)

	assert.Empty(t, f.dispatcher.dispatched, "inconclusive must not settle on-chain")
	assert.Equal(t, domain.OutcomeInconclusive, rec.Outcome)
	assert.Empty(t, rec.TxHash)
}

func TestSettleMarketLockPreventsConcurrentDispatch(t *testing.T) {
	f := newFixture(t, closedMarket(7, "Did X happen?"))

	unlock, err := f.locks.Acquire(context.Background(), "settle:7", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.SettleMarket(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, f.store.recs)
}

func TestSettleMarketRejectsResolvedAndOpenMarkets(t *testing.T) {
	resolved := closedMarket(1, "a")
	resolved.Status = domain.MarketStatusResolved
	open := domain.Market{ID: 2, Title: "b", Status: domain.MarketStatusOpen, EndDate: testNow.Add(time.Hour)}
	f := newFixture(t, resolved, open)

	_, err := f.svc.SettleMarket(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrMarketResolved)

	_, err = f.svc.SettleMarket(context.Background(), 2)
	require.ErrorIs(t, err, domain.ErrMarketNotClosed)

	assert.Empty(t, f.resolver.calls)
}

func TestSettleManually(t *testing.T) {
	f := newFixture(t, closedMarket(7, "Did X happen?"))

	rec, err := f.svc.SettleManually(context.Background(), 7, domain.OutcomeNo)
	require.NoError(t, err)

	assert.Equal(t, domain.SettlementMethodManual, rec.Method)
	assert.Equal(t, "0xbbb", rec.TxHash)
	assert.Equal(t, []uint64{7}, f.dispatcher.manual)
	assert.Zero(t, f.resolver.calls, "manual settlement never calls the resolver")
}

func TestSettleManuallyRejectsNonBinaryOutcome(t *testing.T) {
	f := newFixture(t, closedMarket(7, "Did X happen?"))

	_, err := f.svc.SettleManually(context.Background(), 7, domain.OutcomeInconclusive)
	require.ErrorIs(t, err, domain.ErrManualOutcome)
	assert.Empty(t, f.dispatcher.manual)
}

func TestResolveSharesVerdictCache(t *testing.T) {
	f := newFixture(t)

	v1, err := f.svc.Resolve(context.Background(), "Did X happen?")
	require.NoError(t, err)
	v2, err := f.svc.Resolve(context.Background(), "Did X happen?")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, f.resolver.calls, "second resolve must hit the cache")
}
