package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalSentinel/internal/model"
	"SignalSentinel/internal/store"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	calls  map[string]int
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: map[string]float64{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakePrices) set(sym string, p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[sym] = p
}

func (f *fakePrices) LatestPrice(_ context.Context, sym string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[sym]++
	if err := f.errs[sym]; err != nil {
		return 0, err
	}
	p, ok := f.prices[sym]
	if !ok {
		return 0, fmt.Errorf("%s: %w", sym, model.ErrDataUnavailable)
	}
	return p, nil
}

type failingStore struct {
	*store.MemoryStore
	fail bool
}

func (f *failingStore) ApplyTransition(ctx context.Context, o, successor *model.Opportunity) error {
	if f.fail {
		return fmt.Errorf("disk full: %w", model.ErrPersistence)
	}
	return f.MemoryStore.ApplyTransition(ctx, o, successor)
}

func newTestManager(t *testing.T, st store.OpportunityStore, prices PriceSource) *Manager {
	t.Helper()
	m, err := NewManager(st, prices, nil, Rules{Default: DefaultRule()}, 2, zerolog.Nop(), nil)
	require.NoError(t, err)
	var n int
	var mu sync.Mutex
	m.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("opp-%d", n)
	}
	m.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return m
}

func eventTypes(events []model.Event) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestTargetRule(t *testing.T) {
	rule := DefaultRule()
	assert.Equal(t, []float64{105, 110, 115}, rule.Targets(100))
	assert.InDelta(t, 95.0, rule.StopLoss(100, nil), 1e-9)

	snap := &model.Snapshot{Bars: []model.OHLCV{{Low: 80}, {Low: 92}, {Low: 98}}}
	assert.InDelta(t, 92*0.95, rule.StopLoss(100, &model.Snapshot{Bars: snap.Bars[1:]}), 1e-9)

	rule.RecentLowBars = 2
	assert.InDelta(t, 92*0.95, rule.StopLoss(100, snap), 1e-9, "bars older than the window are ignored")

	assert.Error(t, TargetRule{Steps: 3, StepPercent: 5, StopFactor: 1}.Validate())
	assert.Error(t, TargetRule{Steps: 0, StepPercent: 5, StopFactor: 0.9}.Validate())
	_, err := NewManager(store.NewMemoryStore(), newFakePrices(), nil, Rules{}, 1, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestRulesPerStrategy(t *testing.T) {
	rules := Rules{
		Default:     DefaultRule(),
		PerStrategy: map[string]TargetRule{"breakout": {Steps: 2, StepPercent: 10, StopFactor: 0.9}},
	}
	assert.Equal(t, 2, rules.For("breakout").Steps)
	assert.Equal(t, 3, rules.For("trend_cross").Steps)
}

func TestCreateRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemoryStore(), newFakePrices())

	o, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{105, 110, 115}, o.Targets)
	assert.Equal(t, model.StatusActive, o.Status)

	_, err = m.Create(ctx, "AAPL", "breakout", 101, nil)
	assert.ErrorIs(t, err, model.ErrActiveExists)

	_, err = m.Create(ctx, "AAPL", "retracement", 100, nil)
	assert.NoError(t, err)

	_, err = m.Create(ctx, "AAPL", "range_expansion", 0, nil)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

func TestConcurrentCreateOneWins(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemoryStore(), newFakePrices())

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Create(ctx, "NVDA", "trend_cross", 50, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, model.ErrActiveExists)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestTrackAdvanceThenStop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prices := newFakePrices()
	m := newTestManager(t, st, prices)

	o, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
	require.NoError(t, err)

	prices.set("AAPL", 106)
	events, err := m.Track(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.EventType{model.EventTargetHit}, eventTypes(events))
	assert.Equal(t, 0, events[0].HitIndex)

	got, err := st.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TargetIndex)
	assert.Equal(t, model.StatusActive, got.Status)

	prices.set("AAPL", 94)
	events, err = m.Track(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.EventType{model.EventStopped}, eventTypes(events))

	got, err = st.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, got.Status)
	assert.Equal(t, 94.0, got.ExitPrice)

	active, err := st.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "a stop never creates a successor")
}

func TestTrackOneAdvancePerTick(t *testing.T) {
	ctx := context.Background()
	prices := newFakePrices()
	st := store.NewMemoryStore()
	m := newTestManager(t, st, prices)

	o, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
	require.NoError(t, err)

	// price clears every target at once
	prices.set("AAPL", 200)
	_, err = m.Track(ctx)
	require.NoError(t, err)

	got, err := st.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TargetIndex)
}

func TestTrackCompletionCreatesSuccessor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prices := newFakePrices()
	m := newTestManager(t, st, prices)

	o, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
	require.NoError(t, err)
	at2 := o.Clone()
	at2.TargetIndex = 2
	require.NoError(t, st.ApplyTransition(ctx, at2, nil))

	prices.set("AAPL", 116)
	events, err := m.Track(ctx)
	require.NoError(t, err)
	assert.Equal(t,
		[]model.EventType{model.EventTargetHit, model.EventCompleted, model.EventNewOpportunity},
		eventTypes(events))

	done, err := st.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)
	assert.Equal(t, 3, done.TargetIndex)

	active, err := st.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	succ := active[0]
	assert.Equal(t, o.ID, succ.PredecessorID)
	assert.Equal(t, 115.0, succ.EntryPrice)
	assert.Equal(t, 0, succ.TargetIndex)
	assert.Equal(t, DefaultRule().Targets(115), succ.Targets)
	assert.Equal(t, succ.ID, events[2].Opportunity.ID)
}

func TestTrackTargetBeatsStop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prices := newFakePrices()
	m := newTestManager(t, st, prices)

	o, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
	require.NoError(t, err)
	// a misconfigured stop above the first target
	odd := o.Clone()
	odd.StopLoss = 120
	require.NoError(t, st.ApplyTransition(ctx, odd, nil))

	prices.set("AAPL", 106)
	events, err := m.Track(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.EventType{model.EventTargetHit}, eventTypes(events))
}

func TestTrackSkipsUnavailablePrice(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prices := newFakePrices()
	m := newTestManager(t, st, prices)

	a, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
	require.NoError(t, err)
	_, err = m.Create(ctx, "AAPL", "trend_cross", 100, nil)
	require.NoError(t, err)
	_, err = m.Create(ctx, "MSFT", "breakout", 100, nil)
	require.NoError(t, err)

	prices.set("MSFT", 106)
	events, err := m.Track(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "MSFT", events[0].Opportunity.Symbol)

	got, err := st.GetOpportunity(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TargetIndex)
	assert.Equal(t, 1, prices.calls["AAPL"], "one fetch per symbol per tick")
}

func TestTrackPersistenceErrorLeavesRecord(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	prices := newFakePrices()
	m := newTestManager(t, st, prices)

	o, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
	require.NoError(t, err)

	st.fail = true
	prices.set("AAPL", 106)
	events, err := m.Track(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	got, err := st.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TargetIndex)

	st.fail = false
	events, err = m.Track(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordAlerts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newTestManager(t, st, newFakePrices())

	o, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
	require.NoError(t, err)
	require.NoError(t, m.RecordAlerts(ctx, o.ID, map[string]string{"chat-1": "42"}))

	got, err := st.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", got.AlertRefs["chat-1"])
	assert.ErrorIs(t, m.RecordAlerts(ctx, "missing", map[string]string{"x": "1"}), model.ErrNotFound)
}

// mergingPrices stores an alert handle while the tick is between listing and
// writing, the way a concurrent sweep does.
type mergingPrices struct {
	st    store.OpportunityStore
	id    string
	price float64
}

func (p *mergingPrices) LatestPrice(ctx context.Context, _ string) (float64, error) {
	if err := p.st.MergeAlertRefs(ctx, p.id, map[string]string{"chat-1": "msg-42"}); err != nil {
		return 0, err
	}
	return p.price, nil
}

func TestTrackKeepsRefsMergedDuringTick(t *testing.T) {
	sq, err := store.NewSQLiteStore(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	for name, st := range map[string]store.OpportunityStore{"memory": store.NewMemoryStore(), "sqlite": sq} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			prices := &mergingPrices{st: st, price: 106}
			m := newTestManager(t, st, prices)

			o, err := m.Create(ctx, "AAPL", "breakout", 100, nil)
			require.NoError(t, err)
			prices.id = o.ID

			events, err := m.Track(ctx)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, "msg-42", events[0].Opportunity.AlertRefs["chat-1"], "event carries the handle for editing")

			got, err := st.GetOpportunity(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.TargetIndex)
			assert.Equal(t, "msg-42", got.AlertRefs["chat-1"])
		})
	}
}
