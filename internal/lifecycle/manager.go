package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SignalSentinel/internal/metrics"
	"SignalSentinel/internal/model"
	"SignalSentinel/internal/store"
)

// PriceSource returns the current price of a symbol.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// SnapshotSource supplies the latest snapshot, used to derive successor stop losses.
type SnapshotSource interface {
	Get(ctx context.Context, symbol string) (*model.Snapshot, error)
}

// Manager owns the opportunity state machine.
type Manager struct {
	store     store.OpportunityStore
	prices    PriceSource
	snapshots SnapshotSource
	rules     Rules
	workers   int
	log       zerolog.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
	newID     func() string
}

// NewManager creates a Manager. snapshots may be nil.
func NewManager(st store.OpportunityStore, prices PriceSource, snapshots SnapshotSource, rules Rules, workers int, log zerolog.Logger, rec *metrics.Recorder) (*Manager, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 4
	}
	return &Manager{
		store:     st,
		prices:    prices,
		snapshots: snapshots,
		rules:     rules,
		workers:   workers,
		log:       log,
		metrics:   rec,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (m *Manager) build(symbol, strategy string, entry float64, snap *model.Snapshot, predecessor string) *model.Opportunity {
	rule := m.rules.For(strategy)
	now := m.now().UTC()
	return &model.Opportunity{
		ID:            m.newID(),
		Symbol:        symbol,
		Strategy:      strategy,
		EntryPrice:    entry,
		Targets:       rule.Targets(entry),
		StopLoss:      rule.StopLoss(entry, snap),
		TargetIndex:   0,
		Status:        model.StatusActive,
		PredecessorID: predecessor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Create opens a new active opportunity. It returns model.ErrActiveExists when
// the symbol and strategy already have one.
func (m *Manager) Create(ctx context.Context, symbol, strategy string, entry float64, snap *model.Snapshot) (*model.Opportunity, error) {
	if entry <= 0 {
		return nil, fmt.Errorf("%s/%s: entry price %.4f: %w", symbol, strategy, entry, model.ErrDataUnavailable)
	}
	o := m.build(symbol, strategy, entry, snap, "")
	if err := m.store.CreateOpportunity(ctx, o); err != nil {
		return nil, err
	}
	m.metrics.RecordEvent(string(model.EventNewOpportunity), strategy)
	m.log.Info().
		Str("opportunity", o.ID).
		Str("symbol", symbol).
		Str("strategy", strategy).
		Float64("entry", entry).
		Floats64("targets", o.Targets).
		Float64("stop_loss", o.StopLoss).
		Msg("opportunity created")
	return o, nil
}

// transition is the outcome of evaluating one opportunity against a price.
type transition struct {
	updated   *model.Opportunity
	successor *model.Opportunity
	events    []model.Event
}

// evaluate applies at most one step of the state machine. The target check
// runs before the stop check and the index advances by at most one.
func (m *Manager) evaluate(ctx context.Context, o *model.Opportunity, price float64) *transition {
	now := m.now().UTC()
	if target, ok := o.NextTarget(); ok && price >= target {
		next := o.Clone()
		next.TargetIndex++
		next.UpdatedAt = now
		t := &transition{updated: next}
		t.events = append(t.events, model.Event{
			Type:        model.EventTargetHit,
			Opportunity: next,
			Price:       price,
			HitIndex:    o.TargetIndex,
		})
		if next.TargetIndex >= len(next.Targets) {
			next.Status = model.StatusCompleted
			next.ExitPrice = price
			t.events = append(t.events, model.Event{
				Type:        model.EventCompleted,
				Opportunity: next,
				Price:       price,
				HitIndex:    o.TargetIndex,
			})
			t.successor = m.build(o.Symbol, o.Strategy, next.FinalTarget(), m.snapshot(ctx, o.Symbol), o.ID)
		}
		return t
	}
	if price <= o.StopLoss {
		next := o.Clone()
		next.Status = model.StatusStopped
		next.ExitPrice = price
		next.UpdatedAt = now
		return &transition{
			updated: next,
			events:  []model.Event{{Type: model.EventStopped, Opportunity: next, Price: price}},
		}
	}
	return nil
}

func (m *Manager) snapshot(ctx context.Context, symbol string) *model.Snapshot {
	if m.snapshots == nil {
		return nil
	}
	snap, err := m.snapshots.Get(ctx, symbol)
	if err != nil {
		return nil
	}
	return snap
}

// Track evaluates every active opportunity against the current price of its
// symbol. Prices are fetched once per symbol. An unavailable price skips the
// symbol and a failed write leaves the record untouched; neither stops the tick.
func (m *Manager) Track(ctx context.Context) ([]model.Event, error) {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	m.metrics.SetActive(len(active))
	if len(active) == 0 {
		return nil, nil
	}

	bySymbol := make(map[string][]*model.Opportunity)
	var symbols []string
	for _, o := range active {
		if _, seen := bySymbol[o.Symbol]; !seen {
			symbols = append(symbols, o.Symbol)
		}
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}
	prices := m.fetchPrices(ctx, symbols)

	var events []model.Event
	for _, sym := range symbols {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		for _, o := range bySymbol[sym] {
			if ctx.Err() != nil {
				return events, ctx.Err()
			}
			t := m.evaluate(ctx, o, price)
			if t == nil {
				continue
			}
			if err := m.store.ApplyTransition(ctx, t.updated, t.successor); err != nil {
				m.log.Error().Err(err).
					Str("opportunity", o.ID).
					Str("symbol", o.Symbol).
					Str("strategy", o.Strategy).
					Msg("transition not persisted")
				continue
			}
			for _, ev := range t.events {
				m.metrics.RecordEvent(string(ev.Type), o.Strategy)
			}
			events = append(events, t.events...)
			m.log.Info().
				Str("opportunity", o.ID).
				Str("symbol", o.Symbol).
				Str("status", string(t.updated.Status)).
				Int("target_index", t.updated.TargetIndex).
				Float64("price", price).
				Msg("opportunity advanced")
			if t.successor != nil {
				m.metrics.RecordEvent(string(model.EventNewOpportunity), o.Strategy)
				events = append(events, model.Event{Type: model.EventNewOpportunity, Opportunity: t.successor})
				m.log.Info().
					Str("opportunity", t.successor.ID).
					Str("predecessor", o.ID).
					Float64("entry", t.successor.EntryPrice).
					Msg("successor created")
			}
		}
	}
	return events, nil
}

func (m *Manager) fetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		prices = make(map[string]float64, len(symbols))
	)
	sem := make(chan struct{}, m.workers)
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			price, err := m.prices.LatestPrice(ctx, sym)
			if err == nil && price <= 0 {
				err = fmt.Errorf("%s: non-positive price %.4f: %w", sym, price, model.ErrDataUnavailable)
			}
			if err != nil {
				lvl := m.log.Warn()
				if !errors.Is(err, model.ErrDataUnavailable) {
					lvl = m.log.Error()
				}
				lvl.Err(err).Str("symbol", sym).Msg("price unavailable, skipping symbol")
				return
			}
			mu.Lock()
			prices[sym] = price
			mu.Unlock()
		}(sym)
	}
	wg.Wait()
	return prices
}

// RecordAlerts stores the message handles delivered for an opportunity.
func (m *Manager) RecordAlerts(ctx context.Context, id string, refs map[string]string) error {
	if len(refs) == 0 {
		return nil
	}
	if err := m.store.MergeAlertRefs(ctx, id, refs); err != nil {
		return fmt.Errorf("record alerts %s: %w", id, err)
	}
	return nil
}

// Active lists the active opportunities.
func (m *Manager) Active(ctx context.Context) ([]*model.Opportunity, error) {
	return m.store.ListActive(ctx)
}
