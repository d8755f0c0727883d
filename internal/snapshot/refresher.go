package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"SignalSentinel/internal/metrics"
	"SignalSentinel/internal/model"
)

// BarSource supplies raw bars for a symbol. collector.Collector implements it.
type BarSource interface {
	Bars(ctx context.Context, symbol string) ([]model.OHLCV, error)
}

// Refresher rebuilds snapshots from a BarSource into a Store.
type Refresher struct {
	source  BarSource
	store   Store
	params  Params
	workers int
	log     zerolog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewRefresher creates a Refresher. workers bounds per-tick parallelism.
func NewRefresher(source BarSource, store Store, params Params, workers int, log zerolog.Logger, rec *metrics.Recorder) *Refresher {
	if workers <= 0 {
		workers = 4
	}
	return &Refresher{
		source:  source,
		store:   store,
		params:  params,
		workers: workers,
		log:     log,
		metrics: rec,
		now:     time.Now,
	}
}

// Refresh rebuilds and stores the snapshot for one symbol. On any error the
// previously stored snapshot is left untouched.
func (r *Refresher) Refresh(ctx context.Context, symbol string) (*model.Snapshot, error) {
	bars, err := r.source.Bars(ctx, symbol)
	if err != nil {
		return nil, err
	}
	snap := Build(symbol, bars, r.params, r.now().UTC())
	if len(snap.Bars) == 0 {
		return nil, fmt.Errorf("%s: no usable bars: %w", symbol, model.ErrDataUnavailable)
	}
	if err := r.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot %s: %v: %w", symbol, err, model.ErrPersistence)
	}
	return snap, nil
}

// RefreshResult summarizes one RefreshAll tick.
type RefreshResult struct {
	Updated []string
	Failed  map[string]error
}

// RefreshAll refreshes every symbol with a bounded worker pool. A failure for
// one symbol never prevents the others from refreshing.
func (r *Refresher) RefreshAll(ctx context.Context, symbols []string) RefreshResult {
	type outcome struct {
		symbol string
		snap   *model.Snapshot
		err    error
	}

	workCh := make(chan string, len(symbols))
	resultCh := make(chan outcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range workCh {
				if ctx.Err() != nil {
					resultCh <- outcome{symbol: sym, err: ctx.Err()}
					continue
				}
				snap, err := r.Refresh(ctx, sym)
				resultCh <- outcome{symbol: sym, snap: snap, err: err}
			}
		}()
	}

	for _, sym := range symbols {
		workCh <- sym
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	res := RefreshResult{Failed: make(map[string]error)}
	for o := range resultCh {
		if o.err != nil {
			res.Failed[o.symbol] = o.err
			r.metrics.RecordRefresh(o.symbol, 0, o.err)
			r.log.Warn().Err(o.err).Str("symbol", o.symbol).Msg("snapshot refresh failed")
			continue
		}
		res.Updated = append(res.Updated, o.symbol)
		if last, ok := o.snap.Latest(); ok {
			r.metrics.RecordRefresh(o.symbol, last.Close, nil)
		}
	}
	r.log.Info().
		Int("updated", len(res.Updated)).
		Int("failed", len(res.Failed)).
		Msg("snapshot refresh complete")
	return res
}
