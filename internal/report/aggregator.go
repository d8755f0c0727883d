package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"SignalSentinel/internal/model"
)

// SnapshotReader returns every stored snapshot in one consistent read.
type SnapshotReader interface {
	All(ctx context.Context) (map[string]*model.Snapshot, error)
}

// OpportunityReader lists opportunities created since a point in time.
type OpportunityReader interface {
	ListCreatedSince(ctx context.Context, since time.Time) ([]*model.Opportunity, error)
}

// Mover is the price change of one symbol over a period.
type Mover struct {
	Symbol        string          `json:"symbol"`
	From          float64         `json:"from"`
	To            float64         `json:"to"`
	ChangePercent float64         `json:"change_percent"`
	RSI           model.Indicator `json:"rsi"`
	RangePosition model.Indicator `json:"range_position"` // 0 at range low, 1 at range high
}

// Movers is sorted by ChangePercent descending, ties by symbol.
type Movers []Mover

// Top returns the first n entries.
func (m Movers) Top(n int) Movers {
	if n > len(m) {
		n = len(m)
	}
	if n < 0 {
		n = 0
	}
	return m[:n]
}

// Bottom returns the last n entries, in list order. It never overlaps Top(n).
func (m Movers) Bottom(n int) Movers {
	if n < 0 {
		n = 0
	}
	start := len(m) - n
	if top := len(m.Top(n)); start < top {
		start = top
	}
	return m[start:]
}

// Performance summarizes opportunities created within a window.
type Performance struct {
	Window           time.Duration `json:"window"`
	Total            int           `json:"total"`
	Active           int           `json:"active"`
	Completed        int           `json:"completed"`
	Stopped          int           `json:"stopped"`
	CompletedPercent float64       `json:"completed_percent"`
	StoppedPercent   float64       `json:"stopped_percent"`
	NetPercent       float64       `json:"net_percent"`
}

// Report is a full instant report.
type Report struct {
	Cadence     model.Cadence `json:"cadence"`
	GeneratedAt time.Time     `json:"generated_at"`
	Top         Movers        `json:"top"`
	Bottom      Movers        `json:"bottom"`
	Performance Performance   `json:"performance"`
}

// Aggregator computes cross-instrument rankings and opportunity summaries.
type Aggregator struct {
	snapshots SnapshotReader
	opps      OpportunityReader
	rankSize  int
	now       func() time.Time
}

// NewAggregator creates an Aggregator listing rankSize movers on each side.
func NewAggregator(snapshots SnapshotReader, opps OpportunityReader, rankSize int) *Aggregator {
	if rankSize <= 0 {
		rankSize = 5
	}
	return &Aggregator{snapshots: snapshots, opps: opps, rankSize: rankSize, now: time.Now}
}

// TopMovers ranks every symbol by percent change from the open of the first
// bar inside period to the latest close. When no bar falls inside period the
// latest bar alone is used. Snapshots are read once per call.
func (a *Aggregator) TopMovers(ctx context.Context, period time.Duration) (Movers, error) {
	all, err := a.snapshots.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	cutoff := a.now().Add(-period)

	movers := make(Movers, 0, len(all))
	for sym, snap := range all {
		if snap == nil || len(snap.Bars) == 0 {
			continue
		}
		last := snap.Bars[len(snap.Bars)-1]
		first := last
		for _, b := range snap.Bars {
			if !b.Time.Before(cutoff) {
				first = b
				break
			}
		}
		if first.Open <= 0 {
			continue
		}
		movers = append(movers, Mover{
			Symbol:        sym,
			From:          first.Open,
			To:            last.Close,
			ChangePercent: (last.Close - first.Open) / first.Open * 100,
			RSI:           snap.Indicator(model.IndRSI),
			RangePosition: snap.Indicator(model.IndRangePos),
		})
	}
	sort.Slice(movers, func(i, j int) bool {
		if movers[i].ChangePercent != movers[j].ChangePercent {
			return movers[i].ChangePercent > movers[j].ChangePercent
		}
		return movers[i].Symbol < movers[j].Symbol
	})
	return movers, nil
}

// OpportunityPerformance counts opportunities created within window by status
// and sums the realized percent of closed ones.
func (a *Aggregator) OpportunityPerformance(ctx context.Context, window time.Duration) (Performance, error) {
	opps, err := a.opps.ListCreatedSince(ctx, a.now().Add(-window))
	if err != nil {
		return Performance{}, fmt.Errorf("list opportunities: %w", err)
	}
	p := Performance{Window: window, Total: len(opps)}
	for _, o := range opps {
		switch o.Status {
		case model.StatusActive:
			p.Active++
		case model.StatusCompleted:
			p.Completed++
			p.CompletedPercent += o.RealizedPercent()
		case model.StatusStopped:
			p.Stopped++
			p.StoppedPercent += o.RealizedPercent()
		}
	}
	p.NetPercent = p.CompletedPercent + p.StoppedPercent
	return p, nil
}

// InstantReport builds the movers ranking and performance summary for cadence.
func (a *Aggregator) InstantReport(ctx context.Context, cadence model.Cadence) (*Report, error) {
	period := cadence.Duration()
	if period <= 0 {
		return nil, fmt.Errorf("unknown cadence %q: %w", cadence, model.ErrConfiguration)
	}
	movers, err := a.TopMovers(ctx, period)
	if err != nil {
		return nil, err
	}
	perf, err := a.OpportunityPerformance(ctx, period)
	if err != nil {
		return nil, err
	}
	return &Report{
		Cadence:     cadence,
		GeneratedAt: a.now().UTC(),
		Top:         movers.Top(a.rankSize),
		Bottom:      movers.Bottom(a.rankSize),
		Performance: perf,
	}, nil
}
