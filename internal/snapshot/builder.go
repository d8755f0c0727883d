package snapshot

import (
	"sort"
	"time"

	"SignalSentinel/internal/calculator"
	"SignalSentinel/internal/model"
)

// Params controls the indicator lookbacks computed for every snapshot.
type Params struct {
	FastPeriod       int
	SlowPeriod       int
	RSIPeriod        int
	RangePeriod      int // 0 means the whole series
	BreakoutLookback int
}

// DefaultParams mirrors the classic MA50/MA200/RSI14 setup.
func DefaultParams() Params {
	return Params{
		FastPeriod:       50,
		SlowPeriod:       200,
		RSIPeriod:        14,
		RangePeriod:      0,
		BreakoutLookback: 20,
	}
}

// Normalize returns the bars sorted by time with duplicate timestamps removed.
// When two bars share a timestamp the later one in the input wins.
func Normalize(bars []model.OHLCV) []model.OHLCV {
	out := append([]model.OHLCV(nil), bars...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	n := 0
	for i := range out {
		if n > 0 && out[n-1].Time.Equal(out[i].Time) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// Build computes a snapshot for symbol. Indicators that need more bars than
// available are stored as model.Insufficient.
func Build(symbol string, bars []model.OHLCV, p Params, now time.Time) *model.Snapshot {
	bars = Normalize(bars)
	closes := calculator.Closes(bars)
	ind := make(map[string]model.Indicator, 10+len(calculator.FibRatios))

	ind[model.IndMAFast] = wrap(calculator.CalculateSMAAt(closes, p.FastPeriod, 0))
	ind[model.IndMAFastPrev] = wrap(calculator.CalculateSMAAt(closes, p.FastPeriod, 1))
	ind[model.IndMASlow] = wrap(calculator.CalculateSMAAt(closes, p.SlowPeriod, 0))
	ind[model.IndMASlowPrev] = wrap(calculator.CalculateSMAAt(closes, p.SlowPeriod, 1))
	ind[model.IndRSI] = wrap(calculator.CalculateRSI(bars, p.RSIPeriod))

	if high, low, err := calculator.CalculateRange(bars, p.RangePeriod); err == nil {
		ind[model.IndRangeHigh] = model.Value(high)
		ind[model.IndRangeLow] = model.Value(low)
		ind[model.IndRangePos] = wrap(calculator.RangePosition(closes[len(closes)-1], high, low))
		for ratio, level := range calculator.FibLevels(high, low) {
			ind[model.FibIndicator(ratio)] = model.Value(level)
		}
	} else {
		ind[model.IndRangeHigh] = model.Insufficient
		ind[model.IndRangeLow] = model.Insufficient
		ind[model.IndRangePos] = model.Insufficient
		for _, ratio := range calculator.FibRatios {
			ind[model.FibIndicator(ratio)] = model.Insufficient
		}
	}

	ind[model.IndRollingHigh] = wrap(calculator.PriorHigh(bars, p.BreakoutLookback))
	ind[model.IndAvgVolume] = wrap(calculator.AverageVolume(bars, p.BreakoutLookback))

	return &model.Snapshot{
		Symbol:     symbol,
		Bars:       bars,
		Indicators: ind,
		BuiltAt:    now,
	}
}

func wrap(v float64, err error) model.Indicator {
	if err != nil {
		return model.Insufficient
	}
	return model.Value(v)
}
