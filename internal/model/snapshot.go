package model

import (
	"strconv"
	"time"
)

// Indicator names stored in a Snapshot.
const (
	IndMAFast      = "ma_fast"
	IndMAFastPrev  = "ma_fast_prev"
	IndMASlow      = "ma_slow"
	IndMASlowPrev  = "ma_slow_prev"
	IndRSI         = "rsi"
	IndRangeHigh   = "range_high"
	IndRangeLow    = "range_low"
	IndRollingHigh = "rolling_high"
	IndAvgVolume   = "avg_volume"
	IndRangePos    = "range_position"
)

// FibIndicator names the Fibonacci level of ratio within the range,
// e.g. "fib_0.618".
func FibIndicator(ratio float64) string {
	return "fib_" + strconv.FormatFloat(ratio, 'f', -1, 64)
}

// Indicator is a derived value that may be unavailable when the series is
// shorter than the indicator's lookback window.
type Indicator struct {
	Value float64 `json:"value"`
	OK    bool    `json:"ok"`
}

// Value returns an available indicator.
func Value(v float64) Indicator { return Indicator{Value: v, OK: true} }

// Insufficient marks an indicator that could not be computed.
var Insufficient = Indicator{}

// Snapshot is the latest known price history and derived indicators for one
// instrument. A Snapshot is never mutated after it is stored.
type Snapshot struct {
	Symbol     string               `json:"symbol"`
	Bars       []OHLCV              `json:"bars"`
	Indicators map[string]Indicator `json:"indicators"`
	BuiltAt    time.Time            `json:"built_at"`
}

// Indicator looks up a named indicator; missing names are insufficient.
func (s *Snapshot) Indicator(name string) Indicator {
	if s == nil || s.Indicators == nil {
		return Insufficient
	}
	return s.Indicators[name]
}

// Latest returns the most recent bar.
func (s *Snapshot) Latest() (OHLCV, bool) {
	if s == nil || len(s.Bars) == 0 {
		return OHLCV{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Previous returns the bar before the most recent one.
func (s *Snapshot) Previous() (OHLCV, bool) {
	if s == nil || len(s.Bars) < 2 {
		return OHLCV{}, false
	}
	return s.Bars[len(s.Bars)-2], true
}
