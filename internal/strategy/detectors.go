package strategy

import (
	"SignalSentinel/internal/calculator"
	"SignalSentinel/internal/model"
)

// Strategy names.
const (
	TrendCross     = "trend_cross"
	Breakout       = "breakout"
	Retracement    = "retracement"
	RangeExpansion = "range_expansion"
)

// Config carries the tunable thresholds of the built-in detectors.
type Config struct {
	VolumeMultiple         float64 // breakout: latest volume vs average
	RetracementLevel       float64 // fraction between range low and high
	RangeExpansionFraction float64 // latest range vs prior close
}

// DefaultConfig returns the canonical thresholds.
func DefaultConfig() Config {
	return Config{
		VolumeMultiple:         1.5,
		RetracementLevel:       0.618,
		RangeExpansionFraction: 0.05,
	}
}

// NewDefaultRegistry registers the four built-in detectors.
func NewDefaultRegistry(cfg Config) *Registry {
	r, _ := NewRegistry(
		TrendCrossDetector{},
		BreakoutDetector{VolumeMultiple: cfg.VolumeMultiple},
		RetracementDetector{Level: cfg.RetracementLevel},
		RangeExpansionDetector{Fraction: cfg.RangeExpansionFraction},
	)
	return r
}

// TrendCrossDetector fires when the fast MA moves from at-or-below to
// strictly above the slow MA between the two most recent bars.
type TrendCrossDetector struct{}

func (TrendCrossDetector) Name() string { return TrendCross }

func (d TrendCrossDetector) Evaluate(snap *model.Snapshot) model.Detection {
	fast := snap.Indicator(model.IndMAFast)
	fastPrev := snap.Indicator(model.IndMAFastPrev)
	slow := snap.Indicator(model.IndMASlow)
	slowPrev := snap.Indicator(model.IndMASlowPrev)
	last, ok := snap.Latest()
	if !ok || !fast.OK || !fastPrev.OK || !slow.OK || !slowPrev.OK {
		return none(d.Name())
	}
	if fastPrev.Value <= slowPrev.Value && fast.Value > slow.Value {
		return hit(d.Name(), last.Close)
	}
	return none(d.Name())
}

// BreakoutDetector fires when the latest close clears the prior rolling high
// on above-average volume. Both conditions are required.
type BreakoutDetector struct {
	VolumeMultiple float64
}

func (BreakoutDetector) Name() string { return Breakout }

func (d BreakoutDetector) Evaluate(snap *model.Snapshot) model.Detection {
	high := snap.Indicator(model.IndRollingHigh)
	avgVol := snap.Indicator(model.IndAvgVolume)
	last, ok := snap.Latest()
	if !ok || !high.OK || !avgVol.OK {
		return none(d.Name())
	}
	priceBreak := last.Close > high.Value
	volumeBreak := last.Volume > d.VolumeMultiple*avgVol.Value
	if priceBreak && volumeBreak {
		return hit(d.Name(), last.Close)
	}
	return none(d.Name())
}

// RetracementDetector fires when the latest close is above a Fibonacci level
// of the snapshot range.
type RetracementDetector struct {
	Level float64
}

func (RetracementDetector) Name() string { return Retracement }

func (d RetracementDetector) Evaluate(snap *model.Snapshot) model.Detection {
	high := snap.Indicator(model.IndRangeHigh)
	low := snap.Indicator(model.IndRangeLow)
	last, ok := snap.Latest()
	if !ok || !high.OK || !low.OK || high.Value <= low.Value {
		return none(d.Name())
	}
	level := snap.Indicator(model.FibIndicator(d.Level))
	if !level.OK {
		level = model.Value(calculator.FibLevel(high.Value, low.Value, d.Level))
	}
	if last.Close > level.Value {
		return hit(d.Name(), last.Close)
	}
	return none(d.Name())
}

// RangeExpansionDetector fires on a volatility spike: the latest bar's range
// exceeds a fraction of the prior close.
type RangeExpansionDetector struct {
	Fraction float64
}

func (RangeExpansionDetector) Name() string { return RangeExpansion }

func (d RangeExpansionDetector) Evaluate(snap *model.Snapshot) model.Detection {
	last, ok := snap.Latest()
	prev, okPrev := snap.Previous()
	if !ok || !okPrev || prev.Close <= 0 {
		return none(d.Name())
	}
	if last.Range() > d.Fraction*prev.Close {
		return hit(d.Name(), last.Close)
	}
	return none(d.Name())
}
