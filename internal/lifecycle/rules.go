package lifecycle

import (
	"fmt"
	"math"

	"SignalSentinel/internal/model"
)

// TargetRule derives the target ladder and stop loss of a new opportunity.
type TargetRule struct {
	Steps         int     // number of targets
	StepPercent   float64 // spacing between targets, percent of entry
	StopFactor    float64 // multiplier applied to the recent low, below 1
	RecentLowBars int     // bars scanned for the recent low; 0 uses the whole snapshot
}

// DefaultRule is used for strategies without a configured rule.
func DefaultRule() TargetRule {
	return TargetRule{Steps: 3, StepPercent: 5, StopFactor: 0.95, RecentLowBars: 10}
}

// Validate checks the rule is usable.
func (r TargetRule) Validate() error {
	if r.Steps < 1 {
		return fmt.Errorf("target rule steps %d < 1: %w", r.Steps, model.ErrConfiguration)
	}
	if r.StepPercent <= 0 {
		return fmt.Errorf("target rule step %.4f must be positive: %w", r.StepPercent, model.ErrConfiguration)
	}
	if r.StopFactor <= 0 || r.StopFactor >= 1 {
		return fmt.Errorf("stop factor %.4f outside (0, 1): %w", r.StopFactor, model.ErrConfiguration)
	}
	if r.RecentLowBars < 0 {
		return fmt.Errorf("recent low bars %d < 0: %w", r.RecentLowBars, model.ErrConfiguration)
	}
	return nil
}

// Targets returns Steps equally spaced targets above entry, strictly increasing.
func (r TargetRule) Targets(entry float64) []float64 {
	out := make([]float64, r.Steps)
	for k := 1; k <= r.Steps; k++ {
		out[k-1] = entry * (100 + r.StepPercent*float64(k)) / 100
	}
	return out
}

// StopLoss is min(recent low, entry) scaled by StopFactor. Without bars the
// entry is used.
func (r TargetRule) StopLoss(entry float64, snap *model.Snapshot) float64 {
	low := entry
	if snap != nil && len(snap.Bars) > 0 {
		bars := snap.Bars
		if r.RecentLowBars > 0 && len(bars) > r.RecentLowBars {
			bars = bars[len(bars)-r.RecentLowBars:]
		}
		recent := math.Inf(1)
		for _, b := range bars {
			if b.Low > 0 && b.Low < recent {
				recent = b.Low
			}
		}
		if recent < low {
			low = recent
		}
	}
	return low * r.StopFactor
}

// Rules maps strategy names to target rules.
type Rules struct {
	Default     TargetRule
	PerStrategy map[string]TargetRule
}

// For returns the rule configured for strategy, or the default.
func (r Rules) For(strategy string) TargetRule {
	if rule, ok := r.PerStrategy[strategy]; ok {
		return rule
	}
	return r.Default
}

// Validate checks every rule.
func (r Rules) Validate() error {
	if err := r.Default.Validate(); err != nil {
		return fmt.Errorf("default rule: %w", err)
	}
	for name, rule := range r.PerStrategy {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", name, err)
		}
	}
	return nil
}
