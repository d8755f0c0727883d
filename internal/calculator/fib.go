package calculator

// FibRatios are the retracement ratios reported for a range.
var FibRatios = []float64{0.236, 0.382, 0.5, 0.618, 1.0}

// FibLevel returns the price at the given fraction between low and high.
func FibLevel(high, low, ratio float64) float64 {
	return low + (high-low)*ratio
}

// FibLevels returns every level in FibRatios keyed by ratio.
func FibLevels(high, low float64) map[float64]float64 {
	levels := make(map[float64]float64, len(FibRatios))
	for _, r := range FibRatios {
		levels[r] = FibLevel(high, low, r)
	}
	return levels
}
