package calculator

import (
	"errors"
	"math"

	"SignalSentinel/internal/model"
)

// CalculateRange scans the most recent `period` bars and returns the high and low.
// period <= 0 scans every bar.
func CalculateRange(bars []model.OHLCV, period int) (high, low float64, err error) {
	if len(bars) == 0 {
		return 0, 0, ErrInsufficientData
	}
	n := len(bars)
	start := 0
	if period > 0 {
		if n < period {
			return 0, 0, ErrInsufficientData
		}
		start = n - period
	}
	high, low = scan(bars[start:])
	return high, low, nil
}

// PriorHigh returns the highest high of the `period` bars preceding the latest bar.
func PriorHigh(bars []model.OHLCV, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	n := len(bars)
	if n < period+1 {
		return 0, ErrInsufficientData
	}
	high, _ := scan(bars[n-1-period : n-1])
	return high, nil
}

func scan(bars []model.OHLCV) (high, low float64) {
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, b := range bars {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low
}

// RangePosition returns where price sits between low and high, clamped to
// [0, 1]. A flat range places every price at 0.5.
func RangePosition(price, high, low float64) (float64, error) {
	switch {
	case high < low:
		return 0, errors.New("range high below low")
	case high == low:
		return 0.5, nil
	}
	return math.Max(0, math.Min(1, (price-low)/(high-low))), nil
}
