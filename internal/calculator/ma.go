package calculator

import (
	"errors"

	"SignalSentinel/internal/model"
)

// ErrInsufficientData is returned when a series is shorter than the lookback.
var ErrInsufficientData = errors.New("not enough data")

// CalculateSMA computes the simple moving average of the given prices over the specified period.
func CalculateSMA(prices []float64, period int) (float64, error) {
	return CalculateSMAAt(prices, period, 0)
}

// CalculateSMAAt computes the SMA ending `back` bars before the last price.
// back=0 is the current bar, back=1 the previous one.
func CalculateSMAAt(prices []float64, period, back int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if back < 0 {
		return 0, errors.New("offset must not be negative")
	}
	end := len(prices) - back
	if end < period {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for i := end - period; i < end; i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// AverageVolume returns the mean volume of the `period` bars preceding the latest bar.
func AverageVolume(bars []model.OHLCV, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(bars) < period+1 {
		return 0, ErrInsufficientData
	}
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = b.Volume
	}
	return CalculateSMAAt(vols, period, 1)
}

func extractCloses(bars []model.OHLCV) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// Closes returns the close series of the bars.
func Closes(bars []model.OHLCV) []float64 { return extractCloses(bars) }
