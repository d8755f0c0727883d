package calculator

import (
	"errors"
	"math"
	"testing"
	"time"

	"SignalSentinel/internal/model"
)

func bars(closes ...float64) []model.OHLCV {
	out := make([]model.OHLCV, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = model.OHLCV{
			Time:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: float64(100 * (i + 1)),
		}
	}
	return out
}

func TestCalculateSMAAt(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		period, back int
		want         float64
	}{
		{5, 0, 3},
		{2, 0, 4.5},
		{2, 1, 3.5},
		{4, 1, 2.5},
	}
	for _, tt := range tests {
		got, err := CalculateSMAAt(prices, tt.period, tt.back)
		if err != nil {
			t.Fatalf("period %d back %d: unexpected error %v", tt.period, tt.back, err)
		}
		if got != tt.want {
			t.Errorf("period %d back %d: expected %.2f, got %.2f", tt.period, tt.back, tt.want, got)
		}
	}

	if _, err := CalculateSMAAt(prices, 5, 1); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := CalculateSMA(prices, 0); err == nil {
		t.Error("expected error for zero period")
	}
}

func TestAverageVolume_ExcludesLatest(t *testing.T) {
	b := bars(10, 11, 12, 13) // volumes 100, 200, 300, 400
	got, err := AverageVolume(b, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != 200 {
		t.Errorf("expected 200, got %.2f", got)
	}
	if _, err := AverageVolume(b, 4); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestCalculateRange(t *testing.T) {
	b := bars(10, 20, 15, 12)
	high, low, err := CalculateRange(b, 0)
	if err != nil {
		t.Fatal(err)
	}
	if high != 21 || low != 9 {
		t.Errorf("expected 21/9, got %.0f/%.0f", high, low)
	}
	high, low, err = CalculateRange(b, 2)
	if err != nil {
		t.Fatal(err)
	}
	if high != 16 || low != 11 {
		t.Errorf("expected 16/11, got %.0f/%.0f", high, low)
	}
	if _, _, err := CalculateRange(nil, 0); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestPriorHigh(t *testing.T) {
	b := bars(10, 20, 15, 30)
	got, err := PriorHigh(b, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != 21 {
		t.Errorf("expected prior high 21 (latest excluded), got %.0f", got)
	}
}

func TestCalculateRSI(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	rsi, err := CalculateRSI(bars(rising...), 14)
	if err != nil {
		t.Fatal(err)
	}
	if rsi != 100 {
		t.Errorf("expected RSI 100 for a strictly rising series, got %.2f", rsi)
	}

	if _, err := CalculateRSI(bars(1, 2, 3), 14); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestFibLevels(t *testing.T) {
	levels := FibLevels(200, 100)
	if math.Abs(levels[0.618]-161.8) > 1e-9 {
		t.Errorf("expected 161.8, got %.4f", levels[0.618])
	}
	if levels[1.0] != 200 {
		t.Errorf("expected 1.0 level at high, got %.2f", levels[1.0])
	}
}

func TestRangePosition(t *testing.T) {
	tests := []struct {
		name            string
		price, high, lo float64
		want            float64
		wantErr         bool
	}{
		{"middle", 150, 200, 100, 0.5, false},
		{"above clamps", 250, 200, 100, 1, false},
		{"below clamps", 50, 200, 100, 0, false},
		{"flat range", 7, 100, 100, 0.5, false},
		{"inverted", 1, 100, 200, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RangePosition(tt.price, tt.high, tt.lo)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %.2f, got %.2f", tt.want, got)
			}
		})
	}
}
