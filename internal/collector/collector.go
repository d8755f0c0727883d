package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"SignalSentinel/internal/model"
)

func newLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	mu     sync.Mutex
	Price  float64
	Data   map[string][]model.OHLCV
	Errors map[string]error
	Calls  int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchBars(_ context.Context, symbol string, lookback int) ([]model.OHLCV, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err, ok := m.Errors[symbol]; ok {
		return nil, err
	}
	if bars, ok := m.Data[symbol]; ok {
		if lookback > 0 && len(bars) > lookback {
			bars = bars[len(bars)-lookback:]
		}
		return append([]model.OHLCV(nil), bars...), nil
	}
	if m.Price == 0 {
		return nil, nil
	}
	return generateMockBars(m.Price, lookback), nil
}

// SetBars replaces the series served for a symbol.
func (m *MockFetcher) SetBars(symbol string, bars []model.OHLCV) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Data == nil {
		m.Data = make(map[string][]model.OHLCV)
	}
	m.Data[symbol] = bars
}

func generateMockBars(basePrice float64, count int) []model.OHLCV {
	bars := make([]model.OHLCV, count)
	now := time.Now().UTC().Truncate(time.Hour)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.OHLCV{
			Time:   now.Add(-time.Duration(count-i) * time.Hour),
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		}
	}
	return bars
}

// Collector wraps a Fetcher with a per-call timeout and maps empty or failed
// responses onto model.ErrDataUnavailable.
type Collector struct {
	Fetcher  Fetcher
	Lookback int
	Timeout  time.Duration
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, lookback int, timeout time.Duration) *Collector {
	return &Collector{Fetcher: fetcher, Lookback: lookback, Timeout: timeout}
}

// Bars fetches the configured lookback of bars for symbol.
func (c *Collector) Bars(ctx context.Context, symbol string) ([]model.OHLCV, error) {
	return c.fetch(ctx, symbol, c.Lookback)
}

// LatestPrice returns the close of the most recent bar.
func (c *Collector) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	bars, err := c.fetch(ctx, symbol, 1)
	if err != nil {
		return 0, err
	}
	return bars[len(bars)-1].Close, nil
}

func (c *Collector) fetch(ctx context.Context, symbol string, lookback int) ([]model.OHLCV, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	bars, err := c.Fetcher.FetchBars(ctx, symbol, lookback)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", c.Fetcher.Name(), symbol, err, model.ErrDataUnavailable)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s: no bars: %w", c.Fetcher.Name(), symbol, model.ErrDataUnavailable)
	}
	return bars, nil
}
