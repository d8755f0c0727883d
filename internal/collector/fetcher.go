package collector

import (
	"context"

	"SignalSentinel/internal/model"
)

// Fetcher defines the interface for fetching market data.
// Implementations return zero bars, not an error, when an instrument is
// delisted or momentarily unavailable.
type Fetcher interface {
	FetchBars(ctx context.Context, symbol string, lookback int) ([]model.OHLCV, error)
	Name() string
}
