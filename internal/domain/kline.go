package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resolution identifies a kline aggregation window.
type Resolution string

// Supported kline resolutions, smallest to largest.
const (
	Resolution1m  Resolution = "1m"
	Resolution5m  Resolution = "5m"
	Resolution15m Resolution = "15m"
	Resolution1h  Resolution = "1h"
	Resolution4h  Resolution = "4h"
	Resolution1d  Resolution = "1d"
)

// Resolutions lists every bucket maintained per swap, smallest first.
var Resolutions = []Resolution{
	Resolution1m,
	Resolution5m,
	Resolution15m,
	Resolution1h,
	Resolution4h,
	Resolution1d,
}

// Duration returns the window length. Zero for unknown resolutions.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Resolution1m:
		return time.Minute
	case Resolution5m:
		return 5 * time.Minute
	case Resolution15m:
		return 15 * time.Minute
	case Resolution1h:
		return time.Hour
	case Resolution4h:
		return 4 * time.Hour
	case Resolution1d:
		return 24 * time.Hour
	}
	return 0
}

// BucketStart floors ts to the resolution boundary in UTC.
func (r Resolution) BucketStart(ts time.Time) time.Time {
	return ts.UTC().Truncate(r.Duration())
}

// KlineBucket represents one OHLC window. Open is set only at creation;
// high/low/close and volumes merge on update.
// Corresponds to klines table in PostgreSQL.
type KlineBucket struct {
	PairID      int32
	Resolution  Resolution
	StartTime   time.Time // bucket boundary, UTC
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	VolumeBase  decimal.Decimal // token-side volume, human units
	VolumeQuote decimal.Decimal // quote-side volume, human units
	UpdatedAt   time.Time
}

// DefaultPairID is the single trading pair the pool serves.
const DefaultPairID int32 = 1
