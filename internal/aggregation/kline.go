// Package aggregation maintains multi-resolution OHLC buckets and the
// append-only swap ledger from the swap event stream.
package aggregation

import (
	"time"

	"github.com/shopspring/decimal"

	"mosaic-sync/internal/domain"
)

// TradeFigures are the human-unit price and volumes of one swap.
type TradeFigures struct {
	Price       decimal.Decimal
	VolumeBase  decimal.Decimal
	VolumeQuote decimal.Decimal
}

// Figures converts a swap's raw amounts into price and volume terms.
// Direction decides which side is the base: a zeroForOne trade spends the
// base token, so price is in/out and base volume is the input amount; the
// opposite direction mirrors both. A zero divisor yields price zero.
func Figures(ev domain.SwapEvent, decimals int) TradeFigures {
	amountIn := decimal.NewFromBigInt(ev.AmountIn, -int32(decimals))
	amountOut := decimal.NewFromBigInt(ev.AmountOut, -int32(decimals))

	f := TradeFigures{}
	if ev.ZeroForOne {
		if !amountOut.IsZero() {
			f.Price = amountIn.Div(amountOut)
		}
		f.VolumeBase = amountIn
		f.VolumeQuote = amountOut
	} else {
		if !amountIn.IsZero() {
			f.Price = amountOut.Div(amountIn)
		}
		f.VolumeBase = amountOut
		f.VolumeQuote = amountIn
	}
	return f
}

// BucketsForSwap builds the six per-resolution bucket rows one swap
// contributes, each carrying the trade as a single-point OHLC. The store
// merges them into existing rows.
func BucketsForSwap(ev domain.SwapEvent, decimals int) []domain.KlineBucket {
	f := Figures(ev, decimals)
	ts := time.Unix(ev.Timestamp, 0).UTC()

	buckets := make([]domain.KlineBucket, 0, len(domain.Resolutions))
	for _, res := range domain.Resolutions {
		buckets = append(buckets, domain.KlineBucket{
			PairID:      domain.DefaultPairID,
			Resolution:  res,
			StartTime:   res.BucketStart(ts),
			Open:        f.Price,
			High:        f.Price,
			Low:         f.Price,
			Close:       f.Price,
			VolumeBase:  f.VolumeBase,
			VolumeQuote: f.VolumeQuote,
		})
	}
	return buckets
}
