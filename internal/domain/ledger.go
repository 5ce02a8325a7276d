package domain

import (
	"math/big"
	"time"
)

// SwapLedgerEntry is an append-only record of raw trade amounts.
// Corresponds to swap_ledger table in ClickHouse.
type SwapLedgerEntry struct {
	User       string   // trader, lowercase hex
	ZeroForOne bool     // trade direction
	AmountIn   *big.Int // raw input amount
	AmountOut  *big.Int // raw output amount
	Timestamp  int64    // Unix seconds, from the event payload
	CreatedAt  time.Time
}
