package domain

import "math/big"

// EventKind discriminates events carried on the bus.
type EventKind string

const (
	EventKindAirdrop       EventKind = "airdrop"
	EventKindSwap          EventKind = "swap"
	EventKindTransfer      EventKind = "transfer"
	EventKindMintConfirmed EventKind = "mint_confirmed"
	EventKindKlineUpdate   EventKind = "kline_update"
)

// Event is implemented by every message published on the event bus.
type Event interface {
	Kind() EventKind
}

// AirdropEvent records tokens granted to a user outside of swaps.
// Decoded from the Airdropped log.
type AirdropEvent struct {
	To        string   // recipient, lowercase hex
	Amount    *big.Int // raw token amount
	Timestamp int64    // Unix seconds, from the event payload
	TxHash    string
}

func (AirdropEvent) Kind() EventKind { return EventKindAirdrop }

// SwapEvent records one trade against the pool.
// Decoded from the SwapExecuted log.
type SwapEvent struct {
	User       string // trader, lowercase hex
	ZeroForOne bool   // trade direction
	AmountIn   *big.Int
	AmountOut  *big.Int
	Timestamp  int64 // Unix seconds, from the event payload
	TxHash     string
}

func (SwapEvent) Kind() EventKind { return EventKindSwap }

// TransferEvent is the primary reconciliation trigger. MintRemark is the
// remark of the MosaicMint marker found in the same transaction's receipt;
// nil when no marker was present or the receipt never became available.
// Decoded from the UserTransfer log.
type TransferEvent struct {
	From        string // lowercase hex
	To          string // lowercase hex
	Value       *big.Int
	Timestamp   int64 // Unix seconds, from the event payload
	BlockNumber int64 // from the event payload, not the log envelope
	Remark      string
	TxHash      string
	MintRemark  *string
}

func (TransferEvent) Kind() EventKind { return EventKindTransfer }

// MintConfirmed reports that a transfer carried the mint marker.
func (e TransferEvent) MintConfirmed() bool { return e.MintRemark != nil }

// MintConfirmedEvent records an on-chain mint confirmation.
// Decoded from the UserMint log.
type MintConfirmedEvent struct {
	TokenID     int64  // external token id assigned by the contract
	User        string // minter, lowercase hex
	Remark      string // carries the unit identity
	TokenURL    string
	BlockNumber int64 // from the log envelope
	TxHash      string
}

func (MintConfirmedEvent) Kind() EventKind { return EventKindMintConfirmed }

// KlineUpdateEvent carries one merged bucket to outward consumers.
// Republished by the aggregation worker after each bucket upsert commits.
type KlineUpdateEvent struct {
	Bucket KlineBucket
}

func (KlineUpdateEvent) Kind() EventKind { return EventKindKlineUpdate }
