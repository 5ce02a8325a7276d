package domain

import "time"

// MintState tracks the mint lifecycle of units and chips.
// Stored as SMALLINT in PostgreSQL.
type MintState int16

// Mint state values. The zero value is Pending on purpose: a row is only
// ever created in Pending by an explicit mint request, and scanning code
// must read the column rather than rely on defaults.
const (
	MintStatePending MintState = 0 // mint requested, awaiting on-chain confirmation
	MintStateNone    MintState = 1 // no mint in flight (column default)
	MintStateMinted  MintState = 2 // confirmed on-chain, permanently consumed
)

// UnitState is the derived lifecycle state of a unit.
type UnitState string

const (
	UnitStateUnowned     UnitState = "unowned"
	UnitStateOwned       UnitState = "owned"
	UnitStateMintPending UnitState = "mint_pending"
	UnitStateMinted      UnitState = "minted"
)

// Unit represents a scarce collectible assembled from chips.
// Corresponds to units table in PostgreSQL.
type Unit struct {
	ID          int64
	Owner       *string // lowercase hex address, nil while unowned
	Received    bool    // true once assigned to an owner
	MintState   MintState
	TokenID     *int64  // external token id, set at mint confirmation
	TokenURL    *string // media locator, set at mint confirmation
	FileName    *string // tile asset name
	BlockNumber *int64  // confirmation height, set at mint confirmation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// State derives the lifecycle state from ownership and mint state.
func (u Unit) State() UnitState {
	switch {
	case u.Owner == nil:
		return UnitStateUnowned
	case u.MintState == MintStatePending:
		return UnitStateMintPending
	case u.MintState == MintStateMinted:
		return UnitStateMinted
	default:
		return UnitStateOwned
	}
}

// Chip represents an indivisible piece of exactly one unit. A unit is
// complete for a user when every chip with that parent has Owner=user and
// Received=true.
// Corresponds to chips table in PostgreSQL.
type Chip struct {
	ID        int64
	UnitID    int64   // immutable parent
	Owner     *string // lowercase hex address, nil while unowned
	Received  bool
	MintState MintState // None or Minted; chips are never mint-pending
	MintOwner *string   // user whose mint consumed the chip
	PosX      int       // tile column within the unit image
	PosY      int       // tile row within the unit image
	CreatedAt time.Time
	UpdatedAt time.Time
}
