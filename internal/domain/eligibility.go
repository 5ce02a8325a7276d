package domain

// UnitEligibility describes one unit's completeness toward minting.
// Serialized into the derived cache and consumed by the API layer.
type UnitEligibility struct {
	UnitID     int64     `json:"unit_id"`
	FileName   string    `json:"file_name"`
	TokenID    *int64    `json:"token_id"`
	Complete   bool      `json:"complete"` // user owns every chip of the unit
	OwnedChips int       `json:"owned_chips"`
	TotalChips int       `json:"total_chips"`
	MintState  MintState `json:"mint_state"`
}

// MintEligibility is the cached result of the eligibility computation for
// one user: the per-unit breakdown plus the overall can-mint flag.
type MintEligibility struct {
	User    string            `json:"user"`
	CanMint bool              `json:"can_mint"`
	Units   []UnitEligibility `json:"units"`
}
