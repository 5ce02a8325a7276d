package reconcile

import "mosaic-sync/internal/chain"

// DenyList is an immutable set of infrastructure addresses excluded from
// inventory reconciliation. The system's own contracts move tokens
// constantly; letting them accumulate chips would drain the pool.
type DenyList struct {
	addrs map[string]struct{}
}

// NewDenyList builds a deny list from the configured addresses.
// Addresses are normalized to lowercase hex.
func NewDenyList(addrs []string) DenyList {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[chain.NormalizeAddress(a)] = struct{}{}
	}
	return DenyList{addrs: set}
}

// Contains reports whether addr is deny-listed. The lookup assumes addr is
// already lowercase, which decode-time normalization guarantees.
func (d DenyList) Contains(addr string) bool {
	_, ok := d.addrs[addr]
	return ok
}

// Len returns the number of deny-listed addresses.
func (d DenyList) Len() int {
	return len(d.addrs)
}
