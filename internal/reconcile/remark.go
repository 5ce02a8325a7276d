package reconcile

import (
	"fmt"
	"strconv"
	"strings"
)

// remarkMatcher tries one known remark layout. ok is false when the layout
// does not apply; a layout that applies but fails to parse also returns
// false so the next matcher gets a chance.
type remarkMatcher struct {
	name  string
	match func(remark string) (int64, bool)
}

// remarkMatchers lists the accepted mint remark layouts, tried in order,
// first match wins:
//
//	"12"              bare unit id
//	"MintNFT#12"      prefix + id
//	"MintNFT#12:url"  prefix + id + trailing payload
//	"12:url"          id + trailing payload
var remarkMatchers = []remarkMatcher{
	{
		name: "bare",
		match: func(remark string) (int64, bool) {
			id, err := strconv.ParseInt(remark, 10, 64)
			return id, err == nil
		},
	},
	{
		name: "prefixed",
		match: func(remark string) (int64, bool) {
			_, after, found := strings.Cut(remark, "#")
			if !found {
				return 0, false
			}
			if idStr, _, hasPayload := strings.Cut(after, ":"); hasPayload {
				after = idStr
			}
			id, err := strconv.ParseInt(after, 10, 64)
			return id, err == nil
		},
	},
	{
		name: "payload",
		match: func(remark string) (int64, bool) {
			idStr, _, found := strings.Cut(remark, ":")
			if !found {
				return 0, false
			}
			id, err := strconv.ParseInt(idStr, 10, 64)
			return id, err == nil
		},
	},
}

// ParseUnitID extracts the unit id carried by a mint remark.
func ParseUnitID(remark string) (int64, error) {
	for _, m := range remarkMatchers {
		if id, ok := m.match(remark); ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no unit id in remark %q", remark)
}
