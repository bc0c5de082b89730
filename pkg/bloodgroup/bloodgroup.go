// Package bloodgroup holds the canonical ABO/Rh blood group type and the
// donor-compatibility matrix shared by the cross-match engine, the issuance
// gate's bedside check and the unit suggestion query. Keeping a single table
// here prevents the per-call-site copies from drifting.
package bloodgroup

import (
	"fmt"
	"strings"
)

// Group is an ABO/Rh blood group. Zero value means "unknown".
type Group string

const (
	APos  Group = "A_POS"
	ANeg  Group = "A_NEG"
	BPos  Group = "B_POS"
	BNeg  Group = "B_NEG"
	ABPos Group = "AB_POS"
	ABNeg Group = "AB_NEG"
	OPos  Group = "O_POS"
	ONeg  Group = "O_NEG"
)

// All lists the eight valid groups.
var All = []Group{APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg}

var valid = map[Group]bool{
	APos: true, ANeg: true, BPos: true, BNeg: true,
	ABPos: true, ABNeg: true, OPos: true, ONeg: true,
}

// Valid reports whether g is one of the eight ABO/Rh groups.
func (g Group) Valid() bool { return valid[g] }

func (g Group) String() string { return string(g) }

// Parse normalizes a raw group string ("AB_POS", "ab_pos") into a Group.
func Parse(s string) (Group, error) {
	g := Group(strings.ToUpper(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("invalid blood group %q", s)
	}
	return g, nil
}

// FromABORh derives a Group from a separate ABO class and Rh factor, the way
// grouping results report them. Rh accepts any value starting with POS/NEG
// (POSITIVE, NEG, ...). Returns false when no confirmed group can be derived.
func FromABORh(abo, rh string) (Group, bool) {
	a := strings.ToUpper(strings.TrimSpace(abo))
	switch a {
	case "A", "B", "AB", "O":
	default:
		return "", false
	}
	r := strings.ToUpper(strings.TrimSpace(rh))
	switch {
	case strings.HasPrefix(r, "POS"):
		r = "POS"
	case strings.HasPrefix(r, "NEG"):
		r = "NEG"
	default:
		return "", false
	}
	return Group(a + "_" + r), true
}

// compatibleDonors maps a recipient group to the donor groups it may receive
// red cells from. O_NEG is the universal donor; AB_POS the universal
// recipient.
var compatibleDonors = map[Group][]Group{
	ONeg:  {ONeg},
	OPos:  {ONeg, OPos},
	ANeg:  {ONeg, ANeg},
	APos:  {ONeg, OPos, ANeg, APos},
	BNeg:  {ONeg, BNeg},
	BPos:  {ONeg, OPos, BNeg, BPos},
	ABNeg: {ONeg, ANeg, BNeg, ABNeg},
	ABPos: {ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos},
}

// Compatible reports whether a unit of donor group may be transfused to a
// patient of recipient group. Unknown or invalid groups are never compatible.
func Compatible(recipient, donor Group) bool {
	for _, d := range compatibleDonors[recipient] {
		if d == donor {
			return true
		}
	}
	return false
}

// CompatibleDonors returns the donor groups acceptable for the recipient, in
// universal-donor-first order. Returns nil for an unknown recipient group.
func CompatibleDonors(recipient Group) []Group {
	src := compatibleDonors[recipient]
	if src == nil {
		return nil
	}
	out := make([]Group, len(src))
	copy(out, src)
	return out
}
