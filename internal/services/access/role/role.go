// Package role defines the fixed role hierarchy for protected resources and
// the rule for combining overlapping role sources into one effective role.
package role

// Role is a named permission level with a fixed total-order rank.
type Role string

const (
	// None indicates the absence of a role.
	None Role = ""
	// Reader can view the resource.
	Reader Role = "reader"
	// Speaker can contribute to the resource.
	Speaker Role = "speaker"
	// Vip is a speaker with elevated visibility.
	Vip Role = "vip"
	// Moderator can manage other participants.
	Moderator Role = "moderator"
	// Owner has full control over the resource.
	Owner Role = "owner"
)

// levels ranks every role. The table is fixed at deployment; combination
// never consults it beyond max-by-rank.
var levels = map[Role]int{
	None:      0,
	Reader:    1,
	Speaker:   2,
	Vip:       3,
	Moderator: 4,
	Owner:     5,
}

// Level returns the rank of a role. Unknown roles rank as None.
func Level(r Role) int {
	return levels[r]
}

// Valid reports whether r is a known role. None is not a valid grant role.
func Valid(r Role) bool {
	_, ok := levels[r]
	return ok && r != None
}

// Combine returns whichever of a, b has the higher rank. It keeps the
// non-empty side when exactly one is None and returns None when both are.
func Combine(a, b Role) Role {
	if Level(b) > Level(a) {
		return b
	}
	return a
}

// CombineAll folds Combine left-to-right across an ordered list of role
// sources. The result is the maximum rank over all present sources.
func CombineAll(roles ...Role) Role {
	combined := None
	for _, r := range roles {
		combined = Combine(combined, r)
	}
	return combined
}
