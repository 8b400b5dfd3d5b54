// Package roles implements the role hierarchy used to gate role assignment.
//
// The hierarchy is a fixed rank table over a closed set of roles. Every function
// in this package is pure and total: unrecognised role names rank as zero and
// can never be granted by rank comparison alone.
package roles

// Role is a capability tag held through a role assignment.
type Role string

const (
	// UberAdmin is the system-wide role; it is never scoped to a site.
	UberAdmin Role = "uber_admin"
	// SuperAdmin administers a single site.
	SuperAdmin Role = "super_admin"
	// ContentAdmin manages a site's content library.
	ContentAdmin Role = "content_admin"
	// SocialAdmin manages a site's social presence.
	SocialAdmin Role = "social_admin"
	// Moderator moderates a site's community.
	Moderator Role = "moderator"
)

// Rank values of the hierarchy.
const (
	RankNone         = 0
	RankModerator    = 20
	RankSocialAdmin  = 30
	RankContentAdmin = 40
	RankSuperAdmin   = 50
	RankUberAdmin    = 100
)

var all = []Role{UberAdmin, SuperAdmin, ContentAdmin, SocialAdmin, Moderator}

// All returns every known role ordered by rank, highest first.
func All() []Role {
	out := make([]Role, len(all))
	copy(out, all)
	return out
}

// Parse converts a stored role name into a Role.
func Parse(name string) (Role, bool) {
	r := Role(name)
	if RankOf(r) == RankNone {
		return "", false
	}
	return r, true
}

// Valid reports whether the role belongs to the closed role set.
func (r Role) Valid() bool {
	return RankOf(r) > RankNone
}

// Scoped reports whether assignments of the role must name a site.
func (r Role) Scoped() bool {
	return r != UberAdmin
}

func (r Role) String() string {
	return string(r)
}
