package roles

// RankOf returns the numeric rank of a role. Unknown roles rank zero.
func RankOf(r Role) int {
	switch r {
	case UberAdmin:
		return RankUberAdmin
	case SuperAdmin:
		return RankSuperAdmin
	case ContentAdmin:
		return RankContentAdmin
	case SocialAdmin:
		return RankSocialAdmin
	case Moderator:
		return RankModerator
	default:
		return RankNone
	}
}

// RankOfName ranks a raw role string as read from storage.
func RankOfName(name string) int {
	return RankOf(Role(name))
}

// Subject is the role standing of a user at one site.
type Subject struct {
	// IsUberAdmin is the system-wide status granted independently of site roles.
	IsUberAdmin bool
	// Roles holds the user's assignments at the current site.
	Roles []Role
}

// EffectiveRank is the highest rank the subject holds. System-wide uber admin
// status overrides any per-site assignment.
func EffectiveRank(s Subject) int {
	if s.IsUberAdmin {
		return RankUberAdmin
	}
	best := RankNone
	for _, r := range s.Roles {
		if rank := RankOf(r); rank > best {
			best = rank
		}
	}
	return best
}

// CanAssign reports whether an actor may grant target. The comparison is
// strict so nobody can create a peer; uber_admin is grantable only by an
// existing uber admin regardless of rank. Unknown roles are reserved to uber
// admins as well.
func CanAssign(actorRank int, actorIsUber bool, target Role) bool {
	if target == UberAdmin || !target.Valid() {
		return actorIsUber
	}
	return actorRank > RankOf(target)
}

// CanRevoke mirrors CanAssign: whoever could grant a role may revoke it.
func CanRevoke(actorRank int, actorIsUber bool, target Role) bool {
	return CanAssign(actorRank, actorIsUber, target)
}

// AssignableRoles lists every role the actor may grant, highest rank first.
func AssignableRoles(actorRank int, actorIsUber bool) []Role {
	out := make([]Role, 0, len(all))
	for _, r := range all {
		if CanAssign(actorRank, actorIsUber, r) {
			out = append(out, r)
		}
	}
	return out
}
