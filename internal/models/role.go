package models

import (
	"github.com/shopspring/decimal"
)

// Role is one of the fixed clan role tiers, totally ordered by priority.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleOfficer   Role = "officer"
	RoleMember    Role = "member"
	RoleRecruit   Role = "recruit"
)

// roleInfo captures the fixed hierarchy parameters of a role tier.
type roleInfo struct {
	priority int
	weight   decimal.Decimal
	// maxPopulation of 0 means unbounded.
	maxPopulation int
	assigns       []Role
	permissions   []string
}

var roleTable = map[Role]roleInfo{
	RoleOwner: {
		priority:      1000,
		weight:        decimal.RequireFromString("10"),
		maxPopulation: 1,
		assigns:       []Role{RoleAdmin, RoleModerator, RoleOfficer, RoleMember, RoleRecruit},
		permissions:   []string{"*"},
	},
	RoleAdmin: {
		priority:      900,
		weight:        decimal.RequireFromString("5"),
		maxPopulation: 5,
		assigns:       []Role{RoleModerator, RoleOfficer, RoleMember, RoleRecruit},
		permissions: []string{
			"role.request", "role.assign", "member.remove", "member.ban",
			"proposal.*", "vote.cast", "delegation.manage",
		},
	},
	RoleModerator: {
		priority:      800,
		weight:        decimal.RequireFromString("3"),
		maxPopulation: 10,
		assigns:       []Role{RoleMember, RoleRecruit},
		permissions: []string{
			"role.request", "proposal.create", "vote.cast", "delegation.manage",
		},
	},
	RoleOfficer: {
		priority:      700,
		weight:        decimal.RequireFromString("2"),
		maxPopulation: 15,
		assigns:       []Role{RoleRecruit},
		permissions: []string{
			"role.request", "proposal.create", "vote.cast", "delegation.manage",
		},
	},
	RoleMember: {
		priority:    500,
		weight:      decimal.RequireFromString("1"),
		permissions: []string{"vote.cast", "delegation.manage"},
	},
	RoleRecruit: {
		priority:    100,
		weight:      decimal.RequireFromString("0.5"),
		permissions: []string{"vote.cast"},
	},
}

// AllRoles returns every role tier in descending priority order.
func AllRoles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleModerator, RoleOfficer, RoleMember, RoleRecruit}
}

// ParseRole converts a role name to a Role. The second return is false for
// unknown names.
func ParseRole(name string) (Role, bool) {
	r := Role(name)
	_, ok := roleTable[r]
	return r, ok
}

func (r Role) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

// Priority returns the role's position in the total order. Higher outranks
// lower.
func (r Role) Priority() int {
	return roleTable[r].priority
}

// Weight returns the voting weight multiplier for the role.
func (r Role) Weight() decimal.Decimal {
	return roleTable[r].weight
}

// MaxPopulation returns the population cap for the role, or 0 when
// unbounded.
func (r Role) MaxPopulation() int {
	return roleTable[r].maxPopulation
}

// CanAssign reports whether a holder of r may assign the target role.
func (r Role) CanAssign(target Role) bool {
	for _, t := range roleTable[r].assigns {
		if t == target {
			return true
		}
	}
	return false
}

// Outranks reports whether r is strictly higher than other.
func (r Role) Outranks(other Role) bool {
	return r.Priority() > other.Priority()
}

// DefaultPermissions returns the permission tags granted by the role before
// per-clan overrides.
func (r Role) DefaultPermissions() []string {
	return roleTable[r].permissions
}

// RequiredApprovals returns the approval count needed to assign the target
// role and whether one of the approvals must come from the clan Owner.
// Admin promotions need 1 admin plus the Owner; Moderator and Officer need
// 2 admins; Member and Recruit need 1.
func RequiredApprovals(target Role) (count int, ownerRequired bool) {
	switch target {
	case RoleAdmin:
		return 1, true
	case RoleModerator, RoleOfficer:
		return 2, false
	default:
		return 1, false
	}
}
