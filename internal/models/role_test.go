package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoleWeights(t *testing.T) {
	cases := []struct {
		role   Role
		weight string
	}{
		{RoleOwner, "10"},
		{RoleAdmin, "5"},
		{RoleModerator, "3"},
		{RoleOfficer, "2"},
		{RoleMember, "1"},
		{RoleRecruit, "0.5"},
	}
	for _, c := range cases {
		assert.True(t, c.role.Weight().Equal(decimal.RequireFromString(c.weight)), "weight of %s", c.role)
	}
}

func TestRoleHierarchy(t *testing.T) {
	ordered := AllRoles()
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i-1].Outranks(ordered[i]), "%s should outrank %s", ordered[i-1], ordered[i])
	}
	assert.False(t, RoleMember.Outranks(RoleMember))
}

func TestRoleCanAssign(t *testing.T) {
	assert.True(t, RoleOwner.CanAssign(RoleAdmin))
	assert.False(t, RoleOwner.CanAssign(RoleOwner))
	assert.True(t, RoleAdmin.CanAssign(RoleModerator))
	assert.False(t, RoleAdmin.CanAssign(RoleAdmin))
	assert.True(t, RoleModerator.CanAssign(RoleMember))
	assert.False(t, RoleModerator.CanAssign(RoleOfficer))
	assert.True(t, RoleOfficer.CanAssign(RoleRecruit))
	assert.False(t, RoleMember.CanAssign(RoleRecruit))
}

func TestRoleMaxPopulation(t *testing.T) {
	assert.Equal(t, 1, RoleOwner.MaxPopulation())
	assert.Equal(t, 5, RoleAdmin.MaxPopulation())
	assert.Equal(t, 10, RoleModerator.MaxPopulation())
	assert.Equal(t, 15, RoleOfficer.MaxPopulation())
	assert.Equal(t, 0, RoleMember.MaxPopulation())
	assert.Equal(t, 0, RoleRecruit.MaxPopulation())
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("admin")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, role)

	_, ok = ParseRole("sultan")
	assert.False(t, ok)
}

func TestRequiredApprovals(t *testing.T) {
	count, ownerRequired := RequiredApprovals(RoleAdmin)
	assert.Equal(t, 1, count)
	assert.True(t, ownerRequired)

	for _, role := range []Role{RoleModerator, RoleOfficer} {
		count, ownerRequired = RequiredApprovals(role)
		assert.Equal(t, 2, count)
		assert.False(t, ownerRequired)
	}

	for _, role := range []Role{RoleMember, RoleRecruit} {
		count, ownerRequired = RequiredApprovals(role)
		assert.Equal(t, 1, count)
		assert.False(t, ownerRequired)
	}
}
