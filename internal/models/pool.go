package models

import "strings"

// PoolType categorises a proposal: each pool has its own timing, quorum and
// threshold parameters in configuration.
type PoolType string

const (
	PoolGovernance PoolType = "governance"
	PoolBudget     PoolType = "budget"
	PoolMembership PoolType = "membership"
	PoolContent    PoolType = "content"
	PoolEvents     PoolType = "events"
	PoolAlliance   PoolType = "alliance"
)

// AllPoolTypes returns every pool type in table order.
func AllPoolTypes() []PoolType {
	return []PoolType{PoolGovernance, PoolBudget, PoolMembership, PoolContent, PoolEvents, PoolAlliance}
}

// ParsePoolType converts a pool name to a PoolType. The second return is
// false for unknown names.
func ParsePoolType(name string) (PoolType, bool) {
	p := PoolType(strings.ToLower(name))
	return p, p.Valid()
}

func (p PoolType) Valid() bool {
	switch p {
	case PoolGovernance, PoolBudget, PoolMembership, PoolContent, PoolEvents, PoolAlliance:
		return true
	}
	return false
}

func (p PoolType) String() string {
	return string(p)
}
