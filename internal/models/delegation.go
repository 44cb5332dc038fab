package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type DelegationStatus string

const (
	DelegationActive      DelegationStatus = "active"
	DelegationNoticeGiven DelegationStatus = "notice_given"
	DelegationRevoked     DelegationStatus = "revoked"
	DelegationExpired     DelegationStatus = "expired"
)

// DelegationScope restricts which proposal pools a delegation applies to.
// The zero value with All=true covers every pool.
type DelegationScope struct {
	All   bool       `json:"all" db:"all"`
	Pools []PoolType `json:"pools,omitempty" db:"pools"`
}

// Covers reports whether the scope includes the given pool type.
func (s DelegationScope) Covers(pool PoolType) bool {
	if s.All {
		return true
	}
	for _, p := range s.Pools {
		if p == pool {
			return true
		}
	}
	return false
}

// Delegation is a single-hop directed grant: the delegator's base weight is
// added to the delegate's vote, subject to scope, expiry and the delegator
// not having voted themselves. Delegations never chain.
type Delegation struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	ClanID        uuid.UUID        `json:"clan_id" db:"clan_id"`
	Delegator     uuid.UUID        `json:"delegator" db:"delegator"`
	Delegate      uuid.UUID        `json:"delegate" db:"delegate"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at" db:"expires_at"`
	Scope         DelegationScope  `json:"scope" db:"scope"`
	Status        DelegationStatus `json:"status" db:"status"`
	NoticeGivenAt *time.Time       `json:"notice_given_at,omitempty" db:"notice_given_at"`
	EffectiveAt   *time.Time       `json:"effective_at,omitempty" db:"effective_at"`

	InsertedAt *time.Time `json:"inserted_at" db:"inserted_at"`
	UpdatedAt  *time.Time `json:"updated_at" db:"updated_at"`
}

func (Delegation) TableName() string {
	return "delegations"
}

// CountsAt reports whether the edge still contributes power at the given
// time. An edge under revocation notice keeps counting until its effective
// moment.
func (d *Delegation) CountsAt(now time.Time) bool {
	if !now.Before(d.ExpiresAt) {
		return false
	}
	switch d.Status {
	case DelegationActive:
		return true
	case DelegationNoticeGiven:
		return d.EffectiveAt != nil && now.Before(*d.EffectiveAt)
	}
	return false
}
