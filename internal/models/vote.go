package models

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Vote records one voter's contribution to a proposal. The voter's combined
// power (base + burn + delegated) is credited to exactly one option.
type Vote struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	ProposalID     string          `json:"proposal_id" db:"proposal_id"`
	ClanID         uuid.UUID       `json:"clan_id" db:"clan_id"`
	Voter          uuid.UUID       `json:"voter" db:"voter"`
	Option         string          `json:"option" db:"option"`
	BasePower      decimal.Decimal `json:"base_power" db:"base_power"`
	BurnPower      decimal.Decimal `json:"burn_power" db:"burn_power"`
	DelegatedPower decimal.Decimal `json:"delegated_power" db:"delegated_power"`
	BurnReceiptID  *string         `json:"burn_receipt_id,omitempty" db:"burn_receipt_id"`
	Delegators     []uuid.UUID     `json:"delegators" db:"delegators"`
	// DelegatorPowers records the power credited per delegator, keyed by the
	// delegator id, so a later self-vote can retract the exact amount.
	DelegatorPowers map[string]decimal.Decimal `json:"delegator_powers,omitempty" db:"delegator_powers"`
	CastAt          time.Time                  `json:"cast_at" db:"cast_at"`

	InsertedAt *time.Time `json:"inserted_at" db:"inserted_at"`
}

func (Vote) TableName() string {
	return "votes"
}

// TotalPower is the voter's full contribution: base + burn + delegated.
func (v *Vote) TotalPower() decimal.Decimal {
	return v.BasePower.Add(v.BurnPower).Add(v.DelegatedPower)
}

// CreditedFrom returns the delegated power this vote carries for the given
// delegator.
func (v *Vote) CreditedFrom(delegator uuid.UUID) (decimal.Decimal, bool) {
	power, ok := v.DelegatorPowers[delegator.String()]
	return power, ok
}

// RemoveDelegator drops the delegator's credit from the vote's records. The
// power totals are adjusted by the caller.
func (v *Vote) RemoveDelegator(delegator uuid.UUID) {
	delete(v.DelegatorPowers, delegator.String())
	kept := v.Delegators[:0]
	for _, d := range v.Delegators {
		if d != delegator {
			kept = append(kept, d)
		}
	}
	v.Delegators = kept
}
