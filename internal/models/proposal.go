package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type ProposalStatus string

const (
	ProposalActive    ProposalStatus = "active"
	ProposalFinalized ProposalStatus = "finalized"
	ProposalCancelled ProposalStatus = "cancelled"
	ProposalExpired   ProposalStatus = "expired"
)

// Outcome labels a finalization result. It aliases string so outcomes embed
// directly in result payloads.
type Outcome = string

const (
	OutcomePassed         Outcome = "passed"
	OutcomeFailed         Outcome = "failed"
	OutcomeNoMajority     Outcome = "no_majority"
	OutcomeQuorumNotMet   Outcome = "quorum_not_met"
	OutcomeBelowThreshold Outcome = "below_threshold"
)

// Proposal is a single vote in one of the clan's pools. The option set is
// immutable after creation; once finalized or cancelled no further votes are
// accepted.
type Proposal struct {
	ID           string          `json:"id" db:"id"`
	ClanID       uuid.UUID       `json:"clan_id" db:"clan_id"`
	Pool         PoolType        `json:"pool_type" db:"pool_type"`
	Title        string          `json:"title" db:"title"`
	Description  string          `json:"description" db:"description"`
	Options      []string        `json:"options" db:"options"`
	CreatedBy    uuid.UUID       `json:"created_by" db:"created_by"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	VotingEndsAt time.Time       `json:"voting_ends_at" db:"voting_ends_at"`
	Status       ProposalStatus  `json:"status" db:"status"`
	Totals       ProposalTotals  `json:"totals" db:"totals"`
	Voters       []uuid.UUID     `json:"voters" db:"voters"`
	FinalizedAt  *time.Time      `json:"finalized_at,omitempty" db:"finalized_at"`
	Outcome      Outcome         `json:"outcome,omitempty" db:"outcome"`
	Result       JSONMap         `json:"result" db:"result"`
	Metadata     JSONMap         `json:"metadata" db:"metadata"`

	InsertedAt *time.Time `json:"inserted_at" db:"inserted_at"`
	UpdatedAt  *time.Time `json:"updated_at" db:"updated_at"`
}

// ProposalTotals holds the accumulated power per option.
type ProposalTotals map[string]decimal.Decimal

func (Proposal) TableName() string {
	return "proposals"
}

func (p Proposal) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.Required, validation.Length(3, 200)),
		validation.Field(&p.Description, validation.Length(0, 5000)),
		validation.Field(&p.Options, validation.Required, validation.By(validateOptions)),
	)
}

func validateOptions(value interface{}) error {
	options, _ := value.([]string)
	if len(options) < 2 {
		return errors.New("at least two options are required")
	}
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if o == "" {
			return errors.New("options must not be empty")
		}
		if _, dup := seen[o]; dup {
			return errors.New("options must be unique")
		}
		seen[o] = struct{}{}
	}
	return nil
}

// HasOption reports whether the proposal offers the given option.
func (p *Proposal) HasOption(option string) bool {
	for _, o := range p.Options {
		if o == option {
			return true
		}
	}
	return false
}

// HasVoted reports whether the given voter is in the recorded voter set.
func (p *Proposal) HasVoted(voter uuid.UUID) bool {
	for _, v := range p.Voters {
		if v == voter {
			return true
		}
	}
	return false
}

// Open reports whether the proposal accepts votes at the given time.
func (p *Proposal) Open(now time.Time) bool {
	return p.Status == ProposalActive && !now.After(p.VotingEndsAt)
}

// CastPower returns the total power cast across all options.
func (p *Proposal) CastPower() decimal.Decimal {
	total := decimal.Zero
	for _, v := range p.Totals {
		total = total.Add(v)
	}
	return total
}
