// Package tally holds the pure vote-accumulation and decision arithmetic.
// All power values are fixed-point decimals; the half-weight Recruit tier
// is represented exactly and never rounded.
package tally

import (
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/clanwyse/halo/internal/models"
)

// Contribution is one voter's full input to a proposal. The combined power
// (base + burn + delegated) is credited to exactly one option.
type Contribution struct {
	Voter     uuid.UUID
	Option    string
	Base      decimal.Decimal
	Burn      decimal.Decimal
	Delegated decimal.Decimal
	CastAt    time.Time
}

// Total returns the contribution's combined power.
func (c Contribution) Total() decimal.Decimal {
	return c.Base.Add(c.Burn).Add(c.Delegated)
}

// Apply credits a contribution to its option and returns the new totals.
// The input map is not mutated.
func Apply(totals models.ProposalTotals, c Contribution) (models.ProposalTotals, error) {
	power := c.Total()
	if power.IsNegative() || c.Base.IsNegative() || c.Burn.IsNegative() || c.Delegated.IsNegative() {
		return nil, errors.Errorf("tally: negative power contribution from voter %s", c.Voter)
	}
	next := make(models.ProposalTotals, len(totals)+1)
	for option, value := range totals {
		next[option] = value
	}
	next[c.Option] = next[c.Option].Add(power)
	return next, nil
}

// Order sorts contributions into accumulation order: cast timestamp at
// millisecond precision, voter id as the tie-break. Replaying the same set
// of contributions always yields identical totals.
func Order(contributions []Contribution) {
	sort.SliceStable(contributions, func(i, j int) bool {
		a, b := contributions[i].CastAt.UnixMilli(), contributions[j].CastAt.UnixMilli()
		if a != b {
			return a < b
		}
		return contributions[i].Voter.String() < contributions[j].Voter.String()
	})
}

// Decision is the result of tallying a proposal against its pool's quorum
// and threshold parameters.
type Decision struct {
	Outcome       string
	WinningOption string
	Turnout       decimal.Decimal
	EligiblePower decimal.Decimal
	WinningPower  decimal.Decimal
}

// Passed reports whether the decision is a pass.
func (d Decision) Passed() bool {
	return d.Outcome == models.OutcomePassed
}

// Decide evaluates final totals. Quorum is checked against eligible power,
// the winning option's share against total cast power. Comparisons multiply
// rather than divide so no rounding slips in:
//
//	turnout >= eligible * quorum
//	winning >= turnout  * threshold
//
// An exact tie for the highest total fails the proposal as no_majority.
func Decide(totals models.ProposalTotals, eligible, quorum, threshold decimal.Decimal) Decision {
	decision := Decision{
		Turnout:       sum(totals),
		EligiblePower: eligible,
	}

	if decision.Turnout.Cmp(eligible.Mul(quorum)) < 0 {
		decision.Outcome = models.OutcomeQuorumNotMet
		return decision
	}

	options := make([]string, 0, len(totals))
	for option := range totals {
		options = append(options, option)
	}
	sort.Strings(options)

	tied := false
	for _, option := range options {
		value := totals[option]
		switch value.Cmp(decision.WinningPower) {
		case 1:
			decision.WinningOption = option
			decision.WinningPower = value
			tied = false
		case 0:
			if decision.WinningOption != "" {
				tied = true
			}
		}
	}

	switch {
	case decision.WinningOption == "" || tied:
		decision.Outcome = models.OutcomeNoMajority
		decision.WinningOption = ""
		decision.WinningPower = decimal.Zero
	case decision.WinningPower.Cmp(decision.Turnout.Mul(threshold)) < 0:
		decision.Outcome = models.OutcomeBelowThreshold
	default:
		decision.Outcome = models.OutcomePassed
	}
	return decision
}

func sum(totals models.ProposalTotals) decimal.Decimal {
	total := decimal.Zero
	for _, value := range totals {
		total = total.Add(value)
	}
	return total
}
