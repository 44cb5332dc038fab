// Package proposals drives the proposal state machine: creation, weighted
// vote casting with burn amplification and delegation, finalization,
// cancellation and expiry sweeping.
package proposals

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/clanwyse/halo/internal/audit"
	"github.com/clanwyse/halo/internal/clock"
	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/crypto"
	"github.com/clanwyse/halo/internal/delegation"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/permissions"
	"github.com/clanwyse/halo/internal/ratelimit"
	"github.com/clanwyse/halo/internal/receipts"
	"github.com/clanwyse/halo/internal/storage"
	"github.com/clanwyse/halo/internal/tally"
)

// RateClassCreation is the sliding-window class for proposal creation.
const RateClassCreation = "proposal.create"

// Engine owns the proposal lifecycle for all clans.
type Engine struct {
	repo     storage.Repository
	pools    *conf.PoolTable
	config   *conf.ProposalConfiguration
	resolver *permissions.Resolver
	graph    *delegation.Graph
	receipts *receipts.Validator
	recorder *audit.Recorder
	clock    clock.Clock
	window   ratelimit.Window
}

func NewEngine(
	repo storage.Repository,
	pools *conf.PoolTable,
	config *conf.ProposalConfiguration,
	resolver *permissions.Resolver,
	graph *delegation.Graph,
	validator *receipts.Validator,
	recorder *audit.Recorder,
	clk clock.Clock,
) *Engine {
	return &Engine{
		repo:     repo,
		pools:    pools,
		config:   config,
		resolver: resolver,
		graph:    graph,
		receipts: validator,
		recorder: recorder,
		clock:    clk,
		window:   ratelimit.WindowFor(config.CreationRate),
	}
}

// Create opens a new proposal in the given pool. The proposal id is a
// deterministic hash of its identifying fields plus a nonce, so ids are
// stable within a command but never collide across retries.
func (e *Engine) Create(ctx context.Context, actor, clanID uuid.UUID, pool models.PoolType, title, description string, options []string, metadata models.JSONMap) (*models.Proposal, error) {
	if !pool.Valid() {
		return nil, goverrors.NewValidationError("pool_type", "unknown pool type %q", pool)
	}
	poolConfig, _ := e.pools.Pool(string(pool))

	role, err := e.resolver.Require(ctx, clanID, actor, "proposal.create")
	if err != nil {
		return nil, err
	}
	if !poolConfig.CanCreate(string(role)) {
		return nil, goverrors.NewPermissionDeniedError("role %s cannot create proposals in the %s pool", role, pool)
	}

	now := e.clock.Now()
	events, err := e.repo.RateEvents().ListSince(ctx, clanID, actor, RateClassCreation, e.window.Cutoff(now))
	if err != nil {
		return nil, err
	}
	if ok, retryAfter := e.window.Allow(events, now); !ok {
		return nil, goverrors.NewRateLimitedError(retryAfter)
	}

	proposal := &models.Proposal{
		ID:           crypto.DeterministicID("proposal", clanID.String(), string(pool), title, fmt.Sprintf("%d", now.UnixMilli()), crypto.SecureToken(8)),
		ClanID:       clanID,
		Pool:         pool,
		Title:        title,
		Description:  description,
		Options:      options,
		CreatedBy:    actor,
		CreatedAt:    now,
		VotingEndsAt: now.Add(poolConfig.VotingPeriod),
		Status:       models.ProposalActive,
		Totals:       models.ProposalTotals{},
		Metadata:     metadata,
	}
	if err := proposal.Validate(); err != nil {
		return nil, goverrors.NewValidationError("proposal", "%s", err)
	}

	if err := e.repo.Proposals().Create(ctx, proposal); err != nil {
		return nil, err
	}
	if err := e.repo.RateEvents().Record(ctx, clanID, actor, RateClassCreation, now); err != nil {
		return nil, err
	}

	entry := models.NewAuditLogEntry(clanID, actor, models.ProposalCreatedAction, proposal.ID, models.JSONMap{
		"pool_type": string(pool),
		"title":     title,
	}, now)
	if err := e.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return proposal, nil
}

// CastVote records the actor's full contribution to an open proposal:
// role-weighted base power, burn-derived extra votes, and resolved inbound
// delegations, all credited to one option.
func (e *Engine) CastVote(ctx context.Context, actor uuid.UUID, proposalID, option string, receipt *models.BurnReceipt) (*models.Vote, error) {
	proposal, err := e.repo.Proposals().Find(ctx, proposalID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("proposal not found")
		}
		return nil, err
	}
	now := e.clock.Now()
	if proposal.Status != models.ProposalActive {
		return nil, goverrors.NewConflictError("proposal is %s", proposal.Status)
	}
	if now.After(proposal.VotingEndsAt) {
		return nil, goverrors.NewConflictError("voting closed at %s", proposal.VotingEndsAt)
	}
	if proposal.HasVoted(actor) {
		return nil, goverrors.NewConflictError("voter has already cast a ballot")
	}
	if !proposal.HasOption(option) {
		return nil, goverrors.NewValidationError("option", "proposal has no option %q", option)
	}

	role, err := e.resolver.Require(ctx, proposal.ClanID, actor, "vote.cast")
	if err != nil {
		return nil, err
	}
	basePower := role.Weight()

	burnPower := decimal.Zero
	var receiptID *string
	if receipt != nil {
		poolConfig, _ := e.pools.Pool(string(proposal.Pool))
		burnPower, err = e.receipts.Validate(ctx, receipt, actor, poolConfig)
		if err != nil {
			return nil, err
		}
		receiptID = &receipt.ReceiptID
	}

	resolved, err := e.graph.ResolveFor(ctx, actor, proposal)
	if err != nil {
		return nil, err
	}
	delegators := make([]uuid.UUID, 0, len(resolved))
	delegatorPowers := make(map[string]decimal.Decimal, len(resolved))
	for _, r := range resolved {
		delegators = append(delegators, r.Delegator)
		delegatorPowers[r.Delegator.String()] = r.Power
	}

	// A self-vote overrides any standing delegation, regardless of which
	// ballot lands first. If a delegate has already voted carrying this
	// actor's power, pull that credit back before counting the actor's own.
	if err := e.retractDelegated(ctx, proposal, actor); err != nil {
		return nil, err
	}

	contribution := tally.Contribution{
		Voter:     actor,
		Option:    option,
		Base:      basePower,
		Burn:      burnPower,
		Delegated: delegation.TotalPower(resolved),
		CastAt:    now,
	}
	totals, err := tally.Apply(proposal.Totals, contribution)
	if err != nil {
		return nil, goverrors.NewInternalError("tallying vote: %s", err)
	}

	if receipt != nil {
		if err := e.receipts.Consume(ctx, receipt.ReceiptID, proposal.ID); err != nil {
			return nil, err
		}
	}

	vote := &models.Vote{
		ID:              uuid.Must(uuid.NewV4()),
		ProposalID:      proposal.ID,
		ClanID:          proposal.ClanID,
		Voter:           actor,
		Option:          option,
		BasePower:       basePower,
		BurnPower:       burnPower,
		DelegatedPower:  contribution.Delegated,
		BurnReceiptID:   receiptID,
		Delegators:      delegators,
		DelegatorPowers: delegatorPowers,
		CastAt:          now,
	}
	if err := e.repo.Votes().Create(ctx, vote); err != nil {
		return nil, err
	}

	proposal.Totals = totals
	proposal.Voters = append(proposal.Voters, actor)
	if err := e.repo.Proposals().Update(ctx, proposal); err != nil {
		return nil, err
	}

	entry := models.NewAuditLogEntry(proposal.ClanID, actor, models.VoteCastAction, proposal.ID, models.JSONMap{
		"option":      option,
		"total_power": vote.TotalPower().String(),
	}, now)
	if err := e.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return vote, nil
}

// retractDelegated removes the power previously credited on the voter's
// behalf from any already-cast delegate ballot, adjusting both the delegate's
// recorded vote and the proposal totals.
func (e *Engine) retractDelegated(ctx context.Context, proposal *models.Proposal, voter uuid.UUID) error {
	votes, err := e.repo.Votes().ListByProposal(ctx, proposal.ID)
	if err != nil {
		return err
	}
	for _, vote := range votes {
		credited, ok := vote.CreditedFrom(voter)
		if !ok {
			continue
		}
		vote.DelegatedPower = vote.DelegatedPower.Sub(credited)
		vote.RemoveDelegator(voter)
		if err := e.repo.Votes().Update(ctx, vote); err != nil {
			return err
		}
		proposal.Totals[vote.Option] = proposal.Totals[vote.Option].Sub(credited)
	}
	return nil
}

// Finalize evaluates a proposal whose voting period has ended. Repeated
// calls on a finalized proposal return it unchanged. Eligible power is the
// sum of base weights of current clan members at the moment of finalization.
func (e *Engine) Finalize(ctx context.Context, proposalID string) (*models.Proposal, error) {
	proposal, err := e.repo.Proposals().Find(ctx, proposalID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("proposal not found")
		}
		return nil, err
	}
	switch proposal.Status {
	case models.ProposalFinalized, models.ProposalExpired:
		return proposal, nil
	case models.ProposalCancelled:
		return nil, goverrors.NewConflictError("proposal was cancelled")
	}

	now := e.clock.Now()
	if now.Before(proposal.VotingEndsAt) {
		return nil, goverrors.NewConflictError("voting runs until %s", proposal.VotingEndsAt)
	}

	eligible, err := e.EligiblePower(ctx, proposal.ClanID)
	if err != nil {
		return nil, err
	}
	poolConfig, _ := e.pools.Pool(string(proposal.Pool))
	decision := tally.Decide(proposal.Totals, eligible, poolConfig.Quorum(), poolConfig.Threshold())

	proposal.Status = models.ProposalFinalized
	proposal.Outcome = decision.Outcome
	proposal.FinalizedAt = &now
	proposal.Result = models.JSONMap{
		"outcome":        decision.Outcome,
		"passed":         decision.Passed(),
		"winning_option": decision.WinningOption,
		"turnout_power":  decision.Turnout.String(),
		"eligible_power": decision.EligiblePower.String(),
	}
	if err := e.repo.Proposals().Update(ctx, proposal); err != nil {
		return nil, err
	}

	entry := models.NewAuditLogEntry(proposal.ClanID, proposal.CreatedBy, models.ProposalFinalizedAction, proposal.ID, models.JSONMap{
		"outcome":        decision.Outcome,
		"winning_option": decision.WinningOption,
	}, now)
	if err := e.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return proposal, nil
}

// Cancel withdraws an active proposal. Only the clan owner may cancel, and
// only in pools that allow the owner override. Recorded votes stay in
// history.
func (e *Engine) Cancel(ctx context.Context, proposalID string, owner uuid.UUID, reason string) (*models.Proposal, error) {
	proposal, err := e.repo.Proposals().Find(ctx, proposalID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("proposal not found")
		}
		return nil, err
	}
	poolConfig, _ := e.pools.Pool(string(proposal.Pool))
	if !poolConfig.OwnerOverride {
		return nil, goverrors.NewPermissionDeniedError("the %s pool does not allow cancellation", proposal.Pool)
	}
	clan, err := e.repo.Clans().Find(ctx, proposal.ClanID)
	if err != nil {
		return nil, err
	}
	if clan.OwnerID != owner {
		return nil, goverrors.NewPermissionDeniedError("only the clan owner may cancel a proposal")
	}
	if proposal.Status != models.ProposalActive {
		return nil, goverrors.NewConflictError("proposal is %s", proposal.Status)
	}

	now := e.clock.Now()
	proposal.Status = models.ProposalCancelled
	proposal.Result = models.JSONMap{"reason": reason}
	if err := e.repo.Proposals().Update(ctx, proposal); err != nil {
		return nil, err
	}

	entry := models.NewAuditLogEntry(proposal.ClanID, owner, models.ProposalCancelledAction, proposal.ID, models.JSONMap{
		"reason": reason,
	}, now)
	if err := e.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return proposal, nil
}

// SweepExpired marks active proposals that outlived their voting period
// plus the grace window as Expired. Expiry is equivalent to a failed
// finalization but distinguished in the audit log.
func (e *Engine) SweepExpired(ctx context.Context, clanID uuid.UUID) (int, error) {
	active := models.ProposalActive
	proposals, err := e.repo.Proposals().List(ctx, clanID, &active, nil)
	if err != nil {
		return 0, err
	}

	now := e.clock.Now()
	swept := 0
	for _, proposal := range proposals {
		if !now.After(proposal.VotingEndsAt.Add(e.config.ExpiryGrace)) {
			continue
		}
		proposal.Status = models.ProposalExpired
		proposal.Outcome = models.OutcomeFailed
		proposal.FinalizedAt = &now
		proposal.Result = models.JSONMap{
			"outcome": models.OutcomeFailed,
			"passed":  false,
			"expired": true,
		}
		if err := e.repo.Proposals().Update(ctx, proposal); err != nil {
			return swept, err
		}
		entry := models.NewAuditLogEntry(clanID, proposal.CreatedBy, models.ProposalExpiredAction, proposal.ID, nil, now)
		if err := e.recorder.Record(ctx, entry); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// EligiblePower sums the base role weights of the clan's current members.
func (e *Engine) EligiblePower(ctx context.Context, clanID uuid.UUID) (decimal.Decimal, error) {
	current, err := e.repo.Assignments().ListCurrent(ctx, clanID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range current {
		total = total.Add(a.Role.Weight())
	}
	return total, nil
}
