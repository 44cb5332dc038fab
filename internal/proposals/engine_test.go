package proposals

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwyse/halo/internal/audit"
	"github.com/clanwyse/halo/internal/clock"
	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/delegation"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/permissions"
	"github.com/clanwyse/halo/internal/receipts"
	"github.com/clanwyse/halo/internal/storage"
)

type fixture struct {
	repo      *storage.Memory
	engine    *Engine
	graph     *delegation.Graph
	clock     *clock.Mock
	clanID    uuid.UUID
	owner     uuid.UUID
	authority ed25519.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	config, err := conf.LoadGovernance("")
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	repo := storage.NewMemory()
	mock := clock.NewMock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	resolver := permissions.NewResolver(repo)
	recorder := audit.NewRecorder(repo, nil)
	graph := delegation.NewGraph(repo, &config.Delegation, mock)
	validator := receipts.NewValidator(pub, &config.Burn, repo)
	engine := NewEngine(repo, &config.Pools, &config.Proposal, resolver, graph, validator, recorder, mock)

	f := &fixture{
		repo:      repo,
		engine:    engine,
		graph:     graph,
		clock:     mock,
		clanID:    uuid.Must(uuid.NewV4()),
		owner:     uuid.Must(uuid.NewV4()),
		authority: priv,
	}
	clan := models.NewClan(f.clanID, f.owner, mock.Now())
	require.NoError(t, repo.Clans().Create(context.Background(), clan))
	f.seed(t, f.owner, models.RoleOwner)
	return f
}

func (f *fixture) seed(t *testing.T, user uuid.UUID, role models.Role) uuid.UUID {
	t.Helper()
	assignment := models.NewRoleAssignment(f.clanID, user, role, f.owner, nil, f.clock.Now())
	require.NoError(t, f.repo.Assignments().Upsert(context.Background(), assignment))
	return user
}

func (f *fixture) member(t *testing.T, role models.Role) uuid.UUID {
	return f.seed(t, uuid.Must(uuid.NewV4()), role)
}

func (f *fixture) mintReceipt(voter uuid.UUID, tokens int64, votes int) *models.BurnReceipt {
	receipt := &models.BurnReceipt{
		ReceiptID:       "r-" + uuid.Must(uuid.NewV4()).String(),
		Voter:           voter,
		TokenAmount:     tokens,
		AdditionalVotes: votes,
		Nonce:           "n-1",
	}
	receipt.Signature = ed25519.Sign(f.authority, receipt.SigningPayload())
	return receipt
}

func (f *fixture) createGovernance(t *testing.T, actor uuid.UUID) *models.Proposal {
	t.Helper()
	proposal, err := f.engine.Create(context.Background(), actor, f.clanID, models.PoolGovernance,
		"Adopt the revised treasury policy", "Quarterly budget split", []string{"yes", "no"}, nil)
	require.NoError(t, err)
	return proposal
}

func TestCreateProposal(t *testing.T) {
	f := newFixture(t)
	admin := f.member(t, models.RoleAdmin)

	proposal := f.createGovernance(t, admin)
	assert.Equal(t, models.ProposalActive, proposal.Status)
	assert.Equal(t, f.clock.Now().Add(168*time.Hour), proposal.VotingEndsAt)

	entries, err := f.repo.Audit().List(context.Background(), f.clanID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ProposalCreatedAction, entries[0].Action)
}

func TestCreateRequiresPoolCreatorRole(t *testing.T) {
	f := newFixture(t)
	officer := f.member(t, models.RoleOfficer)

	// officers may create content proposals but not governance ones
	_, err := f.engine.Create(context.Background(), officer, f.clanID, models.PoolGovernance,
		"Adopt the revised treasury policy", "", []string{"yes", "no"}, nil)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodePermissionDenied))

	_, err = f.engine.Create(context.Background(), officer, f.clanID, models.PoolContent,
		"Pin the raid strategy guide", "", []string{"yes", "no"}, nil)
	assert.NoError(t, err)
}

func TestCreateRateLimit(t *testing.T) {
	f := newFixture(t)
	admin := f.member(t, models.RoleAdmin)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.engine.Create(ctx, admin, f.clanID, models.PoolGovernance,
			"Adopt the revised treasury policy", "", []string{"yes", "no"}, nil)
		require.NoError(t, err)
	}
	_, err := f.engine.Create(ctx, admin, f.clanID, models.PoolGovernance,
		"One proposal too many", "", []string{"yes", "no"}, nil)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeRateLimited))
}

func TestCastVoteCombinesAllPowerSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.member(t, models.RoleAdmin)
	delegator := f.member(t, models.RoleMember)

	_, err := f.graph.Delegate(ctx, f.clanID, delegator, admin, models.DelegationScope{All: true}, 14*24*time.Hour)
	require.NoError(t, err)

	proposal := f.createGovernance(t, admin)

	// 2 additional votes cost (2+4) x 2.0 in governance
	receipt := f.mintReceipt(admin, 12, 2)
	vote, err := f.engine.CastVote(ctx, admin, proposal.ID, "yes", receipt)
	require.NoError(t, err)

	assert.Equal(t, "5", vote.BasePower.String())
	assert.Equal(t, "2", vote.BurnPower.String())
	assert.Equal(t, "1", vote.DelegatedPower.String())
	assert.Equal(t, "8", vote.TotalPower().String())
	assert.Equal(t, []uuid.UUID{delegator}, vote.Delegators)
	require.NotNil(t, vote.BurnReceiptID)

	updated, err := f.repo.Proposals().Find(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, "8", updated.Totals["yes"].String())
	assert.True(t, updated.HasVoted(admin))

	// the receipt is spent
	consumed, err := f.repo.Receipts().IsConsumed(ctx, receipt.ReceiptID)
	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestSelfVoteRetractsAlreadyCountedDelegation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.member(t, models.RoleAdmin)
	delegator := f.member(t, models.RoleMember)

	_, err := f.graph.Delegate(ctx, f.clanID, delegator, admin, models.DelegationScope{All: true}, 14*24*time.Hour)
	require.NoError(t, err)

	proposal := f.createGovernance(t, admin)

	// the delegate votes first, carrying the delegator's weight
	adminVote, err := f.engine.CastVote(ctx, admin, proposal.ID, "yes", nil)
	require.NoError(t, err)
	require.Equal(t, "1", adminVote.DelegatedPower.String())

	// the delegator's own ballot pulls that weight back out
	memberVote, err := f.engine.CastVote(ctx, delegator, proposal.ID, "no", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", memberVote.BasePower.String())
	assert.True(t, memberVote.DelegatedPower.IsZero())

	updated, err := f.repo.Proposals().Find(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", updated.Totals["yes"].String())
	assert.Equal(t, "1", updated.Totals["no"].String())

	retracted, err := f.repo.Votes().Find(ctx, proposal.ID, admin)
	require.NoError(t, err)
	assert.True(t, retracted.DelegatedPower.IsZero())
	assert.Empty(t, retracted.Delegators)
	assert.Equal(t, "5", retracted.TotalPower().String())
}

func TestCastVoteRejectsSecondBallot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.member(t, models.RoleAdmin)
	proposal := f.createGovernance(t, admin)

	_, err := f.engine.CastVote(ctx, admin, proposal.ID, "yes", nil)
	require.NoError(t, err)

	_, err = f.engine.CastVote(ctx, admin, proposal.ID, "no", nil)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeConflict))
}

func TestCastVoteRejectsUnknownOption(t *testing.T) {
	f := newFixture(t)
	admin := f.member(t, models.RoleAdmin)
	proposal := f.createGovernance(t, admin)

	_, err := f.engine.CastVote(context.Background(), admin, proposal.ID, "maybe", nil)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeValidationFailed))
}

func TestCastVoteAfterClose(t *testing.T) {
	f := newFixture(t)
	admin := f.member(t, models.RoleAdmin)
	proposal := f.createGovernance(t, admin)

	f.clock.Advance(168*time.Hour + time.Minute)
	_, err := f.engine.CastVote(context.Background(), admin, proposal.ID, "yes", nil)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeConflict))
}

func TestCastVoteReplayedReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.member(t, models.RoleAdmin)
	moderator := f.member(t, models.RoleModerator)
	proposal := f.createGovernance(t, admin)

	receipt := f.mintReceipt(admin, 12, 2)
	_, err := f.engine.CastVote(ctx, admin, proposal.ID, "yes", receipt)
	require.NoError(t, err)

	// the same receipt presented by its owner on another ballot is refused
	second := f.createGovernance(t, admin)
	_, err = f.engine.CastVote(ctx, admin, second.ID, "yes", receipt)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeReceiptReplayed))

	// and a receipt minted for someone else never counts
	_, err = f.engine.CastVote(ctx, moderator, second.ID, "yes", f.mintReceipt(admin, 12, 2))
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeReceiptWrongVoter))
}

func TestFinalizePasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.member(t, models.RoleAdmin)
	delegator := f.member(t, models.RoleMember)
	f.member(t, models.RoleMember) // abstains

	_, err := f.graph.Delegate(ctx, f.clanID, delegator, admin, models.DelegationScope{All: true}, 14*24*time.Hour)
	require.NoError(t, err)

	proposal := f.createGovernance(t, admin)
	_, err = f.engine.CastVote(ctx, admin, proposal.ID, "yes", f.mintReceipt(admin, 12, 2))
	require.NoError(t, err)
	_, err = f.engine.CastVote(ctx, f.owner, proposal.ID, "yes", nil)
	require.NoError(t, err)

	f.clock.Advance(168 * time.Hour)
	finalized, err := f.engine.Finalize(ctx, proposal.ID)
	require.NoError(t, err)

	// eligible 10+5+1+1=17, turnout 5+2+1+10=18, all on "yes"
	assert.Equal(t, models.ProposalFinalized, finalized.Status)
	assert.Equal(t, models.OutcomePassed, finalized.Outcome)
	assert.Equal(t, "yes", finalized.Result["winning_option"])
	assert.Equal(t, "18", finalized.Result["turnout_power"])
	assert.Equal(t, "17", finalized.Result["eligible_power"])

	// repeated finalization returns the settled proposal unchanged
	again, err := f.engine.Finalize(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, finalized.FinalizedAt, again.FinalizedAt)
}

func TestFinalizeQuorumNotMet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.member(t, models.RoleAdmin)
	member := f.member(t, models.RoleMember)

	proposal := f.createGovernance(t, admin)
	_, err := f.engine.CastVote(ctx, member, proposal.ID, "yes", nil)
	require.NoError(t, err)

	f.clock.Advance(168 * time.Hour)
	finalized, err := f.engine.Finalize(ctx, proposal.ID)
	require.NoError(t, err)

	// turnout 1 against eligible 16 at a 33% quorum
	assert.Equal(t, models.OutcomeQuorumNotMet, finalized.Outcome)
	assert.Equal(t, false, finalized.Result["passed"])
}

func TestFinalizeBeforeClose(t *testing.T) {
	f := newFixture(t)
	admin := f.member(t, models.RoleAdmin)
	proposal := f.createGovernance(t, admin)

	_, err := f.engine.Finalize(context.Background(), proposal.ID)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeConflict))
}

func TestCancelOwnerOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.member(t, models.RoleAdmin)
	proposal := f.createGovernance(t, admin)

	// only the owner
	_, err := f.engine.Cancel(ctx, proposal.ID, admin, "duplicate")
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodePermissionDenied))

	cancelled, err := f.engine.Cancel(ctx, proposal.ID, f.owner, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalCancelled, cancelled.Status)

	// a cancelled proposal can be neither voted on nor finalized
	_, err = f.engine.CastVote(ctx, admin, proposal.ID, "yes", nil)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeConflict))
	f.clock.Advance(168 * time.Hour)
	_, err = f.engine.Finalize(ctx, proposal.ID)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeConflict))
}

func TestCancelBlockedWithoutOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	officer := f.member(t, models.RoleOfficer)

	proposal, err := f.engine.Create(ctx, officer, f.clanID, models.PoolContent,
		"Pin the raid strategy guide", "", []string{"yes", "no"}, nil)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, proposal.ID, f.owner, "changed my mind")
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodePermissionDenied))
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.member(t, models.RoleAdmin)
	proposal := f.createGovernance(t, admin)

	// inside the grace window nothing is swept
	f.clock.Advance(168 * time.Hour)
	swept, err := f.engine.SweepExpired(ctx, f.clanID)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	f.clock.Advance(72*time.Hour + time.Minute)
	swept, err = f.engine.SweepExpired(ctx, f.clanID)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	expired, err := f.repo.Proposals().Find(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalExpired, expired.Status)
	assert.Equal(t, models.OutcomeFailed, expired.Outcome)
	assert.Equal(t, true, expired.Result["expired"])

	// sweeping is idempotent
	swept, err = f.engine.SweepExpired(ctx, f.clanID)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestEligiblePower(t *testing.T) {
	f := newFixture(t)
	f.member(t, models.RoleAdmin)
	f.member(t, models.RoleRecruit)

	power, err := f.engine.EligiblePower(context.Background(), f.clanID)
	require.NoError(t, err)
	assert.True(t, power.Equal(decimal.RequireFromString("15.5")))
}
