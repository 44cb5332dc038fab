package governance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwyse/halo/internal/clock"
	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

type fixture struct {
	repo    *storage.Memory
	service *Service
	clock   *clock.Mock
	clanID  uuid.UUID
	owner   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	config, err := conf.LoadGovernance("")
	require.NoError(t, err)
	repo := storage.NewMemory()
	mock := clock.NewMock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	service, err := NewService(config, repo, nil, mock)
	require.NoError(t, err)

	f := &fixture{
		repo:    repo,
		service: service,
		clock:   mock,
		clanID:  uuid.Must(uuid.NewV4()),
		owner:   uuid.Must(uuid.NewV4()),
	}
	_, err = service.InitializeClan(context.Background(), InitializeClan{
		IdempotencyKey: "init-1",
		ClanID:         f.clanID,
		Owner:          f.owner,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) seed(t *testing.T, role models.Role) uuid.UUID {
	t.Helper()
	user := uuid.Must(uuid.NewV4())
	assignment := models.NewRoleAssignment(f.clanID, user, role, f.owner, nil, f.clock.Now())
	require.NoError(t, f.repo.Assignments().Upsert(context.Background(), assignment))
	f.service.resolver.Invalidate(f.clanID)
	return user
}

func (f *fixture) createProposal(t *testing.T, actor uuid.UUID, key string) *models.Proposal {
	t.Helper()
	proposal, err := f.service.CreateProposal(context.Background(), CreateProposal{
		IdempotencyKey: key,
		ClanID:         f.clanID,
		Actor:          actor,
		Pool:           models.PoolGovernance,
		Title:          "Adopt the revised treasury policy",
		Options:        []string{"yes", "no"},
	})
	require.NoError(t, err)
	return proposal
}

func TestCommandsRequireIdempotencyKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.InitializeClan(context.Background(), InitializeClan{
		ClanID: uuid.Must(uuid.NewV4()),
		Owner:  uuid.Must(uuid.NewV4()),
	})
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeValidationFailed))
}

func TestInitializeClanReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seqBefore, err := f.repo.Audit().LastSequence(ctx, f.clanID)
	require.NoError(t, err)

	// replaying the original key returns the clan without re-initializing
	clan, err := f.service.InitializeClan(ctx, InitializeClan{
		IdempotencyKey: "init-1",
		ClanID:         f.clanID,
		Owner:          f.owner,
	})
	require.NoError(t, err)
	assert.Equal(t, f.owner, clan.OwnerID)

	seqAfter, err := f.repo.Audit().LastSequence(ctx, f.clanID)
	require.NoError(t, err)
	assert.Equal(t, seqBefore, seqAfter)

	// a fresh key against an initialized clan conflicts
	_, err = f.service.InitializeClan(ctx, InitializeClan{
		IdempotencyKey: "init-2",
		ClanID:         f.clanID,
		Owner:          f.owner,
	})
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeConflict))
}

func TestIdempotencyKeyBoundToCommand(t *testing.T) {
	f := newFixture(t)
	admin := f.seed(t, models.RoleAdmin)

	// "init-1" was spent on initialize_clan
	_, err := f.service.CreateProposal(context.Background(), CreateProposal{
		IdempotencyKey: "init-1",
		ClanID:         f.clanID,
		Actor:          admin,
		Pool:           models.PoolGovernance,
		Title:          "Adopt the revised treasury policy",
		Options:        []string{"yes", "no"},
	})
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeConflict))
}

func TestCreateProposalReplay(t *testing.T) {
	f := newFixture(t)
	admin := f.seed(t, models.RoleAdmin)

	first := f.createProposal(t, admin, "prop-1")
	second := f.createProposal(t, admin, "prop-1")
	assert.Equal(t, first.ID, second.ID)

	all, err := f.service.ListProposals(context.Background(), f.clanID, ProposalFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCastVoteReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seed(t, models.RoleAdmin)
	proposal := f.createProposal(t, admin, "prop-1")

	vote, err := f.service.CastVote(ctx, CastVote{
		IdempotencyKey: "vote-1",
		ProposalID:     proposal.ID,
		Actor:          admin,
		Option:         "yes",
	})
	require.NoError(t, err)

	replayed, err := f.service.CastVote(ctx, CastVote{
		IdempotencyKey: "vote-1",
		ProposalID:     proposal.ID,
		Actor:          admin,
		Option:         "yes",
	})
	require.NoError(t, err)
	assert.Equal(t, vote.ID, replayed.ID)

	// the tally counted the ballot once
	stored, err := f.service.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", stored.Totals["yes"].String())
}

func TestAuditSequencingAcrossCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seed(t, models.RoleAdmin)

	f.createProposal(t, admin, "prop-1")
	_, err := f.service.EmergencyOverride(ctx, EmergencyOverride{
		IdempotencyKey: "emergency-1",
		ClanID:         f.clanID,
		Owner:          f.owner,
		Target:         uuid.Must(uuid.NewV4()),
		Role:           models.RoleMember,
		Justification:  "bootstrap",
	})
	require.NoError(t, err)

	entries, err := f.service.GetAuditTrail(ctx, f.clanID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for i, entry := range entries {
		assert.Equal(t, uint64(i+1), entry.Sequence)
	}
}

func TestDelegationLifecycleWithAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.seed(t, models.RoleMember)
	admin := f.seed(t, models.RoleAdmin)

	edge, err := f.service.CreateDelegation(ctx, CreateDelegation{
		IdempotencyKey: "del-1",
		ClanID:         f.clanID,
		Delegator:      member,
		Delegate:       admin,
		Scope:          models.DelegationScope{All: true},
		Period:         14 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DelegationActive, edge.Status)

	// replay returns the same edge
	replayed, err := f.service.CreateDelegation(ctx, CreateDelegation{
		IdempotencyKey: "del-1",
		ClanID:         f.clanID,
		Delegator:      member,
		Delegate:       admin,
		Scope:          models.DelegationScope{All: true},
		Period:         14 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, edge.ID, replayed.ID)

	noticed, err := f.service.RevokeDelegation(ctx, RevokeDelegation{
		IdempotencyKey: "rev-1",
		ClanID:         f.clanID,
		EdgeID:         edge.ID,
		Actor:          member,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DelegationNoticeGiven, noticed.Status)

	f.clock.Advance(24 * time.Hour)
	revoked, err := f.service.RevokeDelegation(ctx, RevokeDelegation{
		IdempotencyKey: "rev-2",
		ClanID:         f.clanID,
		EdgeID:         edge.ID,
		Actor:          member,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DelegationRevoked, revoked.Status)

	entries, err := f.service.GetAuditTrail(ctx, f.clanID, 0, 0)
	require.NoError(t, err)
	var actions []models.AuditAction
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, models.DelegationCreatedAction)
	assert.Contains(t, actions, models.DelegationNoticeAction)
	assert.Contains(t, actions, models.DelegationRevokedAction)
}

func TestFinalizeProposalThroughService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seed(t, models.RoleAdmin)
	proposal := f.createProposal(t, admin, "prop-1")

	_, err := f.service.CastVote(ctx, CastVote{
		IdempotencyKey: "vote-1",
		ProposalID:     proposal.ID,
		Actor:          f.owner,
		Option:         "yes",
	})
	require.NoError(t, err)

	f.clock.Advance(168 * time.Hour)
	finalized, err := f.service.FinalizeProposal(ctx, FinalizeProposal{
		IdempotencyKey: "final-1",
		ProposalID:     proposal.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalFinalized, finalized.Status)
	// owner 10 of eligible 15 passes quorum and carries "yes" unopposed
	assert.Equal(t, models.OutcomePassed, finalized.Outcome)
}

func TestSweepExpiredThroughService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seed(t, models.RoleAdmin)
	f.createProposal(t, admin, "prop-1")

	f.clock.Advance(168*time.Hour + 72*time.Hour + time.Minute)
	swept, err := f.service.SweepExpiredProposals(ctx, SweepExpired{
		IdempotencyKey: "sweep-1",
		ClanID:         f.clanID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
}

func TestCastVoteOnUnknownProposal(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CastVote(context.Background(), CastVote{
		IdempotencyKey: "vote-1",
		ProposalID:     "no-such-proposal",
		Actor:          f.owner,
		Option:         "yes",
	})
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeNotFound))
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.CreateProposal(ctx, CreateProposal{
		IdempotencyKey: "prop-1",
		ClanID:         f.clanID,
		Actor:          f.owner,
		Pool:           models.PoolGovernance,
		Title:          "Adopt the revised treasury policy",
		Options:        []string{"yes", "no"},
	})
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeDeadlineExceeded))
}

// budgetContext reports itself cancelled after a fixed number of liveness
// checks, so a command can be made to fail at any point mid-write.
type budgetContext struct {
	context.Context
	remaining int
}

func (c *budgetContext) Done() <-chan struct{} {
	if c.remaining > 0 {
		c.remaining--
		return nil
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (c *budgetContext) Err() error {
	if c.remaining > 0 {
		return nil
	}
	return context.Canceled
}

func TestFailedCommandLeavesNoPartialState(t *testing.T) {
	f := newFixture(t)
	admin := f.seed(t, models.RoleAdmin)
	ctx := context.Background()

	baseSeq, err := f.repo.Audit().LastSequence(ctx, f.clanID)
	require.NoError(t, err)

	// walk the failure point through the command one store access at a
	// time; every failed attempt must roll back completely
	completed := false
	for budget := 1; budget < 40; budget++ {
		bctx := &budgetContext{Context: context.Background(), remaining: budget}
		_, err := f.service.CreateProposal(bctx, CreateProposal{
			IdempotencyKey: fmt.Sprintf("prop-%d", budget),
			ClanID:         f.clanID,
			Actor:          admin,
			Pool:           models.PoolGovernance,
			Title:          "Adopt the revised treasury policy",
			Options:        []string{"yes", "no"},
		})
		if err == nil {
			completed = true
			break
		}
		// a leaked rate event would eventually surface as a rate limit
		// here instead of the cancellation
		require.True(t, goverrors.IsCode(err, goverrors.ErrorCodeDeadlineExceeded), "budget %d: %v", budget, err)

		active := models.ProposalActive
		proposals, perr := f.repo.Proposals().List(ctx, f.clanID, &active, nil)
		require.NoError(t, perr)
		assert.Empty(t, proposals, "budget %d left a proposal behind", budget)

		seq, serr := f.repo.Audit().LastSequence(ctx, f.clanID)
		require.NoError(t, serr)
		assert.Equal(t, baseSeq, seq, "budget %d left audit entries behind", budget)
	}
	require.True(t, completed, "no budget was large enough to finish the command")

	active := models.ProposalActive
	proposals, err := f.repo.Proposals().List(ctx, f.clanID, &active, nil)
	require.NoError(t, err)
	assert.Len(t, proposals, 1)
}

func TestGetAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.GetAnalytics(ctx, f.clanID, 0)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeValidationFailed))

	report, err := f.service.GetAnalytics(ctx, f.clanID, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, f.clanID, report.ClanID)
}

func TestGetAnalyticsRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the default budget is 30 reports per minute
	var err error
	for i := 0; i < 30; i++ {
		_, err = f.service.GetAnalytics(ctx, f.clanID, 30*24*time.Hour)
		require.NoError(t, err)
	}
	_, err = f.service.GetAnalytics(ctx, f.clanID, 30*24*time.Hour)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeRateLimited))
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seed(t, models.RoleAdmin)
	proposal := f.createProposal(t, admin, "prop-1")

	role, err := f.service.GetUserRole(ctx, f.clanID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)

	_, err = f.service.GetUserRole(ctx, f.clanID, uuid.Must(uuid.NewV4()))
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeNotFound))

	members, err := f.service.GetClanMembers(ctx, f.clanID, MemberFilter{})
	require.NoError(t, err)
	assert.Len(t, members, 2)

	adminRole := models.RoleAdmin
	admins, err := f.service.GetClanMembers(ctx, f.clanID, MemberFilter{Role: &adminRole})
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, admin, admins[0].UserID)

	active, err := f.service.ListActiveProposals(ctx, f.clanID, nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, proposal.ID, active[0].ID)

	pending, err := f.service.ListPendingRoleRequests(ctx, f.clanID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
