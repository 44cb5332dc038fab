package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwyse/halo/internal/clock"
	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

type fixture struct {
	repo   *storage.Memory
	engine *Engine
	clock  *clock.Mock
	clanID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	config, err := conf.LoadGovernance("")
	require.NoError(t, err)
	repo := storage.NewMemory()
	mock := clock.NewMock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return &fixture{
		repo:   repo,
		engine: NewEngine(repo, &config.Pools, &config.Burn, mock),
		clock:  mock,
		clanID: uuid.Must(uuid.NewV4()),
	}
}

func (f *fixture) member(t *testing.T, role models.Role) uuid.UUID {
	t.Helper()
	user := uuid.Must(uuid.NewV4())
	assignment := models.NewRoleAssignment(f.clanID, user, role, user, nil, f.clock.Now())
	require.NoError(t, f.repo.Assignments().Upsert(context.Background(), assignment))
	return user
}

func (f *fixture) proposal(t *testing.T, pool models.PoolType, status models.ProposalStatus, outcome models.Outcome, createdAt time.Time, totals models.ProposalTotals) *models.Proposal {
	t.Helper()
	p := &models.Proposal{
		ID:           "p-" + uuid.Must(uuid.NewV4()).String(),
		ClanID:       f.clanID,
		Pool:         pool,
		Title:        "Adopt the revised treasury policy",
		Options:      []string{"yes", "no"},
		CreatedAt:    createdAt,
		VotingEndsAt: createdAt.Add(168 * time.Hour),
		Status:       status,
		Outcome:      outcome,
		Totals:       totals,
	}
	require.NoError(t, f.repo.Proposals().Create(context.Background(), p))
	return p
}

func (f *fixture) vote(t *testing.T, proposalID string, voter uuid.UUID, base, burn string, receipt *string, castAt time.Time) {
	t.Helper()
	v := &models.Vote{
		ID:             uuid.Must(uuid.NewV4()),
		ProposalID:     proposalID,
		ClanID:         f.clanID,
		Voter:          voter,
		Option:         "yes",
		BasePower:      decimal.RequireFromString(base),
		BurnPower:      decimal.RequireFromString(burn),
		DelegatedPower: decimal.Zero,
		BurnReceiptID:  receipt,
		CastAt:         castAt,
	}
	require.NoError(t, f.repo.Votes().Create(context.Background(), v))
}

func TestGradeBands(t *testing.T) {
	assert.Equal(t, "A", gradeFor(85))
	assert.Equal(t, "B", gradeFor(84.9))
	assert.Equal(t, "B", gradeFor(70))
	assert.Equal(t, "C", gradeFor(69.9))
	assert.Equal(t, "C", gradeFor(55))
	assert.Equal(t, "D", gradeFor(54.9))
	assert.Equal(t, "D", gradeFor(40))
	assert.Equal(t, "F", gradeFor(39.9))
}

func TestRegressionSlope(t *testing.T) {
	assert.InDelta(t, 5.0, regressionSlope([]float64{10, 15, 20, 25}), 1e-9)
	assert.InDelta(t, -3.0, regressionSlope([]float64{30, 27, 24}), 1e-9)
	assert.InDelta(t, 0.0, regressionSlope([]float64{12, 12, 12}), 1e-9)
	assert.InDelta(t, 0.0, regressionSlope([]float64{42}), 1e-9)
}

func TestParticipationByRole(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	owner := f.member(t, models.RoleOwner)
	admin := f.member(t, models.RoleAdmin)
	m1 := f.member(t, models.RoleMember)
	f.member(t, models.RoleMember) // never votes

	p := f.proposal(t, models.PoolGovernance, models.ProposalActive, "", now, models.ProposalTotals{})
	f.vote(t, p.ID, owner, "10", "0", nil, now)
	f.vote(t, p.ID, admin, "5", "0", nil, now)
	f.vote(t, p.ID, m1, "1", "0", nil, now)

	report, err := f.engine.Report(context.Background(), f.clanID, 30*24*time.Hour)
	require.NoError(t, err)

	byRole := map[models.Role]RoleParticipation{}
	for _, p := range report.Participation {
		byRole[p.Role] = p
	}
	assert.Equal(t, 1.0, byRole[models.RoleOwner].Rate)
	assert.Equal(t, 1.0, byRole[models.RoleAdmin].Rate)
	assert.Equal(t, 2, byRole[models.RoleMember].TotalMembers)
	assert.Equal(t, 1, byRole[models.RoleMember].ActiveVoters)
	assert.Equal(t, 0.5, byRole[models.RoleMember].Rate)
}

func TestTokensBurnedReconstruction(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	admin := f.member(t, models.RoleAdmin)
	moderator := f.member(t, models.RoleModerator)

	gov := f.proposal(t, models.PoolGovernance, models.ProposalActive, "", now, models.ProposalTotals{})
	content := f.proposal(t, models.PoolContent, models.ProposalActive, "", now, models.ProposalTotals{})

	r1, r2 := "r-1", "r-2"
	// 2 extra votes in governance: (2+4) x 2.0 = 12
	f.vote(t, gov.ID, admin, "5", "2", &r1, now)
	// 1 extra vote in content: 2 x 0.5 = 1
	f.vote(t, content.ID, moderator, "3", "1", &r2, now)
	// no receipt, no burn
	f.vote(t, content.ID, admin, "5", "0", nil, now)

	report, err := f.engine.Report(context.Background(), f.clanID, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "13", report.TokensBurned.String())
}

func TestPoolStats(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.member(t, models.RoleAdmin)

	f.proposal(t, models.PoolGovernance, models.ProposalFinalized, models.OutcomePassed, now,
		models.ProposalTotals{"yes": decimal.RequireFromString("18")})
	f.proposal(t, models.PoolGovernance, models.ProposalFinalized, models.OutcomeQuorumNotMet, now,
		models.ProposalTotals{"yes": decimal.RequireFromString("2")})
	f.proposal(t, models.PoolGovernance, models.ProposalActive, "", now, models.ProposalTotals{})

	report, err := f.engine.Report(context.Background(), f.clanID, 30*24*time.Hour)
	require.NoError(t, err)

	require.Len(t, report.Pools, 1)
	stats := report.Pools[0]
	assert.Equal(t, models.PoolGovernance, stats.Pool)
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, 1, stats.Passed)
	assert.Equal(t, 1, stats.Failed)
	// (18+2+0)/3
	assert.True(t, stats.AverageCastPower.Equal(decimal.RequireFromString("20").Div(decimal.NewFromInt(3))))
}

func TestWindowExcludesOldActivity(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	admin := f.member(t, models.RoleAdmin)

	old := f.proposal(t, models.PoolGovernance, models.ProposalFinalized, models.OutcomePassed,
		now.Add(-60*24*time.Hour), models.ProposalTotals{"yes": decimal.RequireFromString("18")})
	r := "r-old"
	f.vote(t, old.ID, admin, "5", "2", &r, now.Add(-60*24*time.Hour))

	report, err := f.engine.Report(context.Background(), f.clanID, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, report.Pools)
	assert.True(t, report.TokensBurned.IsZero())
}

func TestTrendInsufficientData(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	admin := f.member(t, models.RoleAdmin)

	// activity in only two sub-windows of the trailing 30 days
	p := f.proposal(t, models.PoolGovernance, models.ProposalActive, "", now.Add(-time.Hour), models.ProposalTotals{})
	f.vote(t, p.ID, admin, "5", "0", nil, now.Add(-time.Hour))
	f.vote(t, p.ID, admin, "5", "0", nil, now.Add(-7*24*time.Hour))

	report, err := f.engine.Report(context.Background(), f.clanID, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TrendInsufficientData, report.Trend)
}

func TestTrendWithSpreadActivity(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	admin := f.member(t, models.RoleAdmin)

	// one proposal and one vote in each of the five six-day sub-windows
	// keeps every factor constant, so the slope is flat
	for day := 27; day >= 3; day -= 6 {
		at := now.Add(-time.Duration(day) * 24 * time.Hour)
		p := f.proposal(t, models.PoolGovernance, models.ProposalActive, "", at, models.ProposalTotals{})
		f.vote(t, p.ID, admin, "5", "0", nil, at)
	}

	report, err := f.engine.Report(context.Background(), f.clanID, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TrendStable, report.Trend)
}

func TestEmptyClanReport(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine.Report(context.Background(), f.clanID, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, report.Participation)
	assert.Empty(t, report.Pools)
	assert.True(t, report.TokensBurned.IsZero())
	assert.Equal(t, 0.0, report.Health.Score)
	assert.Equal(t, "F", report.Health.Grade)
	assert.Equal(t, TrendInsufficientData, report.Trend)
}

func TestHealthScoreWeights(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	owner := f.member(t, models.RoleOwner)
	admin := f.member(t, models.RoleAdmin)

	p := f.proposal(t, models.PoolGovernance, models.ProposalActive, "", now, models.ProposalTotals{})
	f.vote(t, p.ID, owner, "10", "0", nil, now)
	f.vote(t, p.ID, admin, "5", "0", nil, now)

	report, err := f.engine.Report(context.Background(), f.clanID, 30*24*time.Hour)
	require.NoError(t, err)

	health := report.Health
	assert.Equal(t, 1.0, health.Participation)
	assert.Equal(t, 1.0, health.Diversity)
	assert.Equal(t, 1.0, health.Activity)
	assert.InDelta(t, 0.2, health.Engagement, 1e-9) // 2 votes / cap of 10
	expected := 100 * (0.30 + 0.20 + 0.20 + 0.20*health.Engagement + 0.10*health.Stability)
	assert.InDelta(t, expected, health.Score, 1e-9)
}
