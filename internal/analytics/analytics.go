// Package analytics derives governance metrics on demand from stored
// proposals, votes and role assignments. Everything here is a pure read.
package analytics

import (
	"context"
	"math"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/clanwyse/halo/internal/clock"
	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

// Health score factor weights.
const (
	weightParticipation = 0.30
	weightDiversity     = 0.20
	weightActivity      = 0.20
	weightEngagement    = 0.20
	weightStability     = 0.10

	// engagementCap bounds average votes per proposal when normalising.
	engagementCap = 10.0

	// trendSubWindows is how many equal slices the window is cut into when
	// deriving the trend.
	trendSubWindows = 5
)

// Trend labels.
const (
	TrendImproving        = "improving"
	TrendDeclining        = "declining"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// RoleParticipation is the turnout of one role tier over the window.
type RoleParticipation struct {
	Role         models.Role `json:"role"`
	TotalMembers int         `json:"total_members"`
	ActiveVoters int         `json:"active_voters"`
	Rate         float64     `json:"rate"`
}

// PoolStats aggregates one pool's proposals over the window.
type PoolStats struct {
	Pool             models.PoolType `json:"pool_type"`
	Created          int             `json:"created"`
	Passed           int             `json:"passed"`
	Failed           int             `json:"failed"`
	AverageCastPower decimal.Decimal `json:"average_cast_power"`
}

// HealthScore is the weighted governance health summary.
type HealthScore struct {
	Score         float64 `json:"score"`
	Grade         string  `json:"grade"`
	Participation float64 `json:"participation"`
	Diversity     float64 `json:"diversity"`
	Activity      float64 `json:"activity"`
	Engagement    float64 `json:"engagement"`
	Stability     float64 `json:"stability"`
}

// Report is the full analytics derivation for one clan and window.
type Report struct {
	ClanID        uuid.UUID           `json:"clan_id"`
	Window        time.Duration       `json:"window"`
	GeneratedAt   time.Time           `json:"generated_at"`
	Participation []RoleParticipation `json:"participation_by_role"`
	Pools         []PoolStats         `json:"proposals_by_pool"`
	TokensBurned  decimal.Decimal     `json:"tokens_burned"`
	Health        HealthScore         `json:"health"`
	Trend         string              `json:"trend"`
}

// Engine derives reports from the repository.
type Engine struct {
	repo  storage.Repository
	pools *conf.PoolTable
	burn  *conf.BurnConfiguration
	clock clock.Clock
}

func NewEngine(repo storage.Repository, pools *conf.PoolTable, burn *conf.BurnConfiguration, clk clock.Clock) *Engine {
	return &Engine{
		repo:  repo,
		pools: pools,
		burn:  burn,
		clock: clk,
	}
}

// Report derives the clan's analytics over the trailing window.
func (e *Engine) Report(ctx context.Context, clanID uuid.UUID, window time.Duration) (*Report, error) {
	now := e.clock.Now()
	since := now.Add(-window)

	members, err := e.repo.Assignments().ListCurrent(ctx, clanID)
	if err != nil {
		return nil, err
	}
	votes, err := e.repo.Votes().ListByClan(ctx, clanID)
	if err != nil {
		return nil, err
	}
	proposals, err := e.repo.Proposals().List(ctx, clanID, nil, nil)
	if err != nil {
		return nil, err
	}

	windowVotes := filterVotes(votes, since, now)
	windowProposals := filterProposals(proposals, since, now)

	report := &Report{
		ClanID:       clanID,
		Window:       window,
		GeneratedAt:  now,
		TokensBurned: e.tokensBurned(windowVotes, proposalPoolIndex(proposals)),
	}
	report.Participation = participationByRole(members, windowVotes)
	report.Pools = e.poolStats(windowProposals, votes)
	report.Health = e.healthScore(members, windowProposals, windowVotes, since, now)
	report.Trend = e.trend(members, proposals, votes, since, now)
	return report, nil
}

func filterVotes(votes []*models.Vote, since, until time.Time) []*models.Vote {
	var kept []*models.Vote
	for _, v := range votes {
		if !v.CastAt.Before(since) && !v.CastAt.After(until) {
			kept = append(kept, v)
		}
	}
	return kept
}

func filterProposals(proposals []*models.Proposal, since, until time.Time) []*models.Proposal {
	var kept []*models.Proposal
	for _, p := range proposals {
		if !p.CreatedAt.Before(since) && !p.CreatedAt.After(until) {
			kept = append(kept, p)
		}
	}
	return kept
}

func proposalPoolIndex(proposals []*models.Proposal) map[string]models.PoolType {
	index := make(map[string]models.PoolType, len(proposals))
	for _, p := range proposals {
		index[p.ID] = p.Pool
	}
	return index
}

func participationByRole(members []*models.RoleAssignment, votes []*models.Vote) []RoleParticipation {
	roleOf := make(map[uuid.UUID]models.Role, len(members))
	totals := map[models.Role]int{}
	for _, m := range members {
		roleOf[m.UserID] = m.Role
		totals[m.Role]++
	}
	active := map[models.Role]map[uuid.UUID]struct{}{}
	for _, v := range votes {
		role, ok := roleOf[v.Voter]
		if !ok {
			continue
		}
		if active[role] == nil {
			active[role] = map[uuid.UUID]struct{}{}
		}
		active[role][v.Voter] = struct{}{}
	}

	var result []RoleParticipation
	for _, role := range models.AllRoles() {
		total := totals[role]
		if total == 0 {
			continue
		}
		voters := len(active[role])
		result = append(result, RoleParticipation{
			Role:         role,
			TotalMembers: total,
			ActiveVoters: voters,
			Rate:         float64(voters) / float64(total),
		})
	}
	return result
}

func (e *Engine) poolStats(proposals []*models.Proposal, votes []*models.Vote) []PoolStats {
	votesPerProposal := map[string]int{}
	for _, v := range votes {
		votesPerProposal[v.ProposalID]++
	}

	byPool := map[models.PoolType]*PoolStats{}
	for _, p := range proposals {
		stats := byPool[p.Pool]
		if stats == nil {
			stats = &PoolStats{Pool: p.Pool, AverageCastPower: decimal.Zero}
			byPool[p.Pool] = stats
		}
		stats.Created++
		switch {
		case p.Outcome == models.OutcomePassed:
			stats.Passed++
		case p.Status == models.ProposalFinalized || p.Status == models.ProposalExpired:
			stats.Failed++
		}
		stats.AverageCastPower = stats.AverageCastPower.Add(p.CastPower())
	}

	var result []PoolStats
	for _, pool := range models.AllPoolTypes() {
		stats := byPool[pool]
		if stats == nil {
			continue
		}
		if stats.Created > 0 {
			stats.AverageCastPower = stats.AverageCastPower.Div(decimal.NewFromInt(int64(stats.Created)))
		}
		result = append(result, *stats)
	}
	return result
}

// tokensBurned reconstructs burned token amounts from the recorded burn
// power: k extra votes in a pool cost the base progression times the pool's
// multiplier.
func (e *Engine) tokensBurned(votes []*models.Vote, poolOf map[string]models.PoolType) decimal.Decimal {
	total := decimal.Zero
	for _, v := range votes {
		if v.BurnReceiptID == nil || !v.BurnPower.IsPositive() {
			continue
		}
		pool, ok := poolOf[v.ProposalID]
		if !ok {
			continue
		}
		poolConfig, ok := e.pools.Pool(string(pool))
		if !ok {
			continue
		}
		base, ok := e.burn.CostFor(int(v.BurnPower.IntPart()))
		if !ok {
			continue
		}
		total = total.Add(decimal.NewFromInt(base).Mul(poolConfig.Multiplier()))
	}
	return total
}

func (e *Engine) healthScore(members []*models.RoleAssignment, proposals []*models.Proposal, votes []*models.Vote, since, until time.Time) HealthScore {
	score := HealthScore{
		Participation: participationFactor(members, votes),
		Diversity:     diversityFactor(members, votes),
		Activity:      activityFactor(proposals),
		Engagement:    engagementFactor(proposals, votes),
		Stability:     stabilityFactor(proposals, votes, since, until),
	}
	score.Score = 100 * (weightParticipation*score.Participation +
		weightDiversity*score.Diversity +
		weightActivity*score.Activity +
		weightEngagement*score.Engagement +
		weightStability*score.Stability)
	score.Grade = gradeFor(score.Score)
	return score
}

func gradeFor(score float64) string {
	switch {
	case score >= 85:
		return "A"
	case score >= 70:
		return "B"
	case score >= 55:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// participationFactor is the share of current members who voted in the
// window.
func participationFactor(members []*models.RoleAssignment, votes []*models.Vote) float64 {
	if len(members) == 0 {
		return 0
	}
	current := map[uuid.UUID]struct{}{}
	for _, m := range members {
		current[m.UserID] = struct{}{}
	}
	voters := map[uuid.UUID]struct{}{}
	for _, v := range votes {
		if _, ok := current[v.Voter]; ok {
			voters[v.Voter] = struct{}{}
		}
	}
	return float64(len(voters)) / float64(len(members))
}

// diversityFactor is the fraction of populated role tiers whose
// participation rate exceeds 10%.
func diversityFactor(members []*models.RoleAssignment, votes []*models.Vote) float64 {
	participation := participationByRole(members, votes)
	if len(participation) == 0 {
		return 0
	}
	over := 0
	for _, p := range participation {
		if p.Rate > 0.10 {
			over++
		}
	}
	return float64(over) / float64(len(participation))
}

// activityFactor is the share of window proposals still active.
func activityFactor(proposals []*models.Proposal) float64 {
	if len(proposals) == 0 {
		return 0
	}
	active := 0
	for _, p := range proposals {
		if p.Status == models.ProposalActive {
			active++
		}
	}
	return float64(active) / float64(len(proposals))
}

// engagementFactor is the average number of votes per proposal, capped and
// normalised.
func engagementFactor(proposals []*models.Proposal, votes []*models.Vote) float64 {
	if len(proposals) == 0 {
		return 0
	}
	inWindow := map[string]struct{}{}
	for _, p := range proposals {
		inWindow[p.ID] = struct{}{}
	}
	counted := 0
	for _, v := range votes {
		if _, ok := inWindow[v.ProposalID]; ok {
			counted++
		}
	}
	average := float64(counted) / float64(len(proposals))
	return math.Min(average, engagementCap) / engagementCap
}

// stabilityFactor inverts the variance of votes per sub-window: steady
// cadence scores high, bursts score low.
func stabilityFactor(proposals []*models.Proposal, votes []*models.Vote, since, until time.Time) float64 {
	slice := until.Sub(since) / trendSubWindows
	if slice <= 0 {
		return 0
	}
	counts := make([]float64, trendSubWindows)
	for _, v := range votes {
		index := int(v.CastAt.Sub(since) / slice)
		if index < 0 {
			index = 0
		}
		if index >= trendSubWindows {
			index = trendSubWindows - 1
		}
		counts[index]++
	}
	mean := 0.0
	for _, c := range counts {
		mean += c
	}
	mean /= trendSubWindows
	variance := 0.0
	for _, c := range counts {
		variance += (c - mean) * (c - mean)
	}
	variance /= trendSubWindows
	return 1 / (1 + variance)
}

// trend computes the health score over the last sub-windows and labels the
// direction of its linear regression slope.
func (e *Engine) trend(members []*models.RoleAssignment, proposals []*models.Proposal, votes []*models.Vote, since, until time.Time) string {
	slice := until.Sub(since) / trendSubWindows
	if slice <= 0 {
		return TrendInsufficientData
	}

	var scores []float64
	for i := 0; i < trendSubWindows; i++ {
		start := since.Add(time.Duration(i) * slice)
		end := start.Add(slice)
		subProposals := filterProposals(proposals, start, end)
		subVotes := filterVotes(votes, start, end)
		if len(subProposals) == 0 && len(subVotes) == 0 {
			continue
		}
		scores = append(scores, e.healthScore(members, subProposals, subVotes, start, end).Score)
	}
	if len(scores) < 3 {
		return TrendInsufficientData
	}

	slope := regressionSlope(scores)
	switch {
	case slope > 2:
		return TrendImproving
	case slope < -2:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// regressionSlope fits y = a + b*x over x = 0..n-1 and returns b.
func regressionSlope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denominator
}
