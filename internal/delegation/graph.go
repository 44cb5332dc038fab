// Package delegation manages the per-clan graph of single-hop voting
// delegations. Edges are never deleted; superseded edges remain as history.
package delegation

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/clanwyse/halo/internal/clock"
	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

// Graph validates and resolves delegation edges for one deployment.
type Graph struct {
	repo   storage.Repository
	config *conf.DelegationConfiguration
	clock  clock.Clock
}

func NewGraph(repo storage.Repository, config *conf.DelegationConfiguration, clk clock.Clock) *Graph {
	return &Graph{
		repo:   repo,
		config: config,
		clock:  clk,
	}
}

// Delegate creates a new edge delegator -> delegate. Both must be current
// clan members, the edge must not close a cycle, the delegate must be under
// the inbound cap, and the delegator must not already have a counting edge
// with an overlapping scope.
func (g *Graph) Delegate(ctx context.Context, clan, delegator, delegate uuid.UUID, scope models.DelegationScope, period time.Duration) (*models.Delegation, error) {
	if delegator == delegate {
		return nil, goverrors.NewValidationError("delegate", "cannot delegate to yourself")
	}
	if period <= 0 {
		return nil, goverrors.NewValidationError("period", "delegation period must be positive")
	}
	if period > g.config.MaxPeriod {
		return nil, goverrors.NewValidationError("period", "delegation period exceeds the maximum of %s", g.config.MaxPeriod)
	}
	if !scope.All && len(scope.Pools) == 0 {
		return nil, goverrors.NewValidationError("scope", "scope must cover all pools or name at least one")
	}
	for _, pool := range scope.Pools {
		if !pool.Valid() {
			return nil, goverrors.NewValidationError("scope", "unknown pool type %q", pool)
		}
	}

	if _, err := g.repo.Assignments().FindCurrent(ctx, clan, delegator); err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("delegator is not a clan member")
		}
		return nil, err
	}
	if _, err := g.repo.Assignments().FindCurrent(ctx, clan, delegate); err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("delegate is not a clan member")
		}
		return nil, err
	}

	now := g.clock.Now()

	inbound, err := g.repo.Delegations().ListInbound(ctx, clan, delegate)
	if err != nil {
		return nil, err
	}
	counting := 0
	for _, edge := range inbound {
		if edge.CountsAt(now) {
			counting++
		}
	}
	if counting >= g.config.MaxInbound {
		return nil, goverrors.NewConflictError("delegate already holds %d inbound delegations", counting)
	}

	outbound, err := g.repo.Delegations().ListOutbound(ctx, clan, delegator)
	if err != nil {
		return nil, err
	}
	for _, edge := range outbound {
		if edge.CountsAt(now) && scopesOverlap(edge.Scope, scope) {
			return nil, goverrors.NewConflictError("an overlapping delegation to %s already exists", edge.Delegate)
		}
	}

	if err := g.checkAcyclic(ctx, clan, delegator, delegate, now); err != nil {
		return nil, err
	}

	edge := &models.Delegation{
		ID:        uuid.Must(uuid.NewV4()),
		ClanID:    clan,
		Delegator: delegator,
		Delegate:  delegate,
		CreatedAt: now,
		ExpiresAt: now.Add(period),
		Scope:     scope,
		Status:    models.DelegationActive,
	}
	if err := g.repo.Delegations().Create(ctx, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

// checkAcyclic walks counting edges starting from the prospective delegate.
// Reaching the delegator means the new edge would close a cycle. Resolution
// never chains, so cycles carry no power, but a cyclic graph is still an
// illegible one.
func (g *Graph) checkAcyclic(ctx context.Context, clan, delegator, delegate uuid.UUID, now time.Time) error {
	visited := map[uuid.UUID]bool{}
	frontier := []uuid.UUID{delegate}
	for len(frontier) > 0 {
		current := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if current == delegator {
			return goverrors.NewConflictError("delegation would create a cycle")
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		outbound, err := g.repo.Delegations().ListOutbound(ctx, clan, current)
		if err != nil {
			return err
		}
		for _, edge := range outbound {
			if edge.CountsAt(now) {
				frontier = append(frontier, edge.Delegate)
			}
		}
	}
	return nil
}

// Revoke transitions an edge toward Revoked. With a configured notice period
// the first call places the edge in NoticeGiven; it keeps counting until the
// effective moment, after which a second call completes the revocation.
func (g *Graph) Revoke(ctx context.Context, edgeID, actor uuid.UUID) (*models.Delegation, error) {
	edge, err := g.repo.Delegations().Find(ctx, edgeID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("delegation not found")
		}
		return nil, err
	}
	if edge.Delegator != actor {
		return nil, goverrors.NewPermissionDeniedError("only the delegator may revoke a delegation")
	}

	now := g.clock.Now()
	switch edge.Status {
	case models.DelegationActive:
		if !now.Before(edge.ExpiresAt) {
			edge.Status = models.DelegationExpired
			break
		}
		if g.config.NoticePeriod > 0 {
			effective := now.Add(g.config.NoticePeriod)
			edge.Status = models.DelegationNoticeGiven
			edge.NoticeGivenAt = &now
			edge.EffectiveAt = &effective
		} else {
			edge.Status = models.DelegationRevoked
			edge.NoticeGivenAt = &now
			edge.EffectiveAt = &now
		}
	case models.DelegationNoticeGiven:
		if edge.EffectiveAt != nil && now.Before(*edge.EffectiveAt) {
			return nil, goverrors.NewConflictError("revocation takes effect at %s", edge.EffectiveAt.Format(time.RFC3339))
		}
		edge.Status = models.DelegationRevoked
	default:
		return nil, goverrors.NewConflictError("delegation is already %s", edge.Status)
	}

	if err := g.repo.Delegations().Update(ctx, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

// Resolved is one inbound delegation that contributes to a vote.
type Resolved struct {
	EdgeID    uuid.UUID
	Delegator uuid.UUID
	Power     decimal.Decimal
}

// ResolveFor returns the direct inbound delegations that contribute to the
// voter's ballot on the proposal: counting edges whose scope covers the pool
// and whose delegator has not voted themselves. Edges into the delegators
// are never followed.
func (g *Graph) ResolveFor(ctx context.Context, voter uuid.UUID, proposal *models.Proposal) ([]Resolved, error) {
	inbound, err := g.repo.Delegations().ListInbound(ctx, proposal.ClanID, voter)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	var resolved []Resolved
	for _, edge := range inbound {
		if !edge.CountsAt(now) || !edge.Scope.Covers(proposal.Pool) {
			continue
		}
		if proposal.HasVoted(edge.Delegator) {
			continue
		}
		assignment, err := g.repo.Assignments().FindCurrent(ctx, proposal.ClanID, edge.Delegator)
		if err != nil {
			if models.IsNotFoundError(err) {
				// delegator left the clan; the edge is dormant
				continue
			}
			return nil, err
		}
		resolved = append(resolved, Resolved{
			EdgeID:    edge.ID,
			Delegator: edge.Delegator,
			Power:     assignment.Role.Weight(),
		})
	}
	return resolved, nil
}

// TotalPower sums the resolved contributions.
func TotalPower(resolved []Resolved) decimal.Decimal {
	total := decimal.Zero
	for _, r := range resolved {
		total = total.Add(r.Power)
	}
	return total
}

func scopesOverlap(a, b models.DelegationScope) bool {
	if a.All || b.All {
		return true
	}
	for _, pool := range a.Pools {
		if b.Covers(pool) {
			return true
		}
	}
	return false
}
