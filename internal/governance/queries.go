package governance

import (
	"context"
	"time"

	"github.com/gofrs/uuid"

	"github.com/clanwyse/halo/internal/analytics"
	"github.com/clanwyse/halo/internal/delegation"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
)

// ProposalFilter narrows proposal listings; nil fields match everything.
type ProposalFilter struct {
	Status *models.ProposalStatus
	Pool   *models.PoolType
}

// MemberFilter narrows member listings; a nil role matches everyone.
type MemberFilter struct {
	Role *models.Role
}

// GetProposal returns one proposal by id.
func (s *Service) GetProposal(ctx context.Context, proposalID string) (*models.Proposal, error) {
	proposal, err := s.repo.Proposals().Find(ctx, proposalID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("proposal not found")
		}
		return nil, mapErr(err)
	}
	return proposal, nil
}

// ListProposals returns the clan's proposals matching the filter, in
// creation order.
func (s *Service) ListProposals(ctx context.Context, clanID uuid.UUID, filter ProposalFilter) ([]*models.Proposal, error) {
	proposals, err := s.repo.Proposals().List(ctx, clanID, filter.Status, filter.Pool)
	return proposals, mapErr(err)
}

// ListActiveProposals returns the clan's open proposals, optionally
// restricted to one pool.
func (s *Service) ListActiveProposals(ctx context.Context, clanID uuid.UUID, pool *models.PoolType) ([]*models.Proposal, error) {
	active := models.ProposalActive
	return s.ListProposals(ctx, clanID, ProposalFilter{Status: &active, Pool: pool})
}

// GetUserRole returns the user's current role in the clan.
func (s *Service) GetUserRole(ctx context.Context, clanID, user uuid.UUID) (models.Role, error) {
	assignment, err := s.repo.Assignments().FindCurrent(ctx, clanID, user)
	if err != nil {
		if models.IsNotFoundError(err) {
			return "", goverrors.NewNotFoundError("user is not a clan member")
		}
		return "", mapErr(err)
	}
	return assignment.Role, nil
}

// GetClanMembers returns the clan's current assignments matching the
// filter.
func (s *Service) GetClanMembers(ctx context.Context, clanID uuid.UUID, filter MemberFilter) ([]*models.RoleAssignment, error) {
	current, err := s.repo.Assignments().ListCurrent(ctx, clanID)
	if err != nil {
		return nil, mapErr(err)
	}
	if filter.Role == nil {
		return current, nil
	}
	var matched []*models.RoleAssignment
	for _, a := range current {
		if a.Role == *filter.Role {
			matched = append(matched, a)
		}
	}
	return matched, nil
}

// GetRoleHistory returns superseded and current assignments, oldest first.
// A nil user returns the whole clan's history.
func (s *Service) GetRoleHistory(ctx context.Context, clanID uuid.UUID, user *uuid.UUID) ([]*models.RoleAssignment, error) {
	history, err := s.repo.Assignments().History(ctx, clanID, user)
	return history, mapErr(err)
}

// GetAuditTrail returns audit entries with sequence greater than sinceSeq,
// up to limit (0 means no limit).
func (s *Service) GetAuditTrail(ctx context.Context, clanID uuid.UUID, sinceSeq uint64, limit int) ([]*models.AuditLogEntry, error) {
	entries, err := s.repo.Audit().List(ctx, clanID, sinceSeq, limit)
	return entries, mapErr(err)
}

// GetAnalytics derives the clan's governance report over the trailing
// window. Reports scan clan history, so derivation is rate limited.
func (s *Service) GetAnalytics(ctx context.Context, clanID uuid.UUID, window time.Duration) (*analytics.Report, error) {
	if window <= 0 {
		return nil, goverrors.NewValidationError("window", "analytics window must be positive")
	}
	if !s.analyticsLimiter.AllowAt(s.clock.Now()) {
		return nil, goverrors.NewRateLimitedError(s.config.Analytics.QueryRate.OverTime)
	}
	report, err := s.analytics.Report(ctx, clanID, window)
	return report, mapErr(err)
}

// ResolveDelegationsFor returns the inbound delegations that would
// contribute to the voter's ballot on the proposal right now.
func (s *Service) ResolveDelegationsFor(ctx context.Context, voter uuid.UUID, proposalID string) ([]delegation.Resolved, error) {
	proposal, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.graph.ResolveFor(ctx, voter, proposal)
	return resolved, mapErr(err)
}

// ListDelegations returns every delegation edge in the clan, including
// revoked and expired history.
func (s *Service) ListDelegations(ctx context.Context, clanID uuid.UUID) ([]*models.Delegation, error) {
	edges, err := s.repo.Delegations().ListByClan(ctx, clanID)
	return edges, mapErr(err)
}

// ListPendingRoleRequests returns the clan's open role change requests.
func (s *Service) ListPendingRoleRequests(ctx context.Context, clanID uuid.UUID) ([]*models.RoleChangeRequest, error) {
	pending, err := s.repo.RoleRequests().ListPending(ctx, clanID)
	return pending, mapErr(err)
}
