// Package roles implements the clan role hierarchy: initialization,
// multi-approver assignment requests, ownership transfer, demotion and
// removal, and the Owner's emergency override.
package roles

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/clanwyse/halo/internal/audit"
	"github.com/clanwyse/halo/internal/clock"
	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/crypto"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/permissions"
	"github.com/clanwyse/halo/internal/ratelimit"
	"github.com/clanwyse/halo/internal/storage"
)

// RateClassAssignment is the sliding-window class for assignment requests.
const RateClassAssignment = "role.assignment"

// Registry owns role state transitions for all clans.
type Registry struct {
	repo     storage.Repository
	resolver *permissions.Resolver
	recorder *audit.Recorder
	config   *conf.RoleConfiguration
	clock    clock.Clock
	window   ratelimit.Window
}

func NewRegistry(repo storage.Repository, resolver *permissions.Resolver, recorder *audit.Recorder, config *conf.RoleConfiguration, clk clock.Clock) *Registry {
	return &Registry{
		repo:     repo,
		resolver: resolver,
		recorder: recorder,
		config:   config,
		clock:    clk,
		window:   ratelimit.WindowFor(config.AssignmentRate),
	}
}

// InitializeClan registers a clan created elsewhere on the platform and
// seeds its single Owner assignment.
func (r *Registry) InitializeClan(ctx context.Context, clanID, owner uuid.UUID) (*models.Clan, error) {
	if _, err := r.repo.Clans().Find(ctx, clanID); err == nil {
		return nil, goverrors.NewConflictError("clan is already initialized")
	} else if !models.IsNotFoundError(err) {
		return nil, err
	}

	now := r.clock.Now()
	clan := models.NewClan(clanID, owner, now)
	if err := clan.Validate(); err != nil {
		return nil, goverrors.NewValidationError("clan", "%s", err)
	}
	if err := r.repo.Clans().Create(ctx, clan); err != nil {
		return nil, err
	}
	assignment := models.NewRoleAssignment(clanID, owner, models.RoleOwner, owner, nil, now)
	if err := r.repo.Assignments().Upsert(ctx, assignment); err != nil {
		return nil, err
	}
	r.resolver.Invalidate(clanID)

	entry := models.NewAuditLogEntry(clanID, owner, models.ClanInitializedAction, owner.String(), nil, now)
	if err := r.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return clan, nil
}

// AssignmentResult is the outcome of a role assignment request: either a
// pending multi-approver request or an immediately materialised assignment.
type AssignmentResult struct {
	Request    *models.RoleChangeRequest
	Assignment *models.RoleAssignment
}

// RequestAssignment opens a role change for the target user. Requests whose
// approval requirement is already satisfied by the requester materialise
// immediately; the rest go to the multi-approver workflow.
func (r *Registry) RequestAssignment(ctx context.Context, clan, actor, target uuid.UUID, proposed models.Role, reason string) (*AssignmentResult, error) {
	if !proposed.Valid() || proposed == models.RoleOwner {
		return nil, goverrors.NewValidationError("role", "role %q cannot be assigned", proposed)
	}
	if _, err := r.resolver.Require(ctx, clan, actor, "role.request"); err != nil {
		return nil, err
	}

	// A target with no current assignment is joining the clan; operation
	// checks then only gate the proposed role.
	current, err := r.repo.Assignments().FindCurrent(ctx, clan, target)
	if err != nil && !models.IsNotFoundError(err) {
		return nil, err
	}
	if current != nil && current.Role == models.RoleOwner {
		return nil, goverrors.NewConflictError("the Owner's role changes only through an ownership transfer")
	}
	op := permissions.Operation{Kind: permissions.OpAssignRole, TargetRole: proposed}
	if current != nil {
		op.TargetUser = target
	}
	if err := r.resolver.CheckOperation(ctx, clan, actor, op); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	events, err := r.repo.RateEvents().ListSince(ctx, clan, actor, RateClassAssignment, r.window.Cutoff(now))
	if err != nil {
		return nil, err
	}
	if ok, retryAfter := r.window.Allow(events, now); !ok {
		return nil, goverrors.NewRateLimitedError(retryAfter)
	}
	if current != nil {
		if current.Role == proposed {
			return nil, goverrors.NewConflictError("target already holds role %s", proposed)
		}
		if elapsed := now.Sub(current.AssignedAt); elapsed < r.config.ChangeCooldown {
			return nil, goverrors.NewConflictError("role change cooldown active for another %s", r.config.ChangeCooldown-elapsed)
		}
	}
	if err := r.checkPopulationCap(ctx, clan, proposed); err != nil {
		return nil, err
	}

	count, ownerRequired := models.RequiredApprovals(proposed)
	request := &models.RoleChangeRequest{
		ID:                    crypto.DeterministicID("rolereq", clan.String(), target.String(), string(proposed), fmt.Sprintf("%d", now.UnixMilli()), crypto.SecureToken(8)),
		ClanID:                clan,
		TargetUser:            target,
		ProposedRole:          proposed,
		RequestedBy:           actor,
		Reason:                reason,
		RequiredApprovals:     count,
		OwnerApprovalRequired: ownerRequired,
		Status:                models.RequestPending,
		ExpiresAt:             now.Add(r.config.RequestExpiry),
	}

	// The requester's own approval counts when they hold approver rank.
	if rank, err := r.approverRank(ctx, clan, actor); err != nil {
		return nil, err
	} else if rank {
		request.Approvals = append(request.Approvals, models.RoleApproval{
			Approver:  actor,
			Decision:  models.DecisionApprove,
			Reason:    reason,
			DecidedAt: now,
		})
	}

	if err := r.repo.RateEvents().Record(ctx, clan, actor, RateClassAssignment, now); err != nil {
		return nil, err
	}

	clanRecord, err := r.repo.Clans().Find(ctx, clan)
	if err != nil {
		return nil, err
	}
	if request.ThresholdMet(clanRecord.OwnerID) {
		request.Status = models.RequestApproved
		if err := r.repo.RoleRequests().Create(ctx, request); err != nil {
			return nil, err
		}
		assignment, err := r.materialise(ctx, request, actor, current)
		if err != nil {
			return nil, err
		}
		return &AssignmentResult{Request: request, Assignment: assignment}, nil
	}

	if err := r.repo.RoleRequests().Create(ctx, request); err != nil {
		return nil, err
	}
	entry := models.NewAuditLogEntry(clan, actor, models.RoleRequestCreatedAction, request.ID, models.JSONMap{
		"target_user":   target.String(),
		"proposed_role": string(proposed),
	}, now)
	if err := r.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return &AssignmentResult{Request: request}, nil
}

// Decide records an approver's decision on a pending request. A rejection
// terminates the request; reaching the approval threshold materialises the
// assignment atomically.
func (r *Registry) Decide(ctx context.Context, requestID string, approver uuid.UUID, decision models.ApprovalDecision, reason string) (*AssignmentResult, error) {
	request, err := r.repo.RoleRequests().Find(ctx, requestID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("role change request not found")
		}
		return nil, err
	}
	now := r.clock.Now()
	if request.Status == models.RequestPending && !now.Before(request.ExpiresAt) {
		request.Status = models.RequestExpired
		if err := r.repo.RoleRequests().Update(ctx, request); err != nil {
			return nil, err
		}
	}
	if request.Status != models.RequestPending {
		return nil, goverrors.NewConflictError("request is already %s", request.Status)
	}
	if request.HasDecided(approver) {
		return nil, goverrors.NewConflictError("approver has already decided")
	}
	if rank, err := r.approverRank(ctx, request.ClanID, approver); err != nil {
		return nil, err
	} else if !rank {
		return nil, goverrors.NewPermissionDeniedError("approvals require admin rank or above")
	}

	request.Approvals = append(request.Approvals, models.RoleApproval{
		Approver:  approver,
		Decision:  decision,
		Reason:    reason,
		DecidedAt: now,
	})

	if decision == models.DecisionReject {
		request.Status = models.RequestRejected
		if err := r.repo.RoleRequests().Update(ctx, request); err != nil {
			return nil, err
		}
		entry := models.NewAuditLogEntry(request.ClanID, approver, models.RoleRequestDecidedAction, request.ID, models.JSONMap{
			"decision": string(models.DecisionReject),
		}, now)
		if err := r.recorder.Record(ctx, entry); err != nil {
			return nil, err
		}
		return &AssignmentResult{Request: request}, nil
	}

	clanRecord, err := r.repo.Clans().Find(ctx, request.ClanID)
	if err != nil {
		return nil, err
	}
	if !request.ThresholdMet(clanRecord.OwnerID) {
		if err := r.repo.RoleRequests().Update(ctx, request); err != nil {
			return nil, err
		}
		return &AssignmentResult{Request: request}, nil
	}

	current, err := r.repo.Assignments().FindCurrent(ctx, request.ClanID, request.TargetUser)
	if err != nil && !models.IsNotFoundError(err) {
		return nil, err
	}
	if current != nil && current.Role == models.RoleOwner {
		return nil, goverrors.NewConflictError("the Owner's role changes only through an ownership transfer")
	}
	// Re-check the cap: the population may have moved since the request.
	if err := r.checkPopulationCap(ctx, request.ClanID, request.ProposedRole); err != nil {
		return nil, err
	}
	request.Status = models.RequestApproved
	if err := r.repo.RoleRequests().Update(ctx, request); err != nil {
		return nil, err
	}
	entry := models.NewAuditLogEntry(request.ClanID, approver, models.RoleRequestDecidedAction, request.ID, models.JSONMap{
		"decision": string(models.DecisionApprove),
	}, now)
	if err := r.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	assignment, err := r.materialise(ctx, request, approver, current)
	if err != nil {
		return nil, err
	}
	return &AssignmentResult{Request: request, Assignment: assignment}, nil
}

// TransferOwnership swaps the Owner role to a new member; the outgoing
// owner becomes an Admin. Every precondition is checked before the first
// write so a failed transfer leaves no trace.
func (r *Registry) TransferOwnership(ctx context.Context, clanID, currentOwner, newOwner uuid.UUID) error {
	if currentOwner == newOwner {
		return goverrors.NewValidationError("new_owner", "ownership transfer requires a different member")
	}
	clan, err := r.repo.Clans().Find(ctx, clanID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return goverrors.NewNotFoundError("clan not found")
		}
		return err
	}
	if clan.OwnerID != currentOwner {
		return goverrors.NewPermissionDeniedError("only the clan owner may transfer ownership")
	}
	ownerAssignment, err := r.repo.Assignments().FindCurrent(ctx, clanID, currentOwner)
	if err != nil {
		return err
	}
	newOwnerAssignment, err := r.repo.Assignments().FindCurrent(ctx, clanID, newOwner)
	if err != nil {
		if models.IsNotFoundError(err) {
			return goverrors.NewNotFoundError("new owner is not a clan member")
		}
		return err
	}

	// The outgoing owner lands in the Admin tier, which must have room. A
	// new owner vacating an Admin slot makes its own room.
	if newOwnerAssignment.Role != models.RoleAdmin {
		if err := r.checkPopulationCap(ctx, clanID, models.RoleAdmin); err != nil {
			return err
		}
	}

	now := r.clock.Now()
	previousOwnerRole := ownerAssignment.Role
	previousNewOwnerRole := newOwnerAssignment.Role
	if err := r.repo.Assignments().Upsert(ctx, models.NewRoleAssignment(clanID, newOwner, models.RoleOwner, currentOwner, &previousNewOwnerRole, now)); err != nil {
		return err
	}
	if err := r.repo.Assignments().Upsert(ctx, models.NewRoleAssignment(clanID, currentOwner, models.RoleAdmin, currentOwner, &previousOwnerRole, now)); err != nil {
		return err
	}
	clan.OwnerID = newOwner
	clan.UpdatedAt = &now
	if err := r.repo.Clans().Update(ctx, clan); err != nil {
		return err
	}
	r.resolver.Invalidate(clanID)

	entry := models.NewAuditLogEntry(clanID, currentOwner, models.OwnershipTransferredAction, newOwner.String(), models.JSONMap{
		"previous_owner": currentOwner.String(),
	}, now)
	return r.recorder.Record(ctx, entry)
}

// Demote moves the target one tier down, or to the explicit new role when
// given. The Owner cannot be demoted; use TransferOwnership instead.
func (r *Registry) Demote(ctx context.Context, clanID, actor, target uuid.UUID, newRole *models.Role) (*models.RoleAssignment, error) {
	if err := r.resolver.CheckOperation(ctx, clanID, actor, permissions.Operation{
		Kind:       permissions.OpDemote,
		TargetUser: target,
	}); err != nil {
		return nil, err
	}
	current, err := r.repo.Assignments().FindCurrent(ctx, clanID, target)
	if err != nil {
		return nil, err
	}
	if current.Role == models.RoleOwner {
		return nil, goverrors.NewConflictError("the Owner cannot be demoted; transfer ownership first")
	}
	role := nextTierDown(current.Role)
	if newRole != nil {
		role = *newRole
	}
	if !role.Valid() || role == models.RoleOwner {
		return nil, goverrors.NewValidationError("role", "cannot demote to %q", role)
	}
	if !current.Role.Outranks(role) {
		return nil, goverrors.NewValidationError("role", "%s is not a demotion from %s", role, current.Role)
	}
	if err := r.checkPopulationCap(ctx, clanID, role); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	previous := current.Role
	assignment := models.NewRoleAssignment(clanID, target, role, actor, &previous, now)
	if err := r.repo.Assignments().Upsert(ctx, assignment); err != nil {
		return nil, err
	}
	r.resolver.Invalidate(clanID)

	entry := models.NewAuditLogEntry(clanID, actor, models.MemberDemotedAction, target.String(), models.JSONMap{
		"previous_role": string(previous),
		"new_role":      string(role),
	}, now)
	if err := r.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return assignment, nil
}

// Remove retires the target's membership. Their assignment history stays.
func (r *Registry) Remove(ctx context.Context, clanID, actor, target uuid.UUID) error {
	if err := r.resolver.CheckOperation(ctx, clanID, actor, permissions.Operation{
		Kind:       permissions.OpKick,
		TargetUser: target,
	}); err != nil {
		return err
	}
	clan, err := r.repo.Clans().Find(ctx, clanID)
	if err != nil {
		return err
	}
	if clan.OwnerID == target {
		return goverrors.NewConflictError("the Owner cannot be removed; transfer ownership first")
	}
	if err := r.repo.Assignments().Remove(ctx, clanID, target); err != nil {
		return err
	}
	r.resolver.Invalidate(clanID)

	entry := models.NewAuditLogEntry(clanID, actor, models.MemberRemovedAction, target.String(), nil, r.clock.Now())
	return r.recorder.Record(ctx, entry)
}

// EmergencyAssign is the Owner's override: it bypasses the multi-approver
// workflow, the change cooldown and the request rate limit. The override is
// always written to the audit log with its justification.
func (r *Registry) EmergencyAssign(ctx context.Context, clanID, owner, target uuid.UUID, role models.Role, justification string) (*models.RoleAssignment, error) {
	if justification == "" {
		return nil, goverrors.NewValidationError("justification", "emergency overrides require a justification")
	}
	if !role.Valid() || role == models.RoleOwner {
		return nil, goverrors.NewValidationError("role", "role %q cannot be assigned", role)
	}
	clan, err := r.repo.Clans().Find(ctx, clanID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, goverrors.NewNotFoundError("clan not found")
		}
		return nil, err
	}
	if clan.OwnerID != owner {
		return nil, goverrors.NewPermissionDeniedError("only the clan owner may invoke an emergency override")
	}
	if target == clan.OwnerID {
		return nil, goverrors.NewConflictError("the Owner's role changes only through an ownership transfer")
	}
	if err := r.checkPopulationCap(ctx, clanID, role); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	current, err := r.repo.Assignments().FindCurrent(ctx, clanID, target)
	if err != nil && !models.IsNotFoundError(err) {
		return nil, err
	}
	var previous *models.Role
	if current != nil {
		previous = &current.Role
	}
	assignment := models.NewRoleAssignment(clanID, target, role, owner, previous, now)
	assignment.Metadata = models.JSONMap{"emergency": true}
	if err := r.repo.Assignments().Upsert(ctx, assignment); err != nil {
		return nil, err
	}
	r.resolver.Invalidate(clanID)

	override := models.NewAuditLogEntry(clanID, owner, models.EmergencyOverrideAction, target.String(), models.JSONMap{
		"emergency":     true,
		"operation":     "assign_role",
		"justification": justification,
		"new_role":      string(role),
	}, now)
	if err := r.recorder.Record(ctx, override); err != nil {
		return nil, err
	}
	assigned := models.NewAuditLogEntry(clanID, owner, models.RoleAssignedAction, target.String(), models.JSONMap{
		"role":      string(role),
		"emergency": true,
	}, now)
	if err := r.recorder.Record(ctx, assigned); err != nil {
		return nil, err
	}
	return assignment, nil
}

// SetOverride installs a per-clan permission override. Owner only.
func (r *Registry) SetOverride(ctx context.Context, clanID, owner uuid.UUID, override *models.PermissionOverride) error {
	clan, err := r.repo.Clans().Find(ctx, clanID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return goverrors.NewNotFoundError("clan not found")
		}
		return err
	}
	if clan.OwnerID != owner {
		return goverrors.NewPermissionDeniedError("only the clan owner may change permission overrides")
	}
	if !override.Role.Valid() || override.Role == models.RoleOwner {
		return goverrors.NewValidationError("role", "overrides cannot target role %q", override.Role)
	}
	if override.Permission == "" {
		return goverrors.NewValidationError("permission", "permission tag is required")
	}
	if err := r.repo.Overrides().Set(ctx, override); err != nil {
		return err
	}
	r.resolver.Invalidate(clanID)

	entry := models.NewAuditLogEntry(clanID, owner, models.OverrideSetAction, string(override.Role), models.JSONMap{
		"permission": override.Permission,
		"allow":      override.Allow,
	}, r.clock.Now())
	return r.recorder.Record(ctx, entry)
}

func (r *Registry) materialise(ctx context.Context, request *models.RoleChangeRequest, by uuid.UUID, current *models.RoleAssignment) (*models.RoleAssignment, error) {
	now := r.clock.Now()
	var previous *models.Role
	if current != nil {
		previous = &current.Role
	}
	assignment := models.NewRoleAssignment(request.ClanID, request.TargetUser, request.ProposedRole, by, previous, now)
	if err := r.repo.Assignments().Upsert(ctx, assignment); err != nil {
		return nil, err
	}
	r.resolver.Invalidate(request.ClanID)

	entry := models.NewAuditLogEntry(request.ClanID, by, models.RoleAssignedAction, request.TargetUser.String(), models.JSONMap{
		"role":       string(request.ProposedRole),
		"request_id": request.ID,
	}, now)
	if err := r.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return assignment, nil
}

func (r *Registry) checkPopulationCap(ctx context.Context, clanID uuid.UUID, role models.Role) error {
	limit := role.MaxPopulation()
	if limit == 0 {
		return nil
	}
	current, err := r.repo.Assignments().ListCurrent(ctx, clanID)
	if err != nil {
		return err
	}
	count := 0
	for _, a := range current {
		if a.Role == role {
			count++
		}
	}
	if count >= limit {
		return goverrors.NewConflictError("role %s is at its population cap of %d", role, limit)
	}
	return nil
}

// approverRank reports whether the user may approve role change requests.
func (r *Registry) approverRank(ctx context.Context, clanID, user uuid.UUID) (bool, error) {
	assignment, err := r.repo.Assignments().FindCurrent(ctx, clanID, user)
	if err != nil {
		if models.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return assignment.Role.Priority() >= models.RoleAdmin.Priority(), nil
}

func nextTierDown(role models.Role) models.Role {
	tiers := models.AllRoles()
	for i, r := range tiers {
		if r == role && i+1 < len(tiers) {
			return tiers[i+1]
		}
	}
	return role
}
