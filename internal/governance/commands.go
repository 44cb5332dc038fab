package governance

import (
	"time"

	"github.com/gofrs/uuid"

	"github.com/clanwyse/halo/internal/models"
)

// Command names recorded with idempotency keys so a replayed key cannot be
// reused for a different mutation.
const (
	CmdInitializeClan        = "initialize_clan"
	CmdRequestRoleAssignment = "request_role_assignment"
	CmdDecideRoleRequest     = "decide_role_request"
	CmdTransferOwnership     = "transfer_ownership"
	CmdDemote                = "demote"
	CmdRemoveMember          = "remove_member"
	CmdSetPermissionOverride = "set_permission_override"
	CmdEmergencyOverride     = "emergency_override"
	CmdCreateProposal        = "create_proposal"
	CmdCastVote              = "cast_vote"
	CmdFinalizeProposal      = "finalize_proposal"
	CmdCancelProposal        = "cancel_proposal"
	CmdCreateDelegation      = "create_delegation"
	CmdRevokeDelegation      = "revoke_delegation"
	CmdSweepExpired          = "sweep_expired"
)

// InitializeClan seeds a newly created clan with its Owner assignment.
type InitializeClan struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	Owner          uuid.UUID
}

// RequestRoleAssignment opens (or immediately materialises) a role change.
type RequestRoleAssignment struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	Actor          uuid.UUID
	Target         uuid.UUID
	Role           models.Role
	Reason         string
}

// DecideRoleRequest records an approver's decision on a pending request.
type DecideRoleRequest struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	RequestID      string
	Approver       uuid.UUID
	Decision       models.ApprovalDecision
	Reason         string
}

// TransferOwnership swaps the clan Owner atomically.
type TransferOwnership struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	CurrentOwner   uuid.UUID
	NewOwner       uuid.UUID
}

// Demote lowers a member's role tier.
type Demote struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	Actor          uuid.UUID
	Target         uuid.UUID
	NewRole        *models.Role
}

// RemoveMember retires a member's current assignment.
type RemoveMember struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	Actor          uuid.UUID
	Target         uuid.UUID
}

// SetPermissionOverride layers a per-clan allow or deny over role defaults.
type SetPermissionOverride struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	Actor          uuid.UUID
	Role           models.Role
	Permission     string
	Allow          bool
	Reason         string
}

// EmergencyOverride is the Owner-only role assignment that bypasses the
// multi-approver workflow, cooldown and rate limit.
type EmergencyOverride struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	Owner          uuid.UUID
	Target         uuid.UUID
	Role           models.Role
	Justification  string
}

// CreateProposal opens a proposal in one of the clan's pools.
type CreateProposal struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	Actor          uuid.UUID
	Pool           models.PoolType
	Title          string
	Description    string
	Options        []string
	Metadata       models.JSONMap
}

// CastVote records a weighted vote, optionally amplified by a burn receipt.
type CastVote struct {
	IdempotencyKey string
	ProposalID     string
	Actor          uuid.UUID
	Option         string
	BurnReceipt    *models.BurnReceipt
}

// FinalizeProposal evaluates a proposal after its voting period.
type FinalizeProposal struct {
	IdempotencyKey string
	ProposalID     string
}

// CancelProposal withdraws an active proposal in an owner-override pool.
type CancelProposal struct {
	IdempotencyKey string
	ProposalID     string
	Owner          uuid.UUID
	Reason         string
}

// CreateDelegation grants the delegator's base weight to the delegate.
type CreateDelegation struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	Delegator      uuid.UUID
	Delegate       uuid.UUID
	Scope          models.DelegationScope
	Period         time.Duration
}

// RevokeDelegation starts or completes revocation of a delegation edge.
type RevokeDelegation struct {
	IdempotencyKey string
	ClanID         uuid.UUID
	EdgeID         uuid.UUID
	Actor          uuid.UUID
}

// SweepExpired expires active proposals past their grace window.
type SweepExpired struct {
	IdempotencyKey string
	ClanID         uuid.UUID
}
