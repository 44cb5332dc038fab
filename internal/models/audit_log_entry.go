package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type AuditAction string
type auditLogType string

const (
	ClanInitializedAction      AuditAction = "clan_initialized"
	RoleAssignedAction         AuditAction = "role_assigned"
	RoleRequestCreatedAction   AuditAction = "role_request_created"
	RoleRequestDecidedAction   AuditAction = "role_request_decided"
	OwnershipTransferredAction AuditAction = "ownership_transferred"
	MemberDemotedAction        AuditAction = "member_demoted"
	MemberRemovedAction        AuditAction = "member_removed"
	OverrideSetAction          AuditAction = "permission_override_set"
	EmergencyOverrideAction    AuditAction = "emergency_override_invoked"
	ProposalCreatedAction      AuditAction = "proposal_created"
	VoteCastAction             AuditAction = "vote_cast"
	ProposalFinalizedAction    AuditAction = "proposal_finalized"
	ProposalCancelledAction    AuditAction = "proposal_cancelled"
	ProposalExpiredAction      AuditAction = "proposal_expired"
	DelegationCreatedAction    AuditAction = "delegation_created"
	DelegationNoticeAction     AuditAction = "delegation_notice_given"
	DelegationRevokedAction    AuditAction = "delegation_revoked"

	membership auditLogType = "membership"
	proposal   auditLogType = "proposal"
	delegation auditLogType = "delegation"
	override   auditLogType = "override"
)

var ActionLogTypeMap = map[AuditAction]auditLogType{
	ClanInitializedAction:      membership,
	RoleAssignedAction:         membership,
	RoleRequestCreatedAction:   membership,
	RoleRequestDecidedAction:   membership,
	OwnershipTransferredAction: membership,
	MemberDemotedAction:        membership,
	MemberRemovedAction:        membership,
	OverrideSetAction:          override,
	EmergencyOverrideAction:    override,
	ProposalCreatedAction:      proposal,
	VoteCastAction:             proposal,
	ProposalFinalizedAction:    proposal,
	ProposalCancelledAction:    proposal,
	ProposalExpiredAction:      proposal,
	DelegationCreatedAction:    delegation,
	DelegationNoticeAction:     delegation,
	DelegationRevokedAction:    delegation,
}

// AuditLogEntry is one accepted mutation in a clan's append-only history.
// Sequence numbers are strictly monotonic and gap-free per clan, starting at
// 1.
type AuditLogEntry struct {
	Sequence  uint64      `json:"sequence" db:"sequence"`
	ClanID    uuid.UUID   `json:"clan_id" db:"clan_id"`
	ActorID   uuid.UUID   `json:"actor_id" db:"actor_id"`
	Action    AuditAction `json:"action" db:"action"`
	TargetID  string      `json:"target_id,omitempty" db:"target_id"`
	Payload   JSONMap     `json:"payload" db:"payload"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log_entries"
}

// NewAuditLogEntry builds an unsequenced entry; the audit store assigns the
// clan-scoped sequence number on append.
func NewAuditLogEntry(clan, actor uuid.UUID, action AuditAction, target string, payload JSONMap, now time.Time) *AuditLogEntry {
	if payload == nil {
		payload = JSONMap{}
	}
	payload["log_type"] = string(ActionLogTypeMap[action])
	return &AuditLogEntry{
		ClanID:    clan,
		ActorID:   actor,
		Action:    action,
		TargetID:  target,
		Payload:   payload,
		CreatedAt: now,
	}
}
