// Package events carries governance notifications to external subscribers.
// Events are emitted after the corresponding audit entry and delivered to
// each subscriber in audit-sequence order; delivery across subscribers is
// independent.
package events

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
)

type Type string

const (
	TypeClanInitialized       Type = "clan.initialized"
	TypeRoleAssigned          Type = "role.assigned"
	TypeRoleRequestCreated    Type = "role.request_created"
	TypeRoleRequestDecided    Type = "role.request_decided"
	TypeOwnershipTransferred  Type = "clan.ownership_transferred"
	TypeMemberRemoved         Type = "member.removed"
	TypePermissionOverrideSet Type = "permission.override_set"
	TypeEmergencyOverride     Type = "emergency.override_invoked"
	TypeProposalCreated       Type = "proposal.created"
	TypeVoteCast              Type = "proposal.vote_cast"
	TypeProposalFinalized     Type = "proposal.finalized"
	TypeProposalCancelled     Type = "proposal.cancelled"
	TypeDelegationCreated     Type = "delegation.created"
	TypeDelegationNoticeGiven Type = "delegation.notice_given"
	TypeDelegationRevoked     Type = "delegation.revoked"
)

// Event is one accepted mutation, mirrored from its audit entry.
type Event struct {
	Type       Type                   `json:"type"`
	ClanID     uuid.UUID              `json:"clan_id"`
	Sequence   uint64                 `json:"sequence"`
	ActorID    uuid.UUID              `json:"actor_id"`
	TargetID   string                 `json:"target_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Sink receives events after successful mutations. Delivery semantics
// beyond ordering (at-least-once vs exactly-once) are the sink's concern.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Discard is a Sink that drops everything. Useful for embedders that do not
// consume events.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
