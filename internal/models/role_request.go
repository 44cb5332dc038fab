package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
)

type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// RoleApproval is one approver's recorded decision on a pending request.
type RoleApproval struct {
	Approver  uuid.UUID        `json:"approver" db:"approver"`
	Decision  ApprovalDecision `json:"decision" db:"decision"`
	Reason    string           `json:"reason" db:"reason"`
	DecidedAt time.Time        `json:"decided_at" db:"decided_at"`
}

// RoleChangeRequest is a pending multi-approver role assignment. A single
// rejection terminates the request; once approvals reach the threshold (and
// the Owner has approved where required) the assignment is materialised
// atomically.
type RoleChangeRequest struct {
	ID                    string         `json:"id" db:"id"`
	ClanID                uuid.UUID      `json:"clan_id" db:"clan_id"`
	TargetUser            uuid.UUID      `json:"target_user" db:"target_user"`
	ProposedRole          Role           `json:"proposed_role" db:"proposed_role"`
	RequestedBy           uuid.UUID      `json:"requested_by" db:"requested_by"`
	Reason                string         `json:"reason" db:"reason"`
	RequiredApprovals     int            `json:"required_approvals" db:"required_approvals"`
	OwnerApprovalRequired bool           `json:"owner_approval_required" db:"owner_approval_required"`
	Approvals             []RoleApproval `json:"approvals" db:"approvals"`
	Status                RequestStatus  `json:"status" db:"status"`
	ExpiresAt             time.Time      `json:"expires_at" db:"expires_at"`

	InsertedAt *time.Time `json:"inserted_at" db:"inserted_at"`
	UpdatedAt  *time.Time `json:"updated_at" db:"updated_at"`
}

func (RoleChangeRequest) TableName() string {
	return "role_change_requests"
}

// HasDecided reports whether the given approver already voted on the
// request.
func (r *RoleChangeRequest) HasDecided(approver uuid.UUID) bool {
	for _, a := range r.Approvals {
		if a.Approver == approver {
			return true
		}
	}
	return false
}

// ApprovalCount returns the number of approve decisions recorded so far.
func (r *RoleChangeRequest) ApprovalCount() int {
	n := 0
	for _, a := range r.Approvals {
		if a.Decision == DecisionApprove {
			n++
		}
	}
	return n
}

// ApprovedBy reports whether the given user recorded an approve decision.
func (r *RoleChangeRequest) ApprovedBy(user uuid.UUID) bool {
	for _, a := range r.Approvals {
		if a.Approver == user && a.Decision == DecisionApprove {
			return true
		}
	}
	return false
}

// ThresholdMet reports whether the request has enough approvals to
// materialise, given the clan's current owner. When Owner approval is
// required it does not count toward the approval threshold: an Admin
// promotion needs one admin approval and the Owner's.
func (r *RoleChangeRequest) ThresholdMet(owner uuid.UUID) bool {
	count := 0
	for _, a := range r.Approvals {
		if a.Decision != DecisionApprove {
			continue
		}
		if r.OwnerApprovalRequired && a.Approver == owner {
			continue
		}
		count++
	}
	if count < r.RequiredApprovals {
		return false
	}
	if r.OwnerApprovalRequired && !r.ApprovedBy(owner) {
		return false
	}
	return true
}
