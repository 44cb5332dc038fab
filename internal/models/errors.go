package models

// IsNotFoundError returns whether an error represents a "not found" error.
func IsNotFoundError(err error) bool {
	switch err.(type) {
	case ClanNotFoundError, *ClanNotFoundError:
		return true
	case MemberNotFoundError, *MemberNotFoundError:
		return true
	case ProposalNotFoundError, *ProposalNotFoundError:
		return true
	case VoteNotFoundError, *VoteNotFoundError:
		return true
	case DelegationNotFoundError, *DelegationNotFoundError:
		return true
	case RoleRequestNotFoundError, *RoleRequestNotFoundError:
		return true
	case OverrideNotFoundError, *OverrideNotFoundError:
		return true
	}
	return false
}

// ClanNotFoundError represents when a clan is not found.
type ClanNotFoundError struct{}

func (e ClanNotFoundError) Error() string {
	return "Clan not found"
}

// MemberNotFoundError represents when a user has no current role assignment
// in a clan.
type MemberNotFoundError struct{}

func (e MemberNotFoundError) Error() string {
	return "Member not found"
}

// ProposalNotFoundError represents when a proposal is not found.
type ProposalNotFoundError struct{}

func (e ProposalNotFoundError) Error() string {
	return "Proposal not found"
}

// VoteNotFoundError represents when a vote is not found.
type VoteNotFoundError struct{}

func (e VoteNotFoundError) Error() string {
	return "Vote not found"
}

// DelegationNotFoundError represents when a delegation edge is not found.
type DelegationNotFoundError struct{}

func (e DelegationNotFoundError) Error() string {
	return "Delegation not found"
}

// RoleRequestNotFoundError represents when a role change request is not
// found.
type RoleRequestNotFoundError struct{}

func (e RoleRequestNotFoundError) Error() string {
	return "Role change request not found"
}

// OverrideNotFoundError represents when a permission override is not found.
type OverrideNotFoundError struct{}

func (e OverrideNotFoundError) Error() string {
	return "Permission override not found"
}
