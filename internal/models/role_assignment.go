package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// RoleAssignment maps a clan member to their current role. Superseded
// assignments are retired to history, never deleted.
type RoleAssignment struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ClanID       uuid.UUID `json:"clan_id" db:"clan_id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	Role         Role      `json:"role" db:"role"`
	AssignedAt   time.Time `json:"assigned_at" db:"assigned_at"`
	AssignedBy   uuid.UUID `json:"assigned_by" db:"assigned_by"`
	PreviousRole *Role     `json:"previous_role,omitempty" db:"previous_role"`
	Metadata     JSONMap   `json:"metadata" db:"metadata"`

	InsertedAt *time.Time `json:"inserted_at" db:"inserted_at"`
	UpdatedAt  *time.Time `json:"updated_at" db:"updated_at"`
}

func (RoleAssignment) TableName() string {
	return "role_assignments"
}

// NewRoleAssignment returns an assignment of role to user, recording who
// made it and what the user's previous role was.
func NewRoleAssignment(clan, user uuid.UUID, role Role, by uuid.UUID, previous *Role, now time.Time) *RoleAssignment {
	return &RoleAssignment{
		ID:           uuid.Must(uuid.NewV4()),
		ClanID:       clan,
		UserID:       user,
		Role:         role,
		AssignedAt:   now,
		AssignedBy:   by,
		PreviousRole: previous,
		Metadata:     JSONMap{},
		InsertedAt:   &now,
		UpdatedAt:    &now,
	}
}
