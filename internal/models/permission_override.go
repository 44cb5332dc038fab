package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// PermissionOverride layers a per-clan allow or deny for a (role,
// permission) pair on top of the role's defaults.
type PermissionOverride struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ClanID     uuid.UUID `json:"clan_id" db:"clan_id"`
	Role       Role      `json:"role" db:"role"`
	Permission string    `json:"permission" db:"permission"`
	Allow      bool      `json:"allow" db:"allow"`
	Reason     string    `json:"reason" db:"reason"`
	CreatedBy  uuid.UUID `json:"created_by" db:"created_by"`

	InsertedAt *time.Time `json:"inserted_at" db:"inserted_at"`
	UpdatedAt  *time.Time `json:"updated_at" db:"updated_at"`
}

func (PermissionOverride) TableName() string {
	return "permission_overrides"
}
