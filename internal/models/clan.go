package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// Clan is the governance scope: every role assignment, proposal, delegation
// and audit entry belongs to exactly one clan. Clans are created externally;
// the core is seeded with an InitializeClan command.
type Clan struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	OwnerID    uuid.UUID  `json:"owner_id" db:"owner_id"`
	InsertedAt *time.Time `json:"inserted_at" db:"inserted_at"`
	UpdatedAt  *time.Time `json:"updated_at" db:"updated_at"`
}

func (Clan) TableName() string {
	return "clans"
}

func (c Clan) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required, validation.By(requireUUID)),
		validation.Field(&c.OwnerID, validation.Required, validation.By(requireUUID)),
	)
}

// NewClan returns a clan owned by the given user.
func NewClan(id, owner uuid.UUID, now time.Time) *Clan {
	return &Clan{
		ID:         id,
		OwnerID:    owner,
		InsertedAt: &now,
		UpdatedAt:  &now,
	}
}

func requireUUID(value interface{}) error {
	id, ok := value.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return errors.New("must be a non-nil UUID")
	}
	return nil
}
