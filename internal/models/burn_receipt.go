package models

import (
	"github.com/gofrs/uuid"

	"github.com/clanwyse/halo/internal/crypto"
)

// BurnReceipt is a credential minted by the external token ledger asserting
// that a voter burned tokens in exchange for additional votes. Receipts are
// single use: a receipt id is consumed by at most one vote.
type BurnReceipt struct {
	ReceiptID       string    `json:"receipt_id" db:"receipt_id"`
	Voter           uuid.UUID `json:"voter" db:"voter"`
	TokenAmount     int64     `json:"token_amount" db:"token_amount"`
	AdditionalVotes int       `json:"additional_votes" db:"additional_votes"`
	Nonce           string    `json:"nonce" db:"nonce"`
	Signature       []byte    `json:"authority_signature" db:"authority_signature"`
}

func (BurnReceipt) TableName() string {
	return "burn_receipts"
}

// SigningPayload returns the canonical bytes the authority signed.
func (r *BurnReceipt) SigningPayload() []byte {
	return crypto.ReceiptSigningPayload(r.ReceiptID, r.Voter.String(), r.TokenAmount, r.AdditionalVotes, r.Nonce)
}
