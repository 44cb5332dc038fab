// Package receipts validates burn receipts minted by the external token
// ledger before the extra votes they grant are counted.
package receipts

import (
	"context"
	"crypto/ed25519"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/crypto"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

// Validator checks receipt authenticity, ownership, pricing and single use.
type Validator struct {
	authority ed25519.PublicKey
	burn      *conf.BurnConfiguration
	repo      storage.Repository
}

func NewValidator(authority ed25519.PublicKey, burn *conf.BurnConfiguration, repo storage.Repository) *Validator {
	return &Validator{
		authority: authority,
		burn:      burn,
		repo:      repo,
	}
}

// Validate checks everything except single use. The returned decimal is the
// extra voting power the receipt grants: one full vote per additional vote,
// regardless of the voter's role weight.
func (v *Validator) Validate(ctx context.Context, receipt *models.BurnReceipt, caster uuid.UUID, pool *conf.PoolConfiguration) (decimal.Decimal, error) {
	if len(v.authority) == 0 {
		return decimal.Zero, goverrors.NewExternalUnavailableError("token_ledger")
	}
	if !crypto.VerifyReceiptSignature(v.authority, receipt.SigningPayload(), receipt.Signature) {
		return decimal.Zero, goverrors.New(goverrors.ErrorCodeReceiptInvalidSignature, "receipt %s: authority signature does not verify", receipt.ReceiptID)
	}
	if receipt.Voter != caster {
		return decimal.Zero, goverrors.New(goverrors.ErrorCodeReceiptWrongVoter, "receipt %s was minted for another voter", receipt.ReceiptID)
	}
	if receipt.AdditionalVotes > v.burn.MaxAdditionalVotes {
		return decimal.Zero, goverrors.New(goverrors.ErrorCodeReceiptOverLimit, "receipt %s grants %d additional votes, limit is %d", receipt.ReceiptID, receipt.AdditionalVotes, v.burn.MaxAdditionalVotes)
	}

	base, ok := v.burn.CostFor(receipt.AdditionalVotes)
	if !ok {
		return decimal.Zero, goverrors.New(goverrors.ErrorCodeReceiptAmountMismatch, "receipt %s: no cost defined for %d additional votes", receipt.ReceiptID, receipt.AdditionalVotes)
	}
	expected := decimal.NewFromInt(base).Mul(pool.Multiplier())
	if !decimal.NewFromInt(receipt.TokenAmount).Equal(expected) {
		return decimal.Zero, goverrors.New(goverrors.ErrorCodeReceiptAmountMismatch, "receipt %s: burned %d, %d additional votes in this pool cost %s", receipt.ReceiptID, receipt.TokenAmount, receipt.AdditionalVotes, expected)
	}

	consumed, err := v.repo.Receipts().IsConsumed(ctx, receipt.ReceiptID)
	if err != nil {
		return decimal.Zero, err
	}
	if consumed {
		return decimal.Zero, goverrors.New(goverrors.ErrorCodeReceiptReplayed, "receipt %s has already been used", receipt.ReceiptID)
	}
	return decimal.NewFromInt(int64(receipt.AdditionalVotes)), nil
}

// Consume marks the receipt spent on the given proposal. A concurrent spend
// surfaces as a replay error.
func (v *Validator) Consume(ctx context.Context, receiptID, proposalID string) error {
	err := v.repo.Receipts().Consume(ctx, receiptID, proposalID)
	if err == storage.ErrReceiptConsumed {
		return goverrors.New(goverrors.ErrorCodeReceiptReplayed, "receipt %s has already been used", receiptID)
	}
	return err
}
