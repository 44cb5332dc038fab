package receipts

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

var governancePool = &conf.PoolConfiguration{
	QuorumPercent:    33,
	ThresholdPercent: 67,
	BurnMultiplier:   "2.0",
}

func burnConfig() *conf.BurnConfiguration {
	return &conf.BurnConfiguration{
		CostProgression:    []int64{2, 4, 6, 8, 10},
		MaxAdditionalVotes: 5,
	}
}

func newValidator(t *testing.T) (*Validator, ed25519.PrivateKey, *storage.Memory) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	repo := storage.NewMemory()
	return NewValidator(pub, burnConfig(), repo), priv, repo
}

func mintReceipt(priv ed25519.PrivateKey, voter uuid.UUID, tokens int64, votes int) *models.BurnReceipt {
	receipt := &models.BurnReceipt{
		ReceiptID:       "r-" + uuid.Must(uuid.NewV4()).String(),
		Voter:           voter,
		TokenAmount:     tokens,
		AdditionalVotes: votes,
		Nonce:           "n-1",
	}
	receipt.Signature = ed25519.Sign(priv, receipt.SigningPayload())
	return receipt
}

func TestValidateGrantsOneVoteEach(t *testing.T) {
	v, priv, _ := newValidator(t)
	voter := uuid.Must(uuid.NewV4())

	// 2 additional votes cost 2+4=6 base, x2.0 governance multiplier
	receipt := mintReceipt(priv, voter, 12, 2)
	power, err := v.Validate(context.Background(), receipt, voter, governancePool)
	require.NoError(t, err)
	assert.Equal(t, "2", power.String())
}

func TestValidateRejectsBadSignature(t *testing.T) {
	v, priv, _ := newValidator(t)
	voter := uuid.Must(uuid.NewV4())

	receipt := mintReceipt(priv, voter, 12, 2)
	receipt.TokenAmount = 24 // tamper after signing

	_, err := v.Validate(context.Background(), receipt, voter, governancePool)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeReceiptInvalidSignature))
}

func TestValidateRejectsWrongVoter(t *testing.T) {
	v, priv, _ := newValidator(t)
	voter := uuid.Must(uuid.NewV4())

	receipt := mintReceipt(priv, voter, 12, 2)
	_, err := v.Validate(context.Background(), receipt, uuid.Must(uuid.NewV4()), governancePool)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeReceiptWrongVoter))
}

func TestValidateRejectsOverLimit(t *testing.T) {
	v, priv, _ := newValidator(t)
	voter := uuid.Must(uuid.NewV4())

	receipt := mintReceipt(priv, voter, 100, 6)
	_, err := v.Validate(context.Background(), receipt, voter, governancePool)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeReceiptOverLimit))
}

func TestValidateRejectsAmountMismatch(t *testing.T) {
	v, priv, _ := newValidator(t)
	voter := uuid.Must(uuid.NewV4())

	// 2 additional votes in governance cost 12, not 6
	receipt := mintReceipt(priv, voter, 6, 2)
	_, err := v.Validate(context.Background(), receipt, voter, governancePool)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeReceiptAmountMismatch))
}

func TestValidateRejectsReplay(t *testing.T) {
	v, priv, repo := newValidator(t)
	voter := uuid.Must(uuid.NewV4())

	receipt := mintReceipt(priv, voter, 12, 2)
	require.NoError(t, repo.Receipts().Consume(context.Background(), receipt.ReceiptID, "p-1"))

	_, err := v.Validate(context.Background(), receipt, voter, governancePool)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeReceiptReplayed))
}

func TestValidateWithoutAuthority(t *testing.T) {
	v := NewValidator(nil, burnConfig(), storage.NewMemory())
	voter := uuid.Must(uuid.NewV4())

	_, err := v.Validate(context.Background(), &models.BurnReceipt{Voter: voter}, voter, governancePool)
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeExternalUnavailable))
}

func TestConsumeIsSingleUse(t *testing.T) {
	v, priv, _ := newValidator(t)
	voter := uuid.Must(uuid.NewV4())
	receipt := mintReceipt(priv, voter, 12, 2)

	require.NoError(t, v.Consume(context.Background(), receipt.ReceiptID, "p-1"))

	err := v.Consume(context.Background(), receipt.ReceiptID, "p-2")
	assert.True(t, goverrors.IsCode(err, goverrors.ErrorCodeReceiptReplayed))
}
