package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SecureToken creates a new random token
func SecureToken(options ...int) string {
	length := 16
	if len(options) > 0 {
		length = options[0]
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err.Error()) // rand should never fail
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// DeterministicID derives a stable hex identifier from the given parts.
// Replaying a command log reproduces the same identifiers, which keeps
// proposal and role-request ids consistent across restores.
func DeterministicID(parts ...string) string {
	return fmt.Sprintf("%x", sha256.Sum224([]byte(strings.Join(parts, "|"))))
}

// ReceiptSigningPayload builds the canonical byte string a token-burn
// authority signs. Field order is part of the wire contract; do not reorder.
func ReceiptSigningPayload(receiptID, voter string, tokenAmount int64, additionalVotes int, nonce string) []byte {
	return []byte(strings.Join([]string{
		receiptID,
		voter,
		strconv.FormatInt(tokenAmount, 10),
		strconv.Itoa(additionalVotes),
		nonce,
	}, "|"))
}

// VerifyReceiptSignature checks a burn receipt signature against the
// configured authority public key.
func VerifyReceiptSignature(pub ed25519.PublicKey, payload, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, payload, signature)
}

// ParsePublicKey decodes a base64 (raw url or std) encoded ed25519 public key.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	if encoded == "" {
		return nil, errors.New("crypto: empty public key")
	}
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		b, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrap(err, "crypto: decoding public key")
		}
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.Errorf("crypto: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}
