package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// TokenID is the random identifier half of an opaque credential. It is
// shared by sessions and password-reset records: both address a Redis
// record by ID and prove possession with a separate secret.
type TokenID [16]byte

const (
	// SecretSize is the byte length of the possession secret embedded in
	// opaque refresh and reset tokens. Only the SHA-256 of the secret is
	// ever persisted.
	SecretSize = 32

	opaqueTokenRawSize = 16 + SecretSize
)

var errTokenMalformed = errors.New("malformed opaque token")

func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (t TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

func ParseTokenID(s string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, errTokenMalformed
	}
	if len(raw) != len(id) {
		return id, errTokenMalformed
	}

	copy(id[:], raw)
	return id, nil
}

func NewSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the canonical secret digest. Stores persist this value,
// never the secret itself.
func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashSecretBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeOpaqueToken packs id||secret into a single base64url string.
// The result is the wire form of refresh and reset tokens.
func EncodeOpaqueToken(id string, secret [SecretSize]byte) (string, error) {
	parsed, err := ParseTokenID(id)
	if err != nil {
		return "", err
	}

	var raw [opaqueTokenRawSize]byte
	copy(raw[:len(parsed)], parsed[:])
	copy(raw[len(parsed):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeOpaqueToken(token string) (string, [SecretSize]byte, error) {
	var secret [SecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, errTokenMalformed
	}
	if len(raw) != opaqueTokenRawSize {
		return "", secret, errTokenMalformed
	}

	var id TokenID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}

// NewOTP returns a numeric one-time code with uniformly random digits.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}
