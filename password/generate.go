package password

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	generateMinLength = 8
	generateMaxLength = 128

	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	digitChars   = "0123456789"
	specialChars = "!@#$%^&*()-_=+[]{}<>?"

	generateMaxAttempts = 32
)

// Generate produces a random password of the requested length that satisfies
// [DefaultPolicy] composition rules. At least one character from each class
// is guaranteed; ordering is a uniform shuffle.
//
// Generate may return an error when length is out of range or the system
// randomness source fails.
func Generate(length int) (string, error) {
	if length < generateMinLength || length > generateMaxLength {
		return "", errors.New("generated password length out of range")
	}

	policy := DefaultPolicy()
	policy.MinLength = generateMinLength

	// Random output can still trip the pattern checks (a shuffle may land
	// "abc" or "qwe"). Regenerate until the candidate passes; the reject
	// probability per attempt is small, so the bound is never hit in
	// practice.
	for attempt := 0; attempt < generateMaxAttempts; attempt++ {
		candidate, err := generateOnce(length)
		if err != nil {
			return "", err
		}

		result, err := Validate(context.Background(), candidate, policy, nil, nil)
		if err != nil {
			return "", err
		}
		if result.Valid {
			return candidate, nil
		}
	}

	return "", errors.New("could not generate a policy-compliant password")
}

func generateOnce(length int) (string, error) {
	buf := make([]byte, 0, length)

	// One mandatory pick per class, the rest from the combined alphabet.
	for _, set := range []string{upperChars, lowerChars, digitChars, specialChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	all := upperChars + lowerChars + digitChars + specialChars
	for len(buf) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	if err := shuffle(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

func shuffle(buf []byte) error {
	for i := len(buf) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		j := n.Int64()
		buf[i], buf[j] = buf[j], buf[i]
	}
	return nil
}
