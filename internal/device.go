package internal

import "crypto/sha256"

// HashDeviceValue reduces a free-form client attribute (user agent,
// device label) to a fixed digest so session records stay bounded.
func HashDeviceValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}
