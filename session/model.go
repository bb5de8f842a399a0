package session

// CurrentSchemaVersion is the binary encoding version written by [Encode].
const CurrentSchemaVersion uint8 = 1

// Session is the authoritative server-side record behind a refresh token.
// Only the SHA-256 of the refresh secret is held; the secret itself exists
// solely inside the opaque token handed to the client.
//
// Session instances are treated as immutable snapshots: mutation happens in
// Redis through the [Store] scripts, never by re-saving a stale struct.
type Session struct {
	SessionID string
	AccountID string
	Role      string

	DeviceName string
	IPAddress  string

	UserAgentHash [32]byte
	RefreshHash   [32]byte

	// Revoked is terminal. A revoked session keeps its Redis TTL so that
	// replayed refresh tokens fail with a revocation signal instead of
	// being indistinguishable from expiry.
	Revoked bool

	CreatedAt      int64
	LastActivityAt int64
	ExpiresAt      int64

	SchemaVersion uint8
}

// Active reports whether the session can still mint credentials at the given
// unix time.
func (s *Session) Active(nowUnix int64) bool {
	return !s.Revoked && s.ExpiresAt > nowUnix
}
