package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type storeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *storeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *storeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *storeClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &storeClock{t: time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)}
	return NewStore(client, "vs", clock.Now), mr, clock
}

func newSession(clock *storeClock, sessionID, accountID, refreshSecret string) *Session {
	now := clock.Now().Unix()
	return &Session{
		SessionID:      sessionID,
		AccountID:      accountID,
		Role:           "guest",
		DeviceName:     "Safari on macOS",
		IPAddress:      "203.0.113.9",
		UserAgentHash:  sha256.Sum256([]byte("Mozilla/5.0 Safari")),
		RefreshHash:    sha256.Sum256([]byte(refreshSecret)),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      clock.Now().Add(30 * 24 * time.Hour).Unix(),
		SchemaVersion:  CurrentSchemaVersion,
	}
}

func mustSave(t *testing.T, store *Store, sess *Session) {
	t.Helper()
	if err := store.Save(context.Background(), sess, 30*24*time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	sess := newSession(clock, "sess-1", "acc-1", "secret-1")
	mustSave(t, store, sess)

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SessionID != "sess-1" || got.AccountID != "acc-1" || got.Role != "guest" {
		t.Fatalf("unexpected session %+v", got)
	}
	if got.DeviceName != "Safari on macOS" || got.IPAddress != "203.0.113.9" {
		t.Fatalf("device fields lost: %+v", got)
	}
	if got.RefreshHash != sess.RefreshHash || got.UserAgentHash != sess.UserAgentHash {
		t.Fatal("hashes did not round-trip")
	}
	if got.Revoked {
		t.Fatal("fresh session must not be revoked")
	}

	if _, err := store.Get(ctx, "sess-missing"); !errors.Is(err, redis.Nil) {
		t.Fatalf("missing session = %v, want redis.Nil", err)
	}
}

func TestGetTreatsLogicalExpiryAsMissing(t *testing.T) {
	store, _, clock := newTestStore(t)

	mustSave(t, store, newSession(clock, "sess-1", "acc-1", "secret-1"))
	clock.Advance(31 * 24 * time.Hour)

	if _, err := store.Get(context.Background(), "sess-1"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expired session = %v, want redis.Nil", err)
	}
}

func TestRotateRefreshHash(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	sess := newSession(clock, "sess-1", "acc-1", "secret-1")
	mustSave(t, store, sess)

	clock.Advance(5 * time.Minute)
	nextHash := sha256.Sum256([]byte("secret-2"))

	rotated, err := store.RotateRefreshHash(ctx, "sess-1", sess.RefreshHash, nextHash)
	if err != nil {
		t.Fatalf("RotateRefreshHash failed: %v", err)
	}
	if rotated.RefreshHash != nextHash {
		t.Fatal("refresh hash not replaced")
	}
	if rotated.LastActivityAt != clock.Now().Unix() {
		t.Fatalf("LastActivityAt = %d, want %d", rotated.LastActivityAt, clock.Now().Unix())
	}
	if rotated.AccountID != "acc-1" || rotated.DeviceName != "Safari on macOS" {
		t.Fatalf("immutable fields changed: %+v", rotated)
	}

	// The old hash is dead; presenting it revokes the session in place.
	if _, err := store.RotateRefreshHash(ctx, "sess-1", sess.RefreshHash, sha256.Sum256([]byte("secret-3"))); !errors.Is(err, ErrRotateMismatch) {
		t.Fatalf("replayed hash = %v, want ErrRotateMismatch", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Revoked {
		t.Fatal("mismatch must revoke the session")
	}

	// Even the current hash is refused once the tombstone is set.
	if _, err := store.RotateRefreshHash(ctx, "sess-1", nextHash, sha256.Sum256([]byte("secret-4"))); !errors.Is(err, ErrRotateRevoked) {
		t.Fatalf("rotate on revoked = %v, want ErrRotateRevoked", err)
	}
}

func TestRotateRefreshHashMissingAndExpired(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	hash := sha256.Sum256([]byte("secret-1"))
	if _, err := store.RotateRefreshHash(ctx, "sess-missing", hash, hash); !errors.Is(err, ErrRotateNotFound) {
		t.Fatalf("missing = %v, want ErrRotateNotFound", err)
	}

	sess := newSession(clock, "sess-1", "acc-1", "secret-1")
	mustSave(t, store, sess)
	clock.Advance(31 * 24 * time.Hour)

	if _, err := store.RotateRefreshHash(ctx, "sess-1", sess.RefreshHash, hash); !errors.Is(err, ErrRotateExpired) {
		t.Fatalf("expired = %v, want ErrRotateExpired", err)
	}
	// The expired record is deleted by the script.
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expired session still readable: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, newSession(clock, "sess-1", "acc-1", "secret-1"))

	changed, err := store.Revoke(ctx, "sess-1")
	if err != nil || !changed {
		t.Fatalf("Revoke = %v, %v", changed, err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Revoked {
		t.Fatal("session not marked revoked")
	}

	// Idempotent: the second call observes the tombstone and changes nothing.
	changed, err = store.Revoke(ctx, "sess-1")
	if err != nil || changed {
		t.Fatalf("second Revoke = %v, %v", changed, err)
	}

	changed, err = store.Revoke(ctx, "sess-missing")
	if err != nil || changed {
		t.Fatalf("Revoke on missing = %v, %v", changed, err)
	}
}

func TestRevokeAllExcept(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		mustSave(t, store, newSession(clock, id, "acc-1", "secret-"+id))
	}
	mustSave(t, store, newSession(clock, "sess-other", "acc-2", "secret-x"))

	revoked, err := store.RevokeAllExcept(ctx, "acc-1", "sess-2")
	if err != nil {
		t.Fatalf("RevokeAllExcept failed: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}

	kept, err := store.Get(ctx, "sess-2")
	if err != nil || kept.Revoked {
		t.Fatalf("kept session state: %+v, %v", kept, err)
	}
	for _, id := range []string{"sess-1", "sess-3"} {
		got, err := store.Get(ctx, id)
		if err != nil || !got.Revoked {
			t.Fatalf("session %s not revoked: %v", id, err)
		}
	}

	// Other accounts are untouched.
	other, err := store.Get(ctx, "sess-other")
	if err != nil || other.Revoked {
		t.Fatalf("foreign session touched: %+v, %v", other, err)
	}

	revoked, err = store.RevokeAllForAccount(ctx, "acc-1")
	if err != nil || revoked != 1 {
		t.Fatalf("RevokeAllForAccount = %d, %v, want 1", revoked, err)
	}
}

func TestTouchUpdatesLastActivity(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	sess := newSession(clock, "sess-1", "acc-1", "secret-1")
	mustSave(t, store, sess)

	clock.Advance(10 * time.Minute)
	if err := store.Touch(ctx, "sess-1"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LastActivityAt != clock.Now().Unix() {
		t.Fatalf("LastActivityAt = %d, want %d", got.LastActivityAt, clock.Now().Unix())
	}
	if got.CreatedAt != sess.CreatedAt || got.ExpiresAt != sess.ExpiresAt {
		t.Fatal("Touch must not move creation or expiry")
	}

	// Touching a missing session is a silent no-op.
	if err := store.Touch(ctx, "sess-missing"); err != nil {
		t.Fatalf("Touch on missing failed: %v", err)
	}
}

func TestListForAccountOrdersByActivity(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, newSession(clock, "sess-1", "acc-1", "secret-1"))
	clock.Advance(time.Hour)
	mustSave(t, store, newSession(clock, "sess-2", "acc-1", "secret-2"))
	clock.Advance(time.Hour)
	mustSave(t, store, newSession(clock, "sess-3", "acc-1", "secret-3"))

	// Bump the oldest session to the top.
	clock.Advance(time.Hour)
	if err := store.Touch(ctx, "sess-1"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	sessions, err := store.ListForAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListForAccount failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions", len(sessions))
	}
	want := []string{"sess-1", "sess-3", "sess-2"}
	for i, id := range want {
		if sessions[i].SessionID != id {
			t.Fatalf("sessions[%d] = %s, want %s", i, sessions[i].SessionID, id)
		}
	}
}

func TestListForAccountPrunesStaleIndexMembers(t *testing.T) {
	store, mr, clock := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, newSession(clock, "sess-live", "acc-1", "secret-1"))
	mustSave(t, store, newSession(clock, "sess-gone", "acc-1", "secret-2"))

	// Simulate TTL expiry of one payload while its index entry lingers.
	mr.Del("vs:sess-gone")

	sessions, err := store.ListForAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListForAccount failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "sess-live" {
		t.Fatalf("unexpected listing %+v", sessions)
	}

	count, err := store.ActiveSessionCount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("index still holds %d members", count)
	}
}

func TestListForAccountIncludesTombstones(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, newSession(clock, "sess-1", "acc-1", "secret-1"))
	if _, err := store.Revoke(ctx, "sess-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	sessions, err := store.ListForAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListForAccount failed: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].Revoked {
		t.Fatalf("tombstone missing from listing: %+v", sessions)
	}
}

func TestPurgeExpired(t *testing.T) {
	store, mr, clock := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, newSession(clock, "sess-1", "acc-1", "secret-1"))
	mustSave(t, store, newSession(clock, "sess-2", "acc-1", "secret-2"))

	mr.Del("vs:sess-2")

	purged, err := store.PurgeExpired(ctx, "acc-1")
	if err != nil || purged != 1 {
		t.Fatalf("PurgeExpired = %d, %v, want 1", purged, err)
	}

	purged, err = store.PurgeExpired(ctx, "acc-1")
	if err != nil || purged != 0 {
		t.Fatalf("second PurgeExpired = %d, %v, want 0", purged, err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sess := &Session{
		SessionID:      "sess-1",
		AccountID:      "acc-1",
		Role:           "manager",
		DeviceName:     "front-desk-tablet",
		IPAddress:      "198.51.100.20",
		UserAgentHash:  sha256.Sum256([]byte("ua")),
		RefreshHash:    sha256.Sum256([]byte("secret")),
		Revoked:        true,
		CreatedAt:      1760000000,
		LastActivityAt: 1760003600,
		ExpiresAt:      1762592000,
		SchemaVersion:  CurrentSchemaVersion,
	}

	data, err := Encode(sess)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	decoded.SessionID = sess.SessionID

	if *decoded != *sess {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, sess)
	}

	if _, err := Decode(data[:40]); err == nil {
		t.Fatal("truncated payload must not decode")
	}
	bad := append([]byte{}, data...)
	bad[0] = 9
	if _, err := Decode(bad); err == nil {
		t.Fatal("unknown schema version must not decode")
	}
}

func TestActiveReportsExpiryAndRevocation(t *testing.T) {
	sess := &Session{ExpiresAt: 1000}

	if !sess.Active(999) {
		t.Fatal("unexpired session must be active")
	}
	if sess.Active(1000) {
		t.Fatal("session at expiry boundary must be inactive")
	}

	sess.Revoked = true
	if sess.Active(999) {
		t.Fatal("revoked session must be inactive")
	}
}
