package stores

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

type resetClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *resetClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *resetClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newResetStore(t *testing.T) (*PasswordResetStore, *resetClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &resetClock{t: time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)}
	return NewPasswordResetStore(client, "vpr", clock.Now), clock
}

func resetRecord(clock *resetClock, secret string, strategy int) (*PasswordResetRecord, [32]byte) {
	hash := sha256.Sum256([]byte(secret))
	return &PasswordResetRecord{
		AccountID:  "acc-1",
		SecretHash: hash,
		ExpiresAt:  clock.Now().Add(15 * time.Minute).Unix(),
		Strategy:   strategy,
	}, hash
}

func TestResetSaveGetConsume(t *testing.T) {
	store, clock := newResetStore(t)
	ctx := context.Background()

	record, hash := resetRecord(clock, "secret-1", 0)
	if err := store.Save(ctx, "rid-1", record, 15*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "rid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccountID != "acc-1" || got.Strategy != 0 || got.Attempts != 0 {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.SecretHash != hash {
		t.Fatal("secret hash did not round-trip")
	}

	consumed, err := store.Consume(ctx, "rid-1", hash, 0, 5)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if consumed.AccountID != "acc-1" {
		t.Fatalf("consumed record %+v", consumed)
	}

	// Single use: the record is gone.
	if _, err := store.Consume(ctx, "rid-1", hash, 0, 5); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("second Consume = %v, want ErrResetNotFound", err)
	}
	if _, err := store.Get(ctx, "rid-1"); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("Get after Consume = %v, want ErrResetNotFound", err)
	}
}

func TestResetConsumeBurnsAttempts(t *testing.T) {
	store, clock := newResetStore(t)
	ctx := context.Background()

	record, hash := resetRecord(clock, "secret-1", 0)
	if err := store.Save(ctx, "rid-1", record, 15*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	wrong := sha256.Sum256([]byte("wrong-secret"))

	if _, err := store.Consume(ctx, "rid-1", wrong, 0, 3); !errors.Is(err, ErrResetSecretMismatch) {
		t.Fatalf("first wrong attempt = %v", err)
	}
	if _, err := store.Consume(ctx, "rid-1", wrong, 0, 3); !errors.Is(err, ErrResetSecretMismatch) {
		t.Fatalf("second wrong attempt = %v", err)
	}

	got, err := store.Get(ctx, "rid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", got.Attempts)
	}

	// Third wrong attempt reaches maxAttempts and destroys the record.
	if _, err := store.Consume(ctx, "rid-1", wrong, 0, 3); !errors.Is(err, ErrResetAttemptsExceeded) {
		t.Fatalf("third wrong attempt = %v", err)
	}
	if _, err := store.Consume(ctx, "rid-1", hash, 0, 3); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("correct secret after burnout = %v", err)
	}
}

func TestResetConsumeStrategyMismatchInvalidates(t *testing.T) {
	store, clock := newResetStore(t)
	ctx := context.Background()

	record, hash := resetRecord(clock, "secret-1", 1)
	if err := store.Save(ctx, "rid-1", record, 15*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctx, "rid-1", hash, 2, 5); !errors.Is(err, ErrResetSecretMismatch) {
		t.Fatalf("strategy mismatch = %v", err)
	}

	// The mismatch destroyed the record outright.
	if _, err := store.Get(ctx, "rid-1"); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("Get after mismatch = %v", err)
	}
}

func TestResetExpiry(t *testing.T) {
	store, clock := newResetStore(t)
	ctx := context.Background()

	record, hash := resetRecord(clock, "secret-1", 0)
	if err := store.Save(ctx, "rid-1", record, 15*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	clock.Advance(16 * time.Minute)

	if _, err := store.Get(ctx, "rid-1"); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("Get after expiry = %v", err)
	}
	if _, err := store.Consume(ctx, "rid-1", hash, 0, 5); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("Consume after expiry = %v", err)
	}
}

func TestResetConsumeConcurrentSingleWinner(t *testing.T) {
	store, clock := newResetStore(t)
	ctx := context.Background()

	record, hash := resetRecord(clock, "secret-1", 0)
	if err := store.Save(ctx, "rid-1", record, 15*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Consume(ctx, "rid-1", hash, 0, 5)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrResetNotFound):
		default:
			t.Fatalf("worker %d unexpected error: %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestResetRecordEncodingRoundTrip(t *testing.T) {
	hash := sha256.Sum256([]byte("secret"))
	record := &PasswordResetRecord{
		AccountID:  "acc-long-identifier-42",
		SecretHash: hash,
		ExpiresAt:  1789000000,
		Attempts:   3,
		Strategy:   2,
	}

	encoded, err := encodePasswordResetRecord(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := decodePasswordResetRecord(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *decoded != *record {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, record)
	}

	if _, err := decodePasswordResetRecord(encoded[:5]); err == nil {
		t.Fatal("truncated record must not decode")
	}
	if _, err := decodePasswordResetRecord(append([]byte{99}, encoded[1:]...)); err == nil {
		t.Fatal("unknown version must not decode")
	}
}
