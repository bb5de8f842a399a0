package stores

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newHistoryStore(t *testing.T, depth int) *PasswordHistoryStore {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewPasswordHistoryStore(client, "vph", depth)
}

func TestHistoryAppendAndLastN(t *testing.T) {
	store := newHistoryStore(t, 5)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := store.Append(ctx, "acc-1", fmt.Sprintf("hash-%d", i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	hashes, err := store.LastN(ctx, "acc-1", 5)
	if err != nil {
		t.Fatalf("LastN failed: %v", err)
	}
	want := []string{"hash-3", "hash-2", "hash-1"}
	if len(hashes) != len(want) {
		t.Fatalf("got %d hashes, want %d", len(hashes), len(want))
	}
	for i := range want {
		if hashes[i] != want[i] {
			t.Fatalf("hashes[%d] = %q, want %q (newest first)", i, hashes[i], want[i])
		}
	}
}

func TestHistoryTrimsToDepth(t *testing.T) {
	store := newHistoryStore(t, 3)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		if err := store.Append(ctx, "acc-1", fmt.Sprintf("hash-%d", i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	hashes, err := store.LastN(ctx, "acc-1", 10)
	if err != nil {
		t.Fatalf("LastN failed: %v", err)
	}
	if len(hashes) != 3 {
		t.Fatalf("depth 3 list holds %d entries", len(hashes))
	}
	if hashes[0] != "hash-6" || hashes[2] != "hash-4" {
		t.Fatalf("unexpected window %v", hashes)
	}
}

func TestHistoryLastNPartialAndEmpty(t *testing.T) {
	store := newHistoryStore(t, 5)
	ctx := context.Background()

	hashes, err := store.LastN(ctx, "acc-unknown", 5)
	if err != nil {
		t.Fatalf("LastN on missing account failed: %v", err)
	}
	if len(hashes) != 0 {
		t.Fatalf("expected empty history, got %v", hashes)
	}

	for i := 1; i <= 4; i++ {
		if err := store.Append(ctx, "acc-1", fmt.Sprintf("hash-%d", i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	hashes, err = store.LastN(ctx, "acc-1", 2)
	if err != nil {
		t.Fatalf("LastN failed: %v", err)
	}
	if len(hashes) != 2 || hashes[0] != "hash-4" || hashes[1] != "hash-3" {
		t.Fatalf("LastN(2) = %v", hashes)
	}
}

func TestHistoryAccountsAreIsolated(t *testing.T) {
	store := newHistoryStore(t, 5)
	ctx := context.Background()

	if err := store.Append(ctx, "acc-1", "hash-a"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "acc-2", "hash-b"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	hashes, err := store.LastN(ctx, "acc-1", 5)
	if err != nil {
		t.Fatalf("LastN failed: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != "hash-a" {
		t.Fatalf("acc-1 history = %v", hashes)
	}
}

func TestHistoryReportsRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewPasswordHistoryStore(client, "vph", 5)
	mr.Close()

	if err := store.Append(context.Background(), "acc-1", "hash-a"); !errors.Is(err, ErrHistoryRedisUnavailable) {
		t.Fatalf("Append outage = %v", err)
	}
	if _, err := store.LastN(context.Background(), "acc-1", 5); !errors.Is(err, ErrHistoryRedisUnavailable) {
		t.Fatalf("LastN outage = %v", err)
	}
}
