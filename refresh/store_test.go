package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewStore(client), mr
}

func TestSaveAndExists(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-1", "u-1", time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ok, err := store.Exists(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Fatal("expected record to exist")
	}

	ok, err = store.Exists(ctx, "hash-other")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Fatal("expected no record for unknown hash")
	}
}

func TestRotateReplacesRecord(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "old", "u-1", time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Rotate(ctx, "old", "new", "u-1", time.Hour); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if ok, _ := store.Exists(ctx, "old"); ok {
		t.Fatal("expected old record to be gone after rotation")
	}
	if ok, _ := store.Exists(ctx, "new"); !ok {
		t.Fatal("expected new record after rotation")
	}
}

func TestRotateReplayedTokenFails(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "old", "u-1", time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Rotate(ctx, "old", "new", "u-1", time.Hour); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	// Presenting the already-rotated token again must fail.
	err := store.Rotate(ctx, "old", "newer", "u-1", time.Hour)
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on replay, got %v", err)
	}
	if ok, _ := store.Exists(ctx, "newer"); ok {
		t.Fatal("replayed rotation must not create a record")
	}
}

func TestRotateUnknownToken(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Rotate(context.Background(), "missing", "new", "u-1", time.Hour)
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRotateExpiredRecord(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	// Seed a record whose stored expiry instant is already in the
	// past but whose key TTL has not fired yet.
	mr.HSet("art:old", "user_id", "u-1")
	mr.HSet("art:old", "expires_at", "1000")

	err := store.Rotate(ctx, "old", "new", "u-1", time.Hour)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if ok, _ := store.Exists(ctx, "new"); ok {
		t.Fatal("expired rotation must not create a record")
	}
}

func TestConcurrentRotateExactlyOneWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "old", "u-1", time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan int, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			newHash := "new-" + string(rune('a'+n))
			if err := store.Rotate(ctx, "old", newHash, "u-1", time.Hour); err == nil {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for n := range wins {
		winners = append(winners, n)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-1", "u-1", time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete(ctx, "hash-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "hash-1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete of unknown hash failed: %v", err)
	}

	if ok, _ := store.Exists(ctx, "hash-1"); ok {
		t.Fatal("expected record to be gone")
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"h1", "h2", "h3"} {
		if err := store.Save(ctx, h, "u-1", time.Hour); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Save(ctx, "other", "u-2", time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	n, err := store.CountForUser(ctx, "u-1")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 records for u-1, got %d err=%v", n, err)
	}

	if err := store.DeleteAllForUser(ctx, "u-1"); err != nil {
		t.Fatalf("DeleteAllForUser failed: %v", err)
	}

	for _, h := range []string{"h1", "h2", "h3"} {
		if ok, _ := store.Exists(ctx, h); ok {
			t.Fatalf("expected %s to be revoked", h)
		}
	}
	if ok, _ := store.Exists(ctx, "other"); !ok {
		t.Fatal("expected other user's record to survive")
	}

	n, err = store.CountForUser(ctx, "u-1")
	if err != nil || n != 0 {
		t.Fatalf("expected empty index after revoke-all, got %d err=%v", n, err)
	}
}

func TestDeleteRemovesIndexEntry(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-1", "u-1", time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "hash-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	n, err := store.CountForUser(ctx, "u-1")
	if err != nil || n != 0 {
		t.Fatalf("expected index entry removed, got %d err=%v", n, err)
	}
}
