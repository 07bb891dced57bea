package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, "rt", ttl), mr
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	sessionID, jti, err := store.Create(ctx, 42)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sessionID == "" || jti == "" {
		t.Fatal("create returned empty identifiers")
	}
	if sessionID == jti {
		t.Fatal("session id and jti must be independent identifiers")
	}

	record, err := store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.UserID != 42 || record.JTI != jti {
		t.Fatalf("record = %+v, want userID 42 jti %s", record, jti)
	}
}

func TestGetAbsentSession(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRotateSwapsJTI(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	sessionID, jti, err := store.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := store.Rotate(ctx, sessionID, jti, "next-jti"); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	record, err := store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.JTI != "next-jti" {
		t.Fatalf("jti = %q, want next-jti", record.JTI)
	}
	if record.UserID != 1 {
		t.Fatalf("rotation must not change user id, got %d", record.UserID)
	}
}

func TestRotateStaleJTIFails(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	sessionID, jti, err := store.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.Rotate(ctx, sessionID, jti, "second"); err != nil {
		t.Fatalf("first rotate failed: %v", err)
	}

	// Replaying the original jti must be observed as a mismatch.
	err = store.Rotate(ctx, sessionID, jti, "third")
	if !errors.Is(err, ErrJTIMismatch) {
		t.Fatalf("err = %v, want ErrJTIMismatch", err)
	}

	record, err := store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.JTI != "second" {
		t.Fatalf("stale rotate must not overwrite jti, got %q", record.JTI)
	}
}

func TestRotateAbsentSession(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	err := store.Rotate(context.Background(), "gone", "a", "b")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	sessionID, jti, err := store.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		next := "next-" + string(rune('a'+i))
		go func() {
			defer wg.Done()
			results <- store.Rotate(ctx, sessionID, jti, next)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrJTIMismatch) {
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", wins)
	}
}

func TestRotateSlidesExpiry(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	sessionID, jti, err := store.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	mr.FastForward(30 * time.Minute)
	if err := store.Rotate(ctx, sessionID, jti, "next"); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	// Rotation re-applies the full TTL, so the record survives past the
	// original expiry.
	mr.FastForward(45 * time.Minute)
	if _, err := store.Get(ctx, sessionID); err != nil {
		t.Fatalf("record expired despite rotation: %v", err)
	}
}

func TestRecordExpiresUnused(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	sessionID, _, err := store.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, sessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound after TTL", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	sessionID, _, err := store.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := store.Revoke(ctx, sessionID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, sessionID); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}
	if _, err := store.Get(ctx, sessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound after revoke", err)
	}
}

func TestRedisDownFailsClosed(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	sessionID, jti, err := store.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	mr.Close()

	if _, err := store.Get(ctx, sessionID); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("get err = %v, want ErrRedisUnavailable", err)
	}
	if err := store.Rotate(ctx, sessionID, jti, "next"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("rotate err = %v, want ErrRedisUnavailable", err)
	}
}
