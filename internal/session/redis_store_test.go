package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-1", "usr_1", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_1" {
		t.Errorf("expected usr_1, got %s", user.ID)
	}
}

func TestSaveRefreshSessionRejectsPastExpiry(t *testing.T) {
	store, _ := setupTestRedis(t)

	if err := store.SaveRefreshSession(context.Background(), "hash", "usr_1", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for expired session")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-exp", "usr_2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Hour)

	_, err := store.LookupRefreshSession(ctx, "hash-exp")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-rev", "usr_3", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "hash-rev"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}

	// Revoking twice is not an error.
	if err := store.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}
}

func TestLinkCodeIsSingleUse(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveLinkCode(ctx, "ab12cd", "usr_9", 10*time.Minute); err != nil {
		t.Fatalf("SaveLinkCode failed: %v", err)
	}

	userID, err := store.ConsumeLinkCode(ctx, " AB12CD ")
	if err != nil {
		t.Fatalf("ConsumeLinkCode failed: %v", err)
	}
	if userID != "usr_9" {
		t.Errorf("expected usr_9, got %s", userID)
	}

	if _, err := store.ConsumeLinkCode(ctx, "AB12CD"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reuse, got %v", err)
	}
}

func TestLinkCodeExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveLinkCode(ctx, "ZZ99ZZ", "usr_9", 10*time.Minute); err != nil {
		t.Fatalf("SaveLinkCode failed: %v", err)
	}
	s.FastForward(11 * time.Minute)

	if _, err := store.ConsumeLinkCode(ctx, "ZZ99ZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestLinkCodeCollisionIsRejected(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveLinkCode(ctx, "DUP001", "usr_1", time.Minute); err != nil {
		t.Fatalf("SaveLinkCode failed: %v", err)
	}
	if err := store.SaveLinkCode(ctx, "dup001", "usr_2", time.Minute); err == nil {
		t.Fatal("expected collision error")
	}
}
