package cache

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// exerciseCache runs the behaviour shared by every Cache; advance moves the
// backend's clock forward.
func exerciseCache(t *testing.T, c Cache, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "reminder:1:1:2026-01-01", "pending", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v; want true", ok, err)
	}
	ok, err = c.SetNX(ctx, "reminder:1:1:2026-01-01", "pending", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v; want false", ok, err)
	}

	if err := c.Set(ctx, "reminder:1:1:2026-01-01", "sent", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, found, err := c.Get(ctx, "reminder:1:1:2026-01-01")
	if err != nil || !found || v != "sent" {
		t.Fatalf("Get = %q, %v, %v; want sent", v, found, err)
	}

	// Set replaced the short TTL with the long one.
	advance(2 * time.Minute)
	if _, found, _ := c.Get(ctx, "reminder:1:1:2026-01-01"); !found {
		t.Error("key should outlive the original SetNX TTL after Set")
	}

	if err := c.Set(ctx, "encouragement:7", "sent", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	keys, err := c.Keys(ctx, "reminder:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"reminder:1:1:2026-01-01"}) {
		t.Errorf("Keys(reminder:) = %v", keys)
	}

	advance(2 * time.Minute)
	if _, found, _ := c.Get(ctx, "encouragement:7"); found {
		t.Error("encouragement key should have expired")
	}
	ok, err = c.SetNX(ctx, "encouragement:7", "sent", time.Minute)
	if err != nil || !ok {
		t.Errorf("SetNX after expiry = %v, %v; want true", ok, err)
	}

	if err := c.Delete(ctx, "reminder:1:1:2026-01-01"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
	if _, found, _ := c.Get(ctx, "reminder:1:1:2026-01-01"); found {
		t.Error("deleted key still present")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestMemoryCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.SetClock(func() time.Time { return now })
	exerciseCache(t, c, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), WithAddr(mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer c.Close()
	exerciseCache(t, c, mr.FastForward)
}

func TestRedisCache_URL(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")
	c, err := NewRedisCache(context.Background(), WithURL("redis://:secret@"+mr.Addr()+"/0"))
	if err != nil {
		t.Fatalf("NewRedisCache with URL failed: %v", err)
	}
	defer c.Close()
	if err := c.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Errorf("value in server = %q, want v", got)
	}
}

func TestNewRedisCache_Errors(t *testing.T) {
	if _, err := NewRedisCache(context.Background()); !errors.Is(err, ErrAddrNotSet) {
		t.Errorf("expected ErrAddrNotSet, got %v", err)
	}
	if _, err := NewRedisCache(context.Background(), WithURL("http://not-redis")); err == nil {
		t.Error("expected error for invalid URL scheme")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisCache(ctx, WithAddr(addr)); err == nil {
		t.Error("expected ping error for stopped server")
	}
}
