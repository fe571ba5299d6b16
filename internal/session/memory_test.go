package session

import (
	"context"
	"testing"
	"time"
)

func TestCreateAndResolve(t *testing.T) {
	s := NewMemory(time.Hour)
	ctx := context.Background()

	token, err := s.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}

	userID, err := s.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("Resolve = %q, want user-1", userID)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	s := NewMemory(time.Hour)

	for _, token := range []string{"", "deadbeef"} {
		userID, err := s.Resolve(context.Background(), token)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", token, err)
		}
		if userID != "" {
			t.Errorf("Resolve(%q) = %q, want empty", token, userID)
		}
	}
}

func TestExpiry(t *testing.T) {
	s := NewMemory(time.Hour)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	token, err := s.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock = clock.Add(time.Hour + time.Minute)
	userID, err := s.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if userID != "" {
		t.Errorf("expired token resolved to %q", userID)
	}
}

func TestSlidingTTL(t *testing.T) {
	s := NewMemory(time.Hour)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	token, _ := s.Create(ctx, "user-1")

	// Touch the session every 50 minutes; each resolve renews the TTL,
	// so it stays alive well past the initial hour.
	for i := 0; i < 4; i++ {
		clock = clock.Add(50 * time.Minute)
		userID, err := s.Resolve(ctx, token)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if userID != "user-1" {
			t.Fatalf("session lost after %d renewals", i)
		}
	}
}

func TestDelete(t *testing.T) {
	s := NewMemory(time.Hour)
	ctx := context.Background()

	token, _ := s.Create(ctx, "user-1")
	if err := s.Delete(ctx, token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if userID, _ := s.Resolve(ctx, token); userID != "" {
		t.Errorf("deleted token still resolves to %q", userID)
	}

	// Deleting again is a no-op.
	if err := s.Delete(ctx, token); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	s := NewMemory(time.Hour)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := s.Create(ctx, "user-1")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[token] {
			t.Fatal("duplicate token minted")
		}
		seen[token] = true
	}
}
