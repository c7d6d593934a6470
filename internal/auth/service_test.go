package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginGuardLocksAfterMaxFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := NewService(nil, ServiceConfig{LoginMaxFailures: 3, LoginLockDuration: 10 * time.Minute})
	s.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		s.registerFailure("admin")
	}
	if s.isLocked("admin") {
		t.Fatal("locked too early")
	}
	s.registerFailure("admin")
	if !s.isLocked("admin") {
		t.Fatal("expected lock after third failure")
	}
	if s.isLocked("editor") {
		t.Fatal("lock must be per identifier")
	}

	now = now.Add(11 * time.Minute)
	if s.isLocked("admin") {
		t.Fatal("lock should expire")
	}
}

func TestLoginGuardsExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := NewService(nil, ServiceConfig{LoginMaxFailures: 3, LoginLockDuration: 10 * time.Minute})
	s.now = func() time.Time { return now }

	for _, id := range []string{"ghost-1", "ghost-2", "ghost-3"} {
		s.registerFailure(id)
	}
	s.registerFailure("admin")
	s.registerFailure("admin")
	s.registerFailure("admin")
	if got := s.guardCount(); got != 4 {
		t.Fatalf("guardCount = %d, want 4", got)
	}

	now = now.Add(11 * time.Minute)
	s.registerFailure("ghost-4")
	if got := s.guardCount(); got != 1 {
		t.Fatalf("expected idle guards to be swept, guardCount = %d", got)
	}

	s.registerFailure("ghost-4")
	now = now.Add(11 * time.Minute)
	s.registerFailure("ghost-4")
	if s.isLocked("ghost-4") {
		t.Fatal("failures older than the lock duration must not count toward a lock")
	}
}

func TestLoginGuardClearedOnSuccess(t *testing.T) {
	s := NewService(nil, ServiceConfig{LoginMaxFailures: 2})
	s.registerFailure("admin")
	s.clearGuard("admin")
	s.registerFailure("admin")
	if s.isLocked("admin") {
		t.Fatal("cleared guard must restart the failure count")
	}
}

func TestAuthenticateLockedShortCircuits(t *testing.T) {
	s := NewService(nil, ServiceConfig{LoginMaxFailures: 1})
	s.registerFailure("admin")

	_, err := s.AuthenticatePassword(context.Background(), "Admin", "whatever")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestEnsureAdminValidates(t *testing.T) {
	s := NewService(nil, ServiceConfig{})
	if _, err := s.EnsureAdmin(context.Background(), "admin", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := s.EnsureAdmin(context.Background(), " ", "longenough"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if hashToken("abc") != hashToken("abc") || hashToken("abc") == hashToken("abd") {
		t.Fatal("hashToken must be deterministic and distinguish inputs")
	}
	if len(hashToken("abc")) != 64 {
		t.Fatalf("expected sha256 hex, got %q", hashToken("abc"))
	}
}
