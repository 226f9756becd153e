package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/engagement")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ALLOW_ALL", "false")
	t.Setenv("CORS_ORIGINS", "http://localhost:4200")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")
	t.Setenv("EMAIL_ENABLED", "false")
	t.Setenv("TELEPHONY_BASE_URL", "")
}

func TestLoadReadsNurturingSettings(t *testing.T) {
	setRequired(t)
	t.Setenv("NURTURING_BOOKING_URL", "  https://book.example.com/slot  ")
	t.Setenv("NURTURING_RESYNC_INTERVAL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.GetBookingURL(); got != "https://book.example.com/slot" {
		t.Fatalf("unexpected booking url %q", got)
	}
	if got := cfg.GetResyncInterval(); got != 5*time.Minute {
		t.Fatalf("expected 5m resync interval, got %s", got)
	}
}

func TestResyncIntervalFallsBackOnInvalidValue(t *testing.T) {
	setRequired(t)
	t.Setenv("NURTURING_RESYNC_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.GetResyncInterval(); got != time.Minute {
		t.Fatalf("expected 1m fallback, got %s", got)
	}
}
