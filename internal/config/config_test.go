package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.TokenTTL != 5*time.Second {
		t.Fatalf("TokenTTL = %s, want 5s", cfg.TokenTTL)
	}
	if cfg.LateThreshold != 15*time.Minute {
		t.Fatalf("LateThreshold = %s, want 15m", cfg.LateThreshold)
	}
	if cfg.DefaultDuration != time.Hour {
		t.Fatalf("DefaultDuration = %s, want 1h", cfg.DefaultDuration)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOKEN_TTL", "10s")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("LATE_THRESHOLD", "not-a-duration")

	cfg := Load()
	if cfg.TokenTTL != 10*time.Second {
		t.Fatalf("TokenTTL = %s, want 10s", cfg.TokenTTL)
	}
	if cfg.RateLimitPerMin != 30 {
		t.Fatalf("RateLimitPerMin = %d, want 30", cfg.RateLimitPerMin)
	}
	if cfg.LateThreshold != 15*time.Minute {
		t.Fatalf("invalid LATE_THRESHOLD should fall back to 15m, got %s", cfg.LateThreshold)
	}
}
