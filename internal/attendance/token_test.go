package attendance

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestNewTokenFormat(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	token, err := newToken(now)
	if err != nil {
		t.Fatalf("newToken: %v", err)
	}

	parts := strings.SplitN(token, "_", 2)
	if len(parts) != 2 {
		t.Fatalf("token %q should be <hex>_<unix>", token)
	}
	if len(parts[0]) != 32 {
		t.Fatalf("random part is %d hex chars, want 32 (128 bits)", len(parts[0]))
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		t.Fatalf("suffix %q is not a unix timestamp", parts[1])
	}
	if ts != now.Unix() {
		t.Fatalf("suffix = %d, want %d", ts, now.Unix())
	}
}

func TestNewTokenUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := newToken(now)
		if err != nil {
			t.Fatalf("newToken: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}
