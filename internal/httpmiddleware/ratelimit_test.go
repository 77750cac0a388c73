package httpmiddleware

import "testing"

func TestTokenBucketExhausts(t *testing.T) {
	l := NewSimpleTokenBucket(3, 3)
	for i := 0; i < 3; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if l.allow("1.2.3.4") {
		t.Fatal("request past capacity should be rejected")
	}
	// Other clients are unaffected.
	if !l.allow("5.6.7.8") {
		t.Fatal("a different client should pass")
	}
}

func TestTokenBucketDefaultsCapacity(t *testing.T) {
	l := NewSimpleTokenBucket(0, 10)
	if l.capacity != 10 {
		t.Fatalf("capacity = %d, want rate fallback 10", l.capacity)
	}
}
