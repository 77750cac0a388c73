package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msg := Message{Type: "reconcile", Body: []byte("a1|2026-03-02")}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	out, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case got := <-out:
		if got.Type != msg.Type || string(got.Body) != string(msg.Body) {
			t.Fatalf("got %+v, want %+v", got, msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewInMemory(0)
	if err := q.Publish(ctx, Message{Type: "reconcile"}); err == nil {
		t.Fatal("publish on a cancelled context should fail")
	}
}

func TestSerializeKeepsBodySeparators(t *testing.T) {
	// Bodies may contain '|'; only the first separator delimits the type.
	msg := Message{Type: "reconcile", Body: []byte("a1|2026-03-02")}
	got, err := deserialize(serialize(msg))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Type != "reconcile" || string(got.Body) != "a1|2026-03-02" {
		t.Fatalf("round trip mangled message: %+v", got)
	}
}
