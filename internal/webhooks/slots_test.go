package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSlotPoolCapsPerKey(t *testing.T) {
	p := newSlotPool(2)
	ctx := context.Background()
	r1, err := p.acquire(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := p.acquire(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}

	// Another key is unaffected by a full one.
	rb, err := p.acquire(ctx, "b")
	if err != nil {
		t.Fatalf("key b blocked by key a: %v", err)
	}
	rb()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.acquire(short, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("third slot for a: want deadline, got %v", err)
	}

	r1()
	r3, err := p.acquire(ctx, "a")
	if err != nil {
		t.Fatalf("freed slot not reusable: %v", err)
	}
	r2()
	r3()
	if n := p.active(); n != 0 {
		t.Fatalf("want no tracked keys after release, got %d", n)
	}
}
