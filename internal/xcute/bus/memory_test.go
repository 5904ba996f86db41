package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusFIFOOrder(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	for _, payload := range []string{"first", "second", "third"} {
		if err := b.Put(ctx, "w1", "workers", []byte(payload)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	for _, want := range []string{"first", "second", "third"} {
		got, err := b.Reserve(ctx, "w1", "workers", 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if string(got) != want {
			t.Fatalf("Reserve order: got %q, want %q", got, want)
		}
	}
	if _, err := b.Reserve(ctx, "w1", "workers", 20*time.Millisecond); err != ErrReserveTimeout {
		t.Fatalf("Reserve on empty tube: got %v, want ErrReserveTimeout", err)
	}
}

func TestMemoryBusAdvertiseAndDiscovery(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	if err := b.Advertise(ctx, "w1", "workers"); err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	tubes, err := b.Tubes(ctx, "w1")
	if err != nil {
		t.Fatalf("Tubes: %v", err)
	}
	if len(tubes) != 1 || tubes[0] != "workers" {
		t.Fatalf("Tubes: got %v", tubes)
	}

	eps, err := b.Endpoints(ctx)
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if eps["w1"] <= 0 {
		t.Fatalf("Endpoints: w1 score %v, want positive", eps["w1"])
	}

	if err := b.Deregister(ctx, "w1"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	eps, _ = b.Endpoints(ctx)
	if eps["w1"] > 0 {
		t.Fatalf("Endpoints after deregister: w1 score %v, want non-positive", eps["w1"])
	}
}
