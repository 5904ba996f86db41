package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus for tests that exercise dispatch/reply
// flows without Redis, mirroring MemoryBackend in internal/xcute/backend.
type MemoryBus struct {
	mu        sync.Mutex
	queues    map[string][][]byte // addr|tube -> FIFO
	tubes     map[string]map[string]bool
	endpoints map[string]float64
	signal    chan struct{}
}

func NewMemory() *MemoryBus {
	return &MemoryBus{
		queues:    map[string][][]byte{},
		tubes:     map[string]map[string]bool{},
		endpoints: map[string]float64{},
		signal:    make(chan struct{}, 1),
	}
}

func key(addr, tube string) string { return addr + "|" + tube }

func (b *MemoryBus) Put(_ context.Context, addr, tube string, payload []byte) error {
	b.mu.Lock()
	b.queues[key(addr, tube)] = append(b.queues[key(addr, tube)], payload)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBus) Reserve(ctx context.Context, addr, tube string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		q := b.queues[key(addr, tube)]
		if len(q) > 0 {
			msg := q[0]
			b.queues[key(addr, tube)] = q[1:]
			b.mu.Unlock()
			return msg, nil
		}
		b.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrReserveTimeout
		}
		wait := remaining
		if wait > 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.signal:
		case <-time.After(wait):
		}
	}
}

func (b *MemoryBus) Tubes(_ context.Context, addr string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.tubes[addr]))
	for t := range b.tubes[addr] {
		out = append(out, t)
	}
	return out, nil
}

func (b *MemoryBus) Advertise(_ context.Context, addr, tube string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tubes[addr] == nil {
		b.tubes[addr] = map[string]bool{}
	}
	b.tubes[addr][tube] = true
	b.endpoints[addr] = 1
	return nil
}

func (b *MemoryBus) Deregister(_ context.Context, addr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[addr] = 0
	return nil
}

func (b *MemoryBus) Endpoints(_ context.Context) (map[string]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.endpoints))
	for k, v := range b.endpoints {
		out[k] = v
	}
	return out, nil
}

func (b *MemoryBus) QueueLen(_ context.Context, addr, tube string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.queues[key(addr, tube)])), nil
}

func (b *MemoryBus) Close() error { return nil }
