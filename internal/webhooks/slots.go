package webhooks

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// slotPool caps concurrent attempts per key. Entries live only while a
// holder or waiter exists.
type slotPool struct {
	size int64

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

func newSlotPool(size int) *slotPool {
	if size <= 0 {
		size = 1
	}
	return &slotPool{size: int64(size), slots: map[string]*slot{}}
}

// acquire blocks until key has a free slot or ctx ends. The returned func
// releases the slot.
func (p *slotPool) acquire(ctx context.Context, key string) (func(), error) {
	p.mu.Lock()
	s, ok := p.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(p.size)}
		p.slots[key] = s
	}
	s.refs++
	p.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		p.unref(key, s)
		return nil, err
	}
	return func() {
		s.sem.Release(1)
		p.unref(key, s)
	}, nil
}

func (p *slotPool) unref(key string, s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(p.slots, key)
	}
}

func (p *slotPool) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
