package paycoord

import "sync"

// Broadcaster notifies sibling tabs of one process that a lease was
// released, so callers blocked on "held elsewhere" can re-check immediately
// instead of polling.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[int]chan struct{})}
}

// Subscribe registers interest in release events for a resource. The
// returned cancel func must be called to detach.
func (b *Broadcaster) Subscribe(resourceID string) (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[resourceID] == nil {
		b.subs[resourceID] = make(map[int]chan struct{})
	}
	id := b.next
	b.next++
	ch := make(chan struct{}, 1)
	b.subs[resourceID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[resourceID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.subs, resourceID)
			}
		}
	}
	return ch, cancel
}

// Publish signals every subscriber of the resource. Non-blocking: a
// subscriber that already has a pending signal is not queued twice.
func (b *Broadcaster) Publish(resourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[resourceID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
