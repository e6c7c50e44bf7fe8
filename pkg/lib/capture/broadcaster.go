package capture

import "sync"

// broadcaster fans a "new data" notification out to subscribers. Sends are
// non-blocking: a subscriber that has not consumed the previous
// notification simply keeps its pending one, which is enough for streams
// where the receiver re-checks the list on every wakeup.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan struct{}]struct{}
	stopped     bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subscribers: make(map[chan struct{}]struct{})}
}

func (b *broadcaster) subscribe() chan struct{} {
	// Buffer of 1 so stale notifications can be dropped without blocking.
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

func (b *broadcaster) publish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	for ch := range b.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *broadcaster) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
