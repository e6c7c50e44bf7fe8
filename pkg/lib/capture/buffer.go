// Package capture provides a bounded, append-only buffer for a child
// process output stream. It supports full replay after the fact and live
// subscription while the process is still writing.
package capture

import (
	"sync/atomic"
)

// node is an element of the singly linked capture list. The list uses a
// sentinel head for simpler append logic; next pointers are atomic so
// readers can walk the list while the writer appends.
type node struct {
	data []byte
	next atomic.Pointer[node]
}

// Buffer captures one stream. There is a single appender (the exec copier
// goroutine for the stream); any number of goroutines may read or
// subscribe concurrently.
type Buffer struct {
	head *node // sentinel, immutable
	tail *node // only touched by the appender

	limit     int64 // max retained bytes; <=0 means unbounded
	size      atomic.Int64
	truncated atomic.Bool

	notify *broadcaster
}

// New creates an empty Buffer retaining at most limit bytes.
func New(limit int64) *Buffer {
	sentinel := &node{}
	return &Buffer{
		head:   sentinel,
		tail:   sentinel,
		limit:  limit,
		notify: newBroadcaster(),
	}
}

// Write implements io.Writer. The input is copied, since the caller may
// reuse p after Write returns. Bytes past the retention limit are dropped
// but still reported as written so the child never sees a broken pipe.
func (b *Buffer) Write(p []byte) (int, error) {
	if b == nil || len(p) == 0 {
		return len(p), nil
	}

	keep := p
	if b.limit > 0 {
		room := b.limit - b.size.Load()
		if room <= 0 {
			b.truncated.Store(true)
			return len(p), nil
		}
		if int64(len(keep)) > room {
			keep = keep[:room]
			b.truncated.Store(true)
		}
	}

	cp := append([]byte(nil), keep...)
	next := &node{data: cp}
	b.tail.next.Store(next)
	b.tail = next
	b.size.Add(int64(len(cp)))

	b.notify.publish()
	return len(p), nil
}

// Close marks the stream as ended. Live subscribers drain whatever is left
// and their channels close. Close is idempotent.
func (b *Buffer) Close() {
	if b == nil {
		return
	}
	b.notify.stop()
}

// Len returns the number of retained bytes.
func (b *Buffer) Len() int64 {
	if b == nil {
		return 0
	}
	return b.size.Load()
}

// Truncated reports whether any bytes were dropped at the retention limit.
func (b *Buffer) Truncated() bool {
	if b == nil {
		return false
	}
	return b.truncated.Load()
}

// ForEach walks the retained chunks in order; returning false stops early.
func (b *Buffer) ForEach(iter func([]byte) bool) {
	if b == nil || iter == nil {
		return
	}
	cur := b.head.next.Load()
	for cur != nil {
		if !iter(cur.data) {
			return
		}
		cur = cur.next.Load()
	}
}

// Bytes concatenates all retained chunks.
func (b *Buffer) Bytes() []byte {
	total := 0
	chunks := make([][]byte, 0, 16)
	b.ForEach(func(c []byte) bool {
		chunks = append(chunks, c)
		total += len(c)
		return true
	})
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Subscribe returns a channel streaming retained chunks from the beginning,
// then following live appends. The channel closes once the buffer is closed
// and all chunks have been delivered.
func (b *Buffer) Subscribe(capacity int) <-chan []byte {
	ch := make(chan []byte, capacity)
	notifier := b.notify.subscribe()
	go b.stream(notifier, ch)
	return ch
}

func (b *Buffer) stream(notifier <-chan struct{}, ch chan<- []byte) {
	prev := b.head
	for {
		cur := prev.next.Load()
		if cur == nil {
			if notifier == nil {
				// Stream ended and everything was delivered.
				close(ch)
				return
			}
			if _, ok := <-notifier; !ok {
				// Buffer closed; drain whatever arrived before the close.
				notifier = nil
			}
			continue
		}
		prev = cur
		ch <- cur.data
	}
}
