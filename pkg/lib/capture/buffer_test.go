package capture

import (
	"sync"
	"testing"
	"time"
)

func drain(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	var out []byte
	for c := range ch {
		out = append(out, c...)
	}
	return string(out)
}

func TestWriteAndReplay(t *testing.T) {
	b := New(0)
	if _, err := b.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := b.Write([]byte("world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if got := b.String(); got != "hello world" {
		t.Fatalf("replay mismatch: %q", got)
	}
	if b.Len() != 11 {
		t.Fatalf("expected 11 retained bytes, got %d", b.Len())
	}
	if b.Truncated() {
		t.Fatalf("unbounded buffer must not truncate")
	}
}

func TestWriteCopiesInput(t *testing.T) {
	b := New(0)
	p := []byte("abc")
	b.Write(p)
	p[0] = 'x'
	if got := b.String(); got != "abc" {
		t.Fatalf("buffer retained caller's slice: %q", got)
	}
}

func TestRetentionLimit(t *testing.T) {
	b := New(5)
	b.Write([]byte("abc"))
	b.Write([]byte("defgh")) // only two bytes of room left

	if got := b.String(); got != "abcde" {
		t.Fatalf("expected truncated capture abcde, got %q", got)
	}
	if !b.Truncated() {
		t.Fatalf("expected Truncated after hitting the limit")
	}

	// Writes past the limit still report success.
	n, err := b.Write([]byte("xyz"))
	if err != nil || n != 3 {
		t.Fatalf("over-limit write: n=%d err=%v", n, err)
	}
	if b.Len() != 5 {
		t.Fatalf("retained bytes grew past limit: %d", b.Len())
	}
}

func TestSubscribeReceivesLiveWrites(t *testing.T) {
	b := New(0)
	b.Write([]byte("early "))

	ch := b.Subscribe(4)

	var wg sync.WaitGroup
	wg.Add(1)
	var got string
	go func() {
		defer wg.Done()
		got = drain(t, ch)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Write([]byte("late"))
	b.Close()

	wg.Wait()
	if got != "early late" {
		t.Fatalf("subscriber saw %q", got)
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	b := New(0)
	b.Write([]byte("done"))
	b.Close()

	if got := drain(t, b.Subscribe(1)); got != "done" {
		t.Fatalf("late subscriber saw %q", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(0)
	b.Close()
	b.Close()
}
