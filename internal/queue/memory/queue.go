// Package memory provides the in-memory URL frontier each worker crawls from.
package memory

import "sync"

// Frontier is a bounded FIFO of URLs that remembers every URL it has ever
// accepted, so a URL is only crawled once unless explicitly requeued. The
// owning worker polls it with TryPop.
type Frontier struct {
	mu       sync.Mutex
	items    []string
	seen     map[string]struct{}
	capacity int
}

// NewFrontier constructs a frontier holding at most capacity pending URLs.
// A capacity <= 0 means unbounded.
func NewFrontier(capacity int) *Frontier {
	return &Frontier{
		seen:     make(map[string]struct{}),
		capacity: capacity,
	}
}

// Push adds url unless it was accepted before or the frontier is full. It
// reports whether the URL was added.
func (f *Frontier) Push(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.seen[url]; dup {
		return false
	}
	if !f.hasRoomLocked() {
		return false
	}
	f.seen[url] = struct{}{}
	f.items = append(f.items, url)
	return true
}

// Requeue appends a URL that was accepted before, bypassing the
// already-seen check. It reports whether the URL was added.
func (f *Frontier) Requeue(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRoomLocked() {
		return false
	}
	f.seen[url] = struct{}{}
	f.items = append(f.items, url)
	return true
}

// TryPop removes the oldest pending URL without blocking.
func (f *Frontier) TryPop() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return "", false
	}
	url := f.items[0]
	f.items[0] = ""
	f.items = f.items[1:]
	return url, true
}

// Len returns the number of pending URLs.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Seen returns the number of distinct URLs ever accepted.
func (f *Frontier) Seen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *Frontier) hasRoomLocked() bool {
	return f.capacity <= 0 || len(f.items) < f.capacity
}
