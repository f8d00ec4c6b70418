// Package reqlog keeps a bounded in-memory record of handled requests and
// appends each entry to a daily log file. The buffer is injected into the
// middleware and the viewer handler rather than living as process-wide state.
package reqlog

import (
	"sync"
	"time"
)

// Entry is one logged request.
type Entry struct {
	Method        string `json:"method"`
	URL           string `json:"url"`
	Status        int    `json:"status"`
	ContentLength string `json:"content_length"`
	ResponseTime  string `json:"response_time"`
	Body          string `json:"body"`
	Level         string `json:"level"`
	Timestamp     string `json:"timestamp"`
}

// NewEntry builds a non-HTTP entry, for application-level messages.
func NewEntry(level, message string) Entry {
	return Entry{
		Method:        "-",
		URL:           "-",
		ContentLength: "-",
		ResponseTime:  "-",
		Body:          message,
		Level:         level,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// Buffer is a mutex-guarded ring buffer of the most recent entries. When full
// it drops the oldest entry.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	start    int
	size     int
	capacity int
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest when at capacity.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < b.capacity {
		b.entries[(b.start+b.size)%b.capacity] = e
		b.size++
		return
	}

	b.entries[b.start] = e
	b.start = (b.start + 1) % b.capacity
}

// Entries returns a copy of the buffered entries, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.entries[(b.start+i)%b.capacity]
	}
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
