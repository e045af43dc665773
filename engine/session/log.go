package session

import (
	"fmt"
	"sync"
	"time"
)

// DefaultLogCapacity is how many log entries a session retains.
const DefaultLogCapacity = 50

// LogEntry is one timestamped line of a run log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// String renders the entry as "[15:04:05] message".
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05"), e.Message)
}

// LogBuffer is a fixed-capacity FIFO of log entries. Once full, each append
// evicts the oldest entry.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	head    int // index of the oldest entry
	size    int
	now     func() time.Time
}

// NewLogBuffer creates a buffer holding at most capacity entries.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{entries: make([]LogEntry, capacity), now: time.Now}
}

// Append records msg stamped with the current time, truncated to the second.
func (b *LogBuffer) Append(msg string) LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := LogEntry{Timestamp: b.now().Truncate(time.Second), Message: msg}
	capacity := len(b.entries)
	if b.size < capacity {
		b.entries[(b.head+b.size)%capacity] = e
		b.size++
	} else {
		b.entries[b.head] = e
		b.head = (b.head + 1) % capacity
	}
	return e
}

// Entries returns the retained entries, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, b.size)
	for i := range out {
		out[i] = b.entries[(b.head+i)%len(b.entries)]
	}
	return out
}

// Len returns the number of retained entries.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
