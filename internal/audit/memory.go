package audit

import (
	"context"
	"sync"
)

// InMemorySink buffers entries in process. Used in tests and when the
// service runs without a database.
type InMemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Sink = (*InMemorySink)(nil)

// NewInMemorySink creates an empty sink.
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

func (s *InMemorySink) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far, in append order.
func (s *InMemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
