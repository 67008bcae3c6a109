package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker keeps counters in process memory. It is only correct for a single
// serving process.
type MemoryTracker struct {
	mu      sync.Mutex
	config  Config
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	failures    int
	lastFailure time.Time
}

func NewMemoryTracker(cfg Config) *MemoryTracker {
	return &MemoryTracker{
		config:  cfg,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (t *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	t.now = now
	return t
}

func (t *MemoryTracker) Check(ctx context.Context, identity, origin string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.live(key(identity, origin))
	if !ok {
		return Status{}, nil
	}
	return t.status(entry), nil
}

func (t *MemoryTracker) RecordFailure(ctx context.Context, identity, origin string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(identity, origin)
	entry, _ := t.live(k)
	entry.failures++
	entry.lastFailure = t.now()
	t.entries[k] = entry

	st := t.status(entry)
	st.Tripped = entry.failures == t.config.Threshold
	return st, nil
}

func (t *MemoryTracker) Reset(ctx context.Context, identity, origin string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key(identity, origin))
	return nil
}

// live returns the entry for k unless its window has elapsed, in which case the
// entry is dropped. Caller holds mu.
func (t *MemoryTracker) live(k string) (memoryEntry, bool) {
	entry, ok := t.entries[k]
	if !ok {
		return memoryEntry{}, false
	}
	if t.now().Sub(entry.lastFailure) >= t.config.Duration {
		delete(t.entries, k)
		return memoryEntry{}, false
	}
	return entry, true
}

func (t *MemoryTracker) status(entry memoryEntry) Status {
	st := Status{Failures: entry.failures}
	if entry.failures >= t.config.Threshold {
		st.Locked = true
		st.RetryAfter = entry.lastFailure.Add(t.config.Duration).Sub(t.now())
	}
	return st
}
