package ratelimit

import (
	"context"
	"sync"
	"time"
)

// WindowSpan is how far back the recent-request window reaches.
const WindowSpan = time.Minute

// Window records send instants and counts those within WindowSpan of now.
type Window interface {
	Record(ctx context.Context, at time.Time) error
	Count(ctx context.Context, now time.Time) (int, error)
}

// MemoryWindow is an in-process Window. Entries older than WindowSpan are
// evicted on every call.
type MemoryWindow struct {
	mu    sync.Mutex
	times []time.Time
}

var _ Window = (*MemoryWindow)(nil)

// NewMemoryWindow returns an empty window.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{}
}

// Record appends at and prunes expired entries.
func (w *MemoryWindow) Record(_ context.Context, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.times = append(w.times, at)
	w.pruneLocked(at)
	return nil
}

// Count prunes expired entries and returns how many remain.
func (w *MemoryWindow) Count(_ context.Context, now time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.times), nil
}

// pruneLocked drops entries at or before now-WindowSpan. Entries are appended
// in roughly increasing order, so the scan stops at the first live one.
func (w *MemoryWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-WindowSpan)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}
