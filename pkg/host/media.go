package host

import (
	"context"
	"sync"
)

// NopWatchdog discards liveness signals. Hosts without a task supervisor
// use this.
type NopWatchdog struct{}

// Feed implements Watchdog.
func (NopWatchdog) Feed(ctx context.Context, streamID string) {}

// MemoryMediaManager tracks VLM-skip registrations in memory.
type MemoryMediaManager struct {
	mu      sync.Mutex
	skipped map[string]struct{}
}

// NewMemoryMediaManager returns a manager with no registrations.
func NewMemoryMediaManager() *MemoryMediaManager {
	return &MemoryMediaManager{skipped: make(map[string]struct{})}
}

// SkipVLM implements MediaManager.
func (m *MemoryMediaManager) SkipVLM(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[streamID] = struct{}{}
	return nil
}

// UnskipVLM implements MediaManager.
func (m *MemoryMediaManager) UnskipVLM(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.skipped, streamID)
	return nil
}

// Skipped reports whether the stream is currently registered.
func (m *MemoryMediaManager) Skipped(streamID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.skipped[streamID]
	return ok
}
