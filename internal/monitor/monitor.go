// Package monitor is the process-local registry of what the worker is doing
// right now: which payload timestamp is being applied per version, and the
// archive timestamp each version has rolled forward to.
package monitor

import (
	"sync"
	"time"
)

// Status is one version's entry in a processing snapshot.
type Status struct {
	Timestamp  int64 `json:"timestamp"`
	DurationMS int64 `json:"processing_duration_ms"`
}

// Monitor tracks in-progress work per version. All methods are safe for
// concurrent use; critical sections are brief map operations.
type Monitor struct {
	mu         sync.Mutex
	processing map[string]int64
	current    map[string]int64

	// now is replaceable in tests.
	now func() time.Time
}

func New() *Monitor {
	return &Monitor{
		processing: make(map[string]int64),
		current:    make(map[string]int64),
		now:        time.Now,
	}
}

// StartProcessing records that the worker began applying a payload with the
// given timestamp for version.
func (m *Monitor) StartProcessing(version string, ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processing[version] = ts
}

// FinishProcessing clears the version's processing entry.
func (m *Monitor) FinishProcessing(version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processing, version)
}

// Processing returns a snapshot of in-flight work. Durations assume payload
// timestamps are epoch milliseconds.
func (m *Monitor) Processing() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMS := m.now().UnixMilli()
	snapshot := make(map[string]Status, len(m.processing))
	for version, ts := range m.processing {
		snapshot[version] = Status{Timestamp: ts, DurationMS: nowMS - ts}
	}
	return snapshot
}

// SetCurrent records the archive timestamp version has advanced to.
func (m *Monitor) SetCurrent(version string, ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[version] = ts
}

// Current returns the archive timestamp version last advanced to, if the
// worker has seen this version since startup.
func (m *Monitor) Current(version string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.current[version]
	return ts, ok
}
