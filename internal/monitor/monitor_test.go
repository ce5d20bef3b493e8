package monitor

import (
	"testing"
	"time"
)

func TestProcessingSnapshot(t *testing.T) {
	m := New()
	m.now = func() time.Time { return time.UnixMilli(5000) }

	m.StartProcessing("v1", 2000)
	m.StartProcessing("v2", 4500)

	snap := m.Processing()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	if s := snap["v1"]; s.Timestamp != 2000 || s.DurationMS != 3000 {
		t.Errorf("v1 status = %+v, want ts 2000 duration 3000", s)
	}
	if s := snap["v2"]; s.DurationMS != 500 {
		t.Errorf("v2 duration = %d, want 500", s.DurationMS)
	}

	m.FinishProcessing("v1")
	snap = m.Processing()
	if _, ok := snap["v1"]; ok {
		t.Error("v1 still present after FinishProcessing")
	}
	if len(snap) != 1 {
		t.Errorf("snapshot has %d entries after finish, want 1", len(snap))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New()
	m.StartProcessing("v1", 100)

	snap := m.Processing()
	snap["v9"] = Status{Timestamp: 1}

	if len(m.Processing()) != 1 {
		t.Error("mutating a snapshot leaked into the monitor")
	}
}

func TestCurrentPerVersion(t *testing.T) {
	m := New()

	if _, ok := m.Current("v1"); ok {
		t.Error("Current on fresh monitor should report not seen")
	}

	m.SetCurrent("v1", 100)
	m.SetCurrent("v2", 900)
	m.SetCurrent("v1", 200)

	if ts, ok := m.Current("v1"); !ok || ts != 200 {
		t.Errorf("Current(v1) = %d,%v, want 200,true", ts, ok)
	}
	if ts, ok := m.Current("v2"); !ok || ts != 900 {
		t.Errorf("Current(v2) = %d,%v, want 900,true", ts, ok)
	}
}
