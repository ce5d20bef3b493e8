package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/graphtwin/internal/audit"
	"github.com/untoldecay/graphtwin/internal/graph"
	"github.com/untoldecay/graphtwin/internal/monitor"
	"github.com/untoldecay/graphtwin/internal/queue"
	"github.com/untoldecay/graphtwin/internal/reconcile"
	"github.com/untoldecay/graphtwin/internal/store"
)

type harness struct {
	w   *Worker
	q   queue.Queue
	st  *store.Store
	mon *monitor.Monitor
}

func newHarness(t *testing.T, aud audit.Log) *harness {
	t.Helper()
	dir := t.TempDir()
	q, err := queue.OpenSQLite(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { q.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(filepath.Join(dir, "data"))
	mon := monitor.New()
	return &harness{
		w:   New(q, st, reconcile.New(log), mon, aud, log),
		q:   q,
		st:  st,
		mon: mon,
	}
}

// start runs the worker in the background and returns a stop function.
func (h *harness) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.w.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (h *harness) push(t *testing.T, body string) {
	t.Helper()
	if err := h.q.Push(context.Background(), []byte(body)); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) drained() bool {
	ctx := context.Background()
	pending, err := h.q.Len(ctx)
	if err != nil {
		return false
	}
	inflight, err := h.q.InFlight(ctx)
	if err != nil {
		return false
	}
	return pending == 0 && inflight == 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func envelope(action string, ts int64, payload string) string {
	return fmt.Sprintf(`{"action":%q,"type":"schema","timestamp":%d,"version":"v1","payload":%s}`,
		action, ts, payload)
}

func TestWorkerAppliesAndArchives(t *testing.T) {
	h := newHarness(t, audit.Nop{})
	h.push(t, envelope("create", 1,
		`{"node_id":"A","node_type":"tank","properties":{"units_in_chain":3,"expiry":100}}`))
	h.push(t, envelope("update", 2,
		`{"node_id":"A","properties":{"units_in_chain":5}}`))

	stop := h.start(t)
	waitFor(t, "queue to drain", h.drained)
	stop()

	state, err := h.st.LoadLive("v1", store.State)
	if err != nil {
		t.Fatal(err)
	}
	if state.NodeCount() != 5 {
		t.Fatalf("instance count = %d, want 5", state.NodeCount())
	}
	short := 0
	for _, id := range state.Nodes() {
		props, _ := state.NodeProps(id)
		if props["valid_to"] == int64(101) {
			short++
		}
	}
	if short != 3 {
		t.Errorf("original windows = %d, want the 3 from the create", short)
	}

	stamps, err := h.st.ArchiveTimestamps("v1", store.State)
	if err != nil {
		t.Fatal(err)
	}
	if len(stamps) != 2 || stamps[0] != 1 || stamps[1] != 2 {
		t.Fatalf("archive timestamps = %v, want [1 2]", stamps)
	}

	at1, err := h.st.ReadArchive("v1", store.State, 1)
	if err != nil {
		t.Fatal(err)
	}
	if at1.NodeCount() != 3 {
		t.Errorf("snapshot at 1 has %d instances, want 3", at1.NodeCount())
	}
	at2, err := h.st.ReadArchive("v1", store.State, 2)
	if err != nil {
		t.Fatal(err)
	}
	if at2.NodeCount() != 5 {
		t.Errorf("snapshot at 2 has %d instances, want 5", at2.NodeCount())
	}

	if current, ok := h.mon.Current("v1"); !ok || current != 2 {
		t.Errorf("current pointer = %d (%v), want 2", current, ok)
	}
	if got := h.mon.Processing(); len(got) != 0 {
		t.Errorf("processing map not cleared: %v", got)
	}
}

func TestWorkerDropsMalformedItems(t *testing.T) {
	h := newHarness(t, audit.Nop{})
	h.push(t, `{"action": not even json`)
	h.push(t, envelope("teleport", 1, `{"node_id":"A"}`))
	h.push(t, `{"action":"create","type":"schema","timestamp":1,"payload":{"node_id":"A"}}`)
	h.push(t, envelope("create", 1, `{"node_id":"A","node_type":"tank","properties":{}}`))

	stop := h.start(t)
	waitFor(t, "queue to drain", h.drained)
	stop()

	schema, err := h.st.LoadLive("v1", store.Schema)
	if err != nil {
		t.Fatal(err)
	}
	if !schema.HasNode("A") {
		t.Error("valid item behind malformed ones was not applied")
	}
}

func TestWorkerRequeuesFailedItem(t *testing.T) {
	h := newHarness(t, audit.Nop{})
	// The update references X before it exists; requeue sends it behind the
	// create, and the second pass succeeds.
	h.push(t, envelope("update", 2, `{"node_id":"X","properties":{"zone":"north"}}`))
	h.push(t, envelope("create", 1, `{"node_id":"X","node_type":"tank","properties":{}}`))

	stop := h.start(t)
	waitFor(t, "queue to drain", h.drained)
	stop()

	schema, err := h.st.LoadLive("v1", store.Schema)
	if err != nil {
		t.Fatal(err)
	}
	props, ok := schema.NodeProps("X")
	if !ok {
		t.Fatal("X not created")
	}
	if props["zone"] != "north" {
		t.Errorf("zone = %v, the requeued update never applied", props["zone"])
	}
}

func TestWorkerPoisonsPersistentFailure(t *testing.T) {
	h := newHarness(t, audit.Nop{})
	h.w.poisonThreshold = 2
	h.push(t, envelope("update", 1, `{"node_id":"ghost","properties":{"x":1}}`))
	h.push(t, envelope("create", 2, `{"node_id":"Y","node_type":"tank","properties":{}}`))

	stop := h.start(t)
	waitFor(t, "later item applied and poison parked", func() bool {
		schema, err := h.st.LoadLive("v1", store.Schema)
		if err != nil || !schema.HasNode("Y") {
			return false
		}
		pending, _ := h.q.Len(context.Background())
		inflight, _ := h.q.InFlight(context.Background())
		return pending == 0 && inflight == 1
	})
	time.Sleep(50 * time.Millisecond)
	stop()

	pending, _ := h.q.Len(context.Background())
	inflight, _ := h.q.InFlight(context.Background())
	if pending != 0 || inflight != 1 {
		t.Errorf("queue = %d pending / %d in flight, want the poison item parked in flight",
			pending, inflight)
	}
}

func TestWorkerRecoverRestoresInFlight(t *testing.T) {
	h := newHarness(t, audit.Nop{})
	ctx := context.Background()
	h.push(t, envelope("create", 1, `{"node_id":"A","node_type":"tank","properties":{}}`))
	h.push(t, envelope("create", 2, `{"node_id":"A","node_type":"pump","properties":{}}`))

	// Simulate a crash: the first item was taken but never acked.
	if _, err := h.q.Take(ctx); err != nil {
		t.Fatal(err)
	}

	stop := h.start(t)
	waitFor(t, "queue to drain", h.drained)
	stop()

	schema, err := h.st.LoadLive("v1", store.Schema)
	if err != nil {
		t.Fatal(err)
	}
	props, ok := schema.NodeProps("A")
	if !ok {
		t.Fatal("A missing")
	}
	// The recovered item must apply first: the later create merges over it.
	if props["node_type"] != "pump" {
		t.Errorf("node_type = %v, want pump from the second create", props["node_type"])
	}
	if props["created_at"] != int64(1) {
		t.Errorf("created_at = %v, want 1 from the recovered create", props["created_at"])
	}
}

func TestWorkerKeepsPointerOnBackwardTimestamp(t *testing.T) {
	h := newHarness(t, audit.Nop{})
	h.push(t, envelope("create", 5, `{"node_id":"A","node_type":"tank","properties":{}}`))
	h.push(t, envelope("update", 3, `{"node_id":"A","properties":{"zone":"south"}}`))

	stop := h.start(t)
	waitFor(t, "queue to drain", h.drained)
	stop()

	stamps, err := h.st.ArchiveTimestamps("v1", store.Schema)
	if err != nil {
		t.Fatal(err)
	}
	if len(stamps) != 1 || stamps[0] != 5 {
		t.Fatalf("archive timestamps = %v, want only [5]", stamps)
	}

	// The mutation still applies, and the snapshot at the held pointer
	// absorbs it.
	archived, err := h.st.ReadArchive("v1", store.Schema, 5)
	if err != nil {
		t.Fatal(err)
	}
	props, _ := archived.NodeProps("A")
	if props["zone"] != "south" {
		t.Errorf("snapshot at 5 zone = %v, want south", props["zone"])
	}
	if current, ok := h.mon.Current("v1"); !ok || current != 5 {
		t.Errorf("current pointer = %d, want 5", current)
	}
}

func TestWorkerSeedsPointerFromDiskAfterRestart(t *testing.T) {
	h := newHarness(t, audit.Nop{})
	empty := graph.NewDirected()
	if err := h.st.WriteArchive("v1", store.Schema, 7, empty); err != nil {
		t.Fatal(err)
	}
	if err := h.st.WriteArchive("v1", store.State, 7, empty); err != nil {
		t.Fatal(err)
	}

	h.push(t, envelope("create", 7, `{"node_id":"A","node_type":"tank","properties":{}}`))
	h.push(t, envelope("create", 9, `{"node_id":"B","node_type":"tank","properties":{}}`))

	stop := h.start(t)
	waitFor(t, "queue to drain", h.drained)
	stop()

	stamps, err := h.st.ArchiveTimestamps("v1", store.Schema)
	if err != nil {
		t.Fatal(err)
	}
	if len(stamps) != 2 || stamps[0] != 7 || stamps[1] != 9 {
		t.Fatalf("archive timestamps = %v, want [7 9]", stamps)
	}

	// The seeded pointer means ts 7 is not "first observed": the snapshot
	// there is the post-apply overwrite, not a fresh pre-apply pair.
	at7, err := h.st.ReadArchive("v1", store.Schema, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !at7.HasNode("A") {
		t.Error("snapshot at 7 was not overwritten post-apply")
	}
}

func TestWorkerAuditTrail(t *testing.T) {
	dir := t.TempDir()
	aud, err := audit.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { aud.Close() })

	h := newHarness(t, aud)
	h.push(t, envelope("create", 1, `{"node_id":"A","node_type":"tank","properties":{}}`))
	h.push(t, envelope("bulk_create", 2, `[
		{"node_id":"C","node_type":"tank","properties":{}},
		{"source_id":"A","target_id":"missing","edge_type":"feeds"}
	]`))

	stop := h.start(t)
	waitFor(t, "queue to drain", h.drained)
	stop()

	deltas, err := aud.List(context.Background(), "v1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(deltas) != 3 {
		t.Fatalf("delta count = %d, want create + bulk + failed item", len(deltas))
	}
	applied, failed := 0, 0
	for _, d := range deltas {
		switch d.Outcome {
		case audit.OutcomeApplied:
			applied++
		case audit.OutcomeFailed:
			failed++
		}
	}
	if applied != 2 || failed != 1 {
		t.Errorf("outcomes = %d applied / %d failed, want 2 / 1", applied, failed)
	}
	// Newest first: the failed bulk item was recorded after the bulk delta.
	if deltas[0].Outcome != audit.OutcomeFailed {
		t.Errorf("newest delta outcome = %s, want failed item", deltas[0].Outcome)
	}
}
