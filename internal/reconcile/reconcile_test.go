package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/graphtwin/internal/change"
	"github.com/untoldecay/graphtwin/internal/graph"
)

func testEngine() *Engine {
	e := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("inst-%02d", n)
	}
	return e
}

func newGraphs() *Graphs {
	return &Graphs{Schema: graph.NewDirected(), State: graph.NewDirected()}
}

func env(action string, ts int64, payload string) *change.Envelope {
	return &change.Envelope{
		Action:    action,
		Type:      change.TypeSchema,
		Timestamp: ts,
		Version:   "v1",
		Payload:   json.RawMessage(payload),
	}
}

func mustApply(t *testing.T, e *Engine, gr *Graphs, action string, ts int64, payload string) {
	t.Helper()
	if _, err := e.Apply(context.Background(), gr, env(action, ts, payload)); err != nil {
		t.Fatalf("apply %s: %v", action, err)
	}
}

func instanceIDs(gr *Graphs, parent string) []string {
	return gr.State.NodesWithProp("parent_id", parent)
}

func TestCreateNodeSpawnsInstances(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"A","node_type":"tank","properties":{"units_in_chain":3,"expiry":100}}`)

	props, ok := gr.Schema.NodeProps("A")
	if !ok {
		t.Fatal("schema node A not created")
	}
	if props["node_type"] != "tank" {
		t.Errorf("node_type = %v, want tank", props["node_type"])
	}
	if props["created_at"] != int64(1) || props["updated_at"] != int64(1) {
		t.Errorf("timestamps = %v / %v, want 1 / 1", props["created_at"], props["updated_at"])
	}

	ids := instanceIDs(gr, "A")
	if len(ids) != 3 {
		t.Fatalf("instance count = %d, want 3", len(ids))
	}
	for _, id := range ids {
		p, _ := gr.State.NodeProps(id)
		if p["parent_id"] != "A" || p["node_type"] != "tank" {
			t.Errorf("instance %s identity = %v/%v", id, p["parent_id"], p["node_type"])
		}
		if p["valid_from"] != int64(1) || p["valid_to"] != int64(101) {
			t.Errorf("instance %s window = %v..%v, want 1..101", id, p["valid_from"], p["valid_to"])
		}
	}
}

func TestUpdateGrowsKeepingOriginalWindows(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"A","node_type":"tank","properties":{"units_in_chain":3,"expiry":100}}`)
	mustApply(t, e, gr, change.ActionUpdate, 2,
		`{"node_id":"A","properties":{"units_in_chain":5}}`)

	ids := instanceIDs(gr, "A")
	if len(ids) != 5 {
		t.Fatalf("instance count = %d, want 5", len(ids))
	}
	short, long := 0, 0
	for _, id := range ids {
		p, _ := gr.State.NodeProps(id)
		switch p["valid_to"] {
		case int64(101):
			short++
		case int64(2 + defaultExpirySeconds):
			long++
		default:
			t.Errorf("instance %s valid_to = %v", id, p["valid_to"])
		}
	}
	if short != 3 || long != 2 {
		t.Errorf("windows = %d original + %d new, want 3 + 2", short, long)
	}

	props, _ := gr.Schema.NodeProps("A")
	if props["updated_at"] != int64(2) {
		t.Errorf("updated_at = %v, want 2", props["updated_at"])
	}
	if props["created_at"] != int64(1) {
		t.Errorf("created_at = %v, want 1", props["created_at"])
	}
}

func TestShrinkEvictsSoonestExpiring(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	// inst-01, inst-02 expire at 11; inst-03, inst-04 at 105.
	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"P","node_type":"pump","properties":{"units_in_chain":2,"expiry":10}}`)
	mustApply(t, e, gr, change.ActionUpdate, 5,
		`{"node_id":"P","properties":{"units_in_chain":4,"expiry":100}}`)
	mustApply(t, e, gr, change.ActionUpdate, 6,
		`{"node_id":"P","properties":{"units_in_chain":1}}`)

	ids := instanceIDs(gr, "P")
	if len(ids) != 1 {
		t.Fatalf("instance count = %d, want 1", len(ids))
	}
	if ids[0] != "inst-04" {
		t.Errorf("survivor = %s, want inst-04", ids[0])
	}
}

func TestShrinkTieBreaksOnInstanceID(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"P","node_type":"pump","properties":{"units_in_chain":3,"expiry":10}}`)
	mustApply(t, e, gr, change.ActionUpdate, 2,
		`{"node_id":"P","properties":{"units_in_chain":1}}`)

	ids := instanceIDs(gr, "P")
	if len(ids) != 1 || ids[0] != "inst-03" {
		t.Errorf("survivors = %v, want [inst-03]", ids)
	}
}

func TestDuplicateCreateMergesProperties(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"A","node_type":"tank","properties":{"units_in_chain":2,"expiry":50}}`)
	mustApply(t, e, gr, change.ActionCreate, 9,
		`{"node_id":"A","node_type":"pump","properties":{"units_in_chain":2,"zone":"north"}}`)

	props, _ := gr.Schema.NodeProps("A")
	if props["node_type"] != "pump" || props["zone"] != "north" {
		t.Errorf("merged props = %v", props)
	}
	if props["created_at"] != int64(1) {
		t.Errorf("created_at = %v, want original 1", props["created_at"])
	}
	if props["updated_at"] != int64(9) {
		t.Errorf("updated_at = %v, want 9", props["updated_at"])
	}

	ids := instanceIDs(gr, "A")
	if len(ids) != 2 {
		t.Fatalf("instance count = %d, want unchanged 2", len(ids))
	}
	for _, id := range ids {
		p, _ := gr.State.NodeProps(id)
		if p["valid_to"] != int64(51) {
			t.Errorf("instance %s valid_to = %v, want original 51", id, p["valid_to"])
		}
	}
}

func TestUpdateMissingNode(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	_, err := e.Apply(context.Background(), gr, env(change.ActionUpdate, 1,
		`{"node_id":"ghost","properties":{"x":1}}`))
	if !errors.Is(err, ErrMissingNode) {
		t.Fatalf("err = %v, want ErrMissingNode", err)
	}
}

func TestDeleteNodeEvictsInstances(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"D","node_type":"tank","properties":{"units_in_chain":2}}`)
	mustApply(t, e, gr, change.ActionDelete, 2, `{"node_id":"D"}`)

	if gr.Schema.HasNode("D") {
		t.Error("schema still has D")
	}
	if n := gr.State.NodeCount(); n != 0 {
		t.Errorf("state count = %d, want 0", n)
	}
}

func TestCascadeDeleteClearsDescendantInstances(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"A","node_type":"plant","properties":{"units_in_chain":1}}`)
	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"B","node_type":"line","properties":{"units_in_chain":2}}`)
	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"C","node_type":"sensor","properties":{}}`)
	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"node_id":"X","node_type":"plant","properties":{"units_in_chain":1}}`)
	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"source_id":"A","target_id":"B","edge_type":"feeds"}`)
	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"source_id":"B","target_id":"C","edge_type":"feeds"}`)

	mustApply(t, e, gr, change.ActionDelete, 2, `{"node_id":"A","cascade":true}`)

	for _, id := range []string{"A", "B", "C"} {
		if gr.Schema.HasNode(id) {
			t.Errorf("schema still has %s after cascade", id)
		}
	}
	if got := len(instanceIDs(gr, "A")) + len(instanceIDs(gr, "B")); got != 0 {
		t.Errorf("cascade left %d instances", got)
	}
	if got := len(instanceIDs(gr, "X")); got != 1 {
		t.Errorf("unrelated node lost instances, have %d", got)
	}
}

func TestDeleteMissingNode(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	_, err := e.Apply(context.Background(), gr, env(change.ActionDelete, 1, `{"node_id":"ghost"}`))
	if !errors.Is(err, ErrMissingNode) {
		t.Fatalf("err = %v, want ErrMissingNode", err)
	}
}

func TestEdgeCreateRequiresEndpoints(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	gr.Schema.AddNode("A", graph.Properties{"node_type": "tank"})

	_, err := e.Apply(context.Background(), gr, env(change.ActionCreate, 1,
		`{"source_id":"A","target_id":"B","edge_type":"feeds"}`))
	if !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("err = %v, want ErrMissingEndpoint", err)
	}
	if !strings.Contains(err.Error(), "B") {
		t.Errorf("error does not name the missing endpoint: %v", err)
	}
	if gr.Schema.HasNode("B") {
		t.Error("failed edge create materialized node B")
	}
}

func TestEdgeCreateMergesOnReplay(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	gr.Schema.AddNode("A", nil)
	gr.Schema.AddNode("B", nil)

	mustApply(t, e, gr, change.ActionCreate, 1,
		`{"source_id":"A","target_id":"B","edge_type":"feeds","properties":{"capacity":10}}`)
	mustApply(t, e, gr, change.ActionCreate, 2,
		`{"source_id":"A","target_id":"B","edge_type":"supplies","properties":{"priority":1}}`)

	edge, ok := gr.Schema.EdgeBetween("A", "B")
	if !ok {
		t.Fatal("edge missing")
	}
	if edge.Type != "supplies" {
		t.Errorf("type = %s, want supplies", edge.Type)
	}
	if edge.Props["capacity"] != int64(10) || edge.Props["priority"] != int64(1) {
		t.Errorf("props = %v, want merged capacity and priority", edge.Props)
	}
}

func TestEdgeUpdateMergesProps(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	gr.Schema.AddEdge("A", "B", "feeds", graph.Properties{"capacity": int64(10)})

	mustApply(t, e, gr, change.ActionUpdate, 2,
		`{"source_id":"A","target_id":"B","edge_type":"feeds","properties":{"capacity":20}}`)

	edge, _ := gr.Schema.EdgeBetween("A", "B")
	if edge.Props["capacity"] != int64(20) {
		t.Errorf("capacity = %v, want 20", edge.Props["capacity"])
	}
	if edge.Type != "feeds" {
		t.Errorf("type = %s, update must not change it", edge.Type)
	}
}

func TestEdgeUpdateRetriesThenFails(t *testing.T) {
	e := testEngine()
	e.retryAttempts = 2
	e.retryBackoff = time.Millisecond
	gr := newGraphs()
	gr.Schema.AddNode("A", nil)
	gr.Schema.AddNode("B", nil)

	_, err := e.Apply(context.Background(), gr, env(change.ActionUpdate, 1,
		`{"source_id":"A","target_id":"B","edge_type":"feeds","properties":{"capacity":20}}`))
	if !errors.Is(err, ErrMissingEdge) {
		t.Fatalf("err = %v, want ErrMissingEdge", err)
	}
}

func TestEdgeDeleteTypeMismatchIsNoOp(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	gr.Schema.AddEdge("A", "B", "feeds", nil)

	mustApply(t, e, gr, change.ActionDelete, 1,
		`{"source_id":"A","target_id":"B","edge_type":"supplies"}`)
	if !gr.Schema.HasEdge("A", "B") {
		t.Fatal("mismatched delete removed the edge")
	}

	mustApply(t, e, gr, change.ActionDelete, 2,
		`{"source_id":"A","target_id":"B","edge_type":"feeds"}`)
	if gr.Schema.HasEdge("A", "B") {
		t.Fatal("matching delete left the edge")
	}
}

func TestEdgeDeleteWithoutTypeRemoves(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	gr.Schema.AddEdge("A", "B", "feeds", nil)

	mustApply(t, e, gr, change.ActionDelete, 1, `{"source_id":"A","target_id":"B"}`)
	if gr.Schema.HasEdge("A", "B") {
		t.Fatal("untyped delete left the edge")
	}
}

func TestEdgeDeleteMissing(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	_, err := e.Apply(context.Background(), gr, env(change.ActionDelete, 1,
		`{"source_id":"A","target_id":"B"}`))
	if !errors.Is(err, ErrMissingEdge) {
		t.Fatalf("err = %v, want ErrMissingEdge", err)
	}
}

func TestBulkContinuesPastFailures(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	gr.Schema.AddNode("A", graph.Properties{"node_type": "tank"})

	results, err := e.Apply(context.Background(), gr, env(change.ActionBulkCreate, 1, `[
		{"source_id":"A","target_id":"B","edge_type":"feeds"},
		{"node_id":"B","node_type":"pump","properties":{}},
		{"source_id":"A","target_id":"B","edge_type":"feeds"},
		{}
	]`))
	if err != nil {
		t.Fatalf("bulk returned %v, want nil with per-item results", err)
	}
	if len(results) != 4 {
		t.Fatalf("result count = %d, want 4", len(results))
	}

	want := []string{"error", "applied", "applied", "error"}
	for i, res := range results {
		if res.Status != want[i] {
			t.Errorf("item %d status = %s (%s), want %s", i, res.Status, res.Error, want[i])
		}
		if res.Index != i {
			t.Errorf("item %d carries index %d", i, res.Index)
		}
	}
	if !strings.Contains(results[0].Error, "B") {
		t.Errorf("item 0 error does not name the endpoint: %s", results[0].Error)
	}
	if !gr.Schema.HasEdge("A", "B") {
		t.Error("edge not created once B existed")
	}
}

func TestBulkDeleteMapsToDeleteVerb(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	gr.Schema.AddNode("A", graph.Properties{"node_type": "tank"})

	results, err := e.Apply(context.Background(), gr, env(change.ActionBulkDelete, 1, `[
		{"node_id":"A"},
		{"node_id":"ghost"}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != "applied" || results[1].Status != "error" {
		t.Errorf("results = %+v", results)
	}
	if gr.Schema.HasNode("A") {
		t.Error("A not deleted")
	}
}

func TestBulkStopsOnCancel(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := e.Apply(ctx, gr, env(change.ActionBulkCreate, 1, `[
		{"node_id":"A","node_type":"tank","properties":{}},
		{"node_id":"B","node_type":"tank","properties":{}}
	]`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(results) != 0 {
		t.Errorf("applied %d items under a cancelled context", len(results))
	}
}

func TestDirectImportRebuildsState(t *testing.T) {
	e := testEngine()
	gr := newGraphs()
	gr.Schema.AddNode("old", graph.Properties{"node_type": "tank"})
	gr.State.AddNode("stale-instance", graph.Properties{"parent_id": "old"})

	mustApply(t, e, gr, change.ActionDirectCreate, 10, `{
		"directed": true,
		"multigraph": false,
		"graph": {"name": "plant-2"},
		"nodes": [
			{"id": "A", "node_type": "tank", "units_in_chain": 2, "expiry": 50},
			{"id": "B", "node_type": "pump"}
		],
		"links": [
			{"source": "A", "target": "B", "relationship_type": "feeds"}
		]
	}`)

	if gr.Schema.HasNode("old") {
		t.Error("import kept the previous schema")
	}
	if !gr.Schema.HasNode("A") || !gr.Schema.HasNode("B") || !gr.Schema.HasEdge("A", "B") {
		t.Error("imported schema incomplete")
	}
	if gr.State.HasNode("stale-instance") {
		t.Error("import kept previous state")
	}

	ids := instanceIDs(gr, "A")
	if len(ids) != 2 {
		t.Fatalf("instance count = %d, want 2", len(ids))
	}
	for _, id := range ids {
		p, _ := gr.State.NodeProps(id)
		if p["valid_to"] != int64(60) {
			t.Errorf("instance %s valid_to = %v, want 60", id, p["valid_to"])
		}
	}
	if got := gr.State.NodeCount(); got != 2 {
		t.Errorf("state count = %d, want instances for A only", got)
	}
}

func TestUnitsCoercion(t *testing.T) {
	cases := []struct {
		name  string
		units string
		want  int
	}{
		{"numeric string", `"3"`, 3},
		{"integral float", `2.0`, 2},
		{"unparsable string", `"many"`, 0},
		{"negative clamps", `-2`, 0},
		{"null", `null`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := testEngine()
			gr := newGraphs()
			mustApply(t, e, gr, change.ActionCreate, 1, fmt.Sprintf(
				`{"node_id":"A","node_type":"tank","properties":{"units_in_chain":%s}}`, tc.units))
			if got := len(instanceIDs(gr, "A")); got != tc.want {
				t.Errorf("units %s spawned %d instances, want %d", tc.units, got, tc.want)
			}
		})
	}
}

func TestMalformedSinglePayload(t *testing.T) {
	e := testEngine()
	gr := newGraphs()

	_, err := e.Apply(context.Background(), gr, env(change.ActionCreate, 1, `{"node_id":"A"}`))
	if !errors.Is(err, change.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
	if gr.Schema.NodeCount() != 0 {
		t.Error("malformed payload mutated the schema")
	}
}
