package graphtwin_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/untoldecay/graphtwin"
)

func TestOpenStoreRoundTrip(t *testing.T) {
	st := graphtwin.OpenStore(t.TempDir())

	g := graphtwin.NewGraph()
	g.AddNode("plant", graphtwin.Properties{"node_type": "site"})
	g.AddNode("pump-1", graphtwin.Properties{"node_type": "pump"})
	g.AddEdge("plant", "pump-1", "contains", nil)

	if err := st.WriteLive("v1", graphtwin.Schema, g); err != nil {
		t.Fatalf("WriteLive failed: %v", err)
	}

	got, err := st.LoadLive("v1", graphtwin.Schema)
	if err != nil {
		t.Fatalf("LoadLive failed: %v", err)
	}
	if !got.Equal(g) {
		t.Error("loaded graph differs from written graph")
	}
}

func TestEngineApply(t *testing.T) {
	env, err := graphtwin.DecodeEnvelope([]byte(`{
		"action":    "create",
		"type":      "schema",
		"timestamp": 1,
		"version":   "v1",
		"payload":   {"node_id": "tank-1", "node_type": "tank", "properties": {"capacity": 500}}
	}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}

	gr := &graphtwin.Graphs{
		Schema: graphtwin.NewGraph(),
		State:  graphtwin.NewGraph(),
	}
	eng := graphtwin.NewEngine(nil)

	if _, err := eng.Apply(context.Background(), gr, env); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !gr.Schema.HasNode("tank-1") {
		t.Error("expected tank-1 in the schema graph")
	}
}

func TestOpenSQLiteQueue(t *testing.T) {
	q, err := graphtwin.OpenSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteQueue failed: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	body := []byte(`{"action":"create","type":"schema","timestamp":1,"version":"v1","payload":{"node_id":"a"}}`)
	if err := q.Push(ctx, body); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

func TestConstants(t *testing.T) {
	if graphtwin.ActionCreate != "create" {
		t.Errorf("ActionCreate = %q, want %q", graphtwin.ActionCreate, "create")
	}
	if graphtwin.ActionDirectCreate != "direct_create" {
		t.Errorf("ActionDirectCreate = %q, want %q", graphtwin.ActionDirectCreate, "direct_create")
	}
	if graphtwin.TypeSchema != "schema" {
		t.Errorf("TypeSchema = %q, want %q", graphtwin.TypeSchema, "schema")
	}
	if graphtwin.TypeState != "state" {
		t.Errorf("TypeState = %q, want %q", graphtwin.TypeState, "state")
	}
	if graphtwin.Schema != graphtwin.Kind("schema") {
		t.Errorf("Schema kind = %q, want %q", graphtwin.Schema, "schema")
	}
}
