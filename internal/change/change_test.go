package change

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeValidEnvelope(t *testing.T) {
	data := []byte(`{
		"action": "create",
		"type": "schema",
		"timestamp": 1,
		"version": "v",
		"payload": {"node_id": "A", "node_type": "Parts", "properties": {"units_in_chain": 3}}
	}`)

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Action != ActionCreate || env.Version != "v" || env.Timestamp != 1 {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if items := env.Items(); len(items) != 1 {
		t.Errorf("Items() returned %d items, want 1", len(items))
	}
}

func TestDecodeRejections(t *testing.T) {
	cases := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{{`, ErrMalformedPayload},
		{"unknown action", `{"action": "upsert", "type": "schema", "timestamp": 1, "version": "v", "payload": {"x": 1}}`, ErrMalformedPayload},
		{"unknown type", `{"action": "create", "type": "meta", "timestamp": 1, "version": "v", "payload": {"x": 1}}`, ErrMalformedPayload},
		{"negative timestamp", `{"action": "create", "type": "schema", "timestamp": -1, "version": "v", "payload": {"x": 1}}`, ErrMalformedPayload},
		{"missing version", `{"action": "create", "type": "schema", "timestamp": 1, "payload": {"x": 1}}`, ErrMissingVersion},
		{"missing payload", `{"action": "create", "type": "schema", "timestamp": 1, "version": "v"}`, ErrMalformedPayload},
		{"bulk with object payload", `{"action": "bulk_create", "type": "schema", "timestamp": 1, "version": "v", "payload": {"x": 1}}`, ErrMalformedPayload},
		{"bulk with empty array", `{"action": "bulk_create", "type": "schema", "timestamp": 1, "version": "v", "payload": []}`, ErrMalformedPayload},
		{"single with array payload", `{"action": "create", "type": "schema", "timestamp": 1, "version": "v", "payload": [{"x": 1}]}`, ErrMalformedPayload},
		{"single with empty object", `{"action": "create", "type": "schema", "timestamp": 1, "version": "v", "payload": {}}`, ErrMalformedPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); !errors.Is(err, tc.want) {
				t.Errorf("Decode error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBulkItems(t *testing.T) {
	data := []byte(`{
		"action": "bulk_create",
		"type": "schema",
		"timestamp": 2,
		"version": "v",
		"payload": [
			{"node_id": "A", "node_type": "T", "properties": {}},
			{"node_id": "B", "node_type": "T", "properties": {}}
		]
	}`)
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if items := env.Items(); len(items) != 2 {
		t.Errorf("Items() returned %d items, want 2", len(items))
	}
}

func TestParseNodeOps(t *testing.T) {
	op, err := ParseOp(ActionCreate, json.RawMessage(`{"node_id": "A", "node_type": "Parts", "properties": {"units_in_chain": 3, "expiry": 100}}`))
	if err != nil {
		t.Fatalf("ParseOp(create) failed: %v", err)
	}
	node, ok := op.(NodeOp)
	if !ok {
		t.Fatalf("expected NodeOp, got %T", op)
	}
	if node.NodeID != "A" || node.NodeType != "Parts" {
		t.Errorf("unexpected node op: %+v", node)
	}
	if v, ok := node.Properties["units_in_chain"].(int64); !ok || v != 3 {
		t.Errorf("units_in_chain = %T(%v), want int64(3)", node.Properties["units_in_chain"], node.Properties["units_in_chain"])
	}

	op, err = ParseOp(ActionDelete, json.RawMessage(`{"node_id": "A", "cascade": true}`))
	if err != nil {
		t.Fatalf("ParseOp(delete) failed: %v", err)
	}
	if node := op.(NodeOp); !node.Cascade || node.Verb != ActionDelete {
		t.Errorf("unexpected delete op: %+v", node)
	}
}

func TestParseEdgeOps(t *testing.T) {
	op, err := ParseOp(ActionBulkCreate, json.RawMessage(`{"source_id": "A", "target_id": "B", "edge_type": "supplies", "properties": {"weight": 2}}`))
	if err != nil {
		t.Fatalf("ParseOp(edge create) failed: %v", err)
	}
	edge, ok := op.(EdgeOp)
	if !ok {
		t.Fatalf("expected EdgeOp, got %T", op)
	}
	if edge.Verb != ActionCreate || edge.SourceID != "A" || edge.TargetID != "B" || edge.EdgeType != "supplies" {
		t.Errorf("unexpected edge op: %+v", edge)
	}

	// Edge delete may omit the type filter.
	op, err = ParseOp(ActionDelete, json.RawMessage(`{"source_id": "A", "target_id": "B"}`))
	if err != nil {
		t.Fatalf("ParseOp(edge delete) failed: %v", err)
	}
	if edge := op.(EdgeOp); edge.EdgeTypeSet {
		t.Errorf("EdgeTypeSet should be false when edge_type is absent: %+v", edge)
	}
}

func TestParseOpRejections(t *testing.T) {
	cases := []struct {
		name   string
		action string
		item   string
	}{
		{"create without node_type", ActionCreate, `{"node_id": "A", "properties": {}}`},
		{"create without properties", ActionCreate, `{"node_id": "A", "node_type": "T"}`},
		{"missing node_id", ActionUpdate, `{"properties": {"x": 1}}`},
		{"edge create without edge_type", ActionCreate, `{"source_id": "A", "target_id": "B", "properties": {}}`},
		{"properties not an object", ActionUpdate, `{"node_id": "A", "properties": 7}`},
		{"cascade not a boolean", ActionDelete, `{"node_id": "A", "cascade": "yes"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseOp(tc.action, json.RawMessage(tc.item)); !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("ParseOp error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestParseDirectImport(t *testing.T) {
	doc := `{
		"directed": true, "multigraph": false, "graph": {},
		"nodes": [{"id": "A", "node_type": "Parts", "units_in_chain": 2}],
		"links": []
	}`
	op, err := ParseOp(ActionDirectCreate, json.RawMessage(doc))
	if err != nil {
		t.Fatalf("ParseOp(direct_create) failed: %v", err)
	}
	imp, ok := op.(DirectImport)
	if !ok {
		t.Fatalf("expected DirectImport, got %T", op)
	}
	if !imp.Graph.HasNode("A") {
		t.Error("imported graph should contain node A")
	}

	untagged := `{"nodes": [{"id": "A"}], "links": []}`
	if _, err := ParseOp(ActionDirectCreate, json.RawMessage(untagged)); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("untagged direct_create error = %v, want ErrMalformedPayload", err)
	}
}
