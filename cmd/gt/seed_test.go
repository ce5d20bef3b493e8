package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/untoldecay/graphtwin/internal/change"
)

const testScenario = `
version = "plant-a"
timestamp = 1000

[[nodes]]
id = "plant"
type = "site"

[[nodes]]
id = "pump-1"
type = "pump"
[nodes.properties]
units_in_chain = 2

[[edges]]
source = "plant"
target = "pump-1"
type = "contains"

[[steps]]
timestamp = 2000
action = "update"
[steps.payload]
node_id = "pump-1"
[steps.payload.properties]
units_in_chain = 3
`

func TestBuildSeedEnvelopes(t *testing.T) {
	var sc seedScenario
	if _, err := toml.Decode(testScenario, &sc); err != nil {
		t.Fatalf("decoding scenario: %v", err)
	}

	envs, err := buildSeedEnvelopes(&sc, time.Now())
	if err != nil {
		t.Fatalf("buildSeedEnvelopes failed: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes (bulk + step), got %d", len(envs))
	}

	bulk, step := envs[0], envs[1]
	for _, env := range envs {
		if env.Version != "plant-a" {
			t.Errorf("version = %q, want plant-a", env.Version)
		}
		if err := env.Validate(); err != nil {
			t.Errorf("envelope does not validate: %v", err)
		}
	}

	if bulk.Action != change.ActionBulkCreate {
		t.Errorf("bulk action = %q, want bulk_create", bulk.Action)
	}
	if bulk.Timestamp != 1000 {
		t.Errorf("bulk timestamp = %d, want 1000", bulk.Timestamp)
	}

	// Nodes must come before edges so endpoints exist when the worker
	// applies the array in order.
	items := bulk.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 bulk items, got %d", len(items))
	}
	var first, last map[string]interface{}
	if err := json.Unmarshal(items[0], &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(items[2], &last); err != nil {
		t.Fatal(err)
	}
	if first["node_id"] != "plant" {
		t.Errorf("first bulk item = %v, want node plant", first)
	}
	if last["source_id"] != "plant" || last["target_id"] != "pump-1" || last["edge_type"] != "contains" {
		t.Errorf("last bulk item = %v, want the contains edge", last)
	}

	if step.Action != change.ActionUpdate {
		t.Errorf("step action = %q, want update", step.Action)
	}
	if step.Timestamp != 2000 {
		t.Errorf("step timestamp = %d, want 2000", step.Timestamp)
	}
	var sp map[string]interface{}
	if err := json.Unmarshal(step.Payload, &sp); err != nil {
		t.Fatal(err)
	}
	if sp["node_id"] != "pump-1" {
		t.Errorf("step payload = %v, want pump-1 update", sp)
	}
}

func TestBuildSeedEnvelopesDefaultsTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sc := &seedScenario{
		Version: "v1",
		Nodes:   []seedNode{{ID: "a", Type: "tank"}},
	}

	envs, err := buildSeedEnvelopes(sc, now)
	if err != nil {
		t.Fatalf("buildSeedEnvelopes failed: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(envs))
	}
	if envs[0].Timestamp != now.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", envs[0].Timestamp, now.UnixMilli())
	}
}

func TestBuildSeedEnvelopesRejectsBadScenarios(t *testing.T) {
	cases := []struct {
		name string
		sc   seedScenario
	}{
		{"NoVersion", seedScenario{Nodes: []seedNode{{ID: "a"}}}},
		{"Empty", seedScenario{Version: "v1"}},
		{"NodeWithoutID", seedScenario{Version: "v1", Nodes: []seedNode{{Type: "tank"}}}},
		{"EdgeWithoutTarget", seedScenario{Version: "v1", Edges: []seedEdge{{Source: "a", Type: "feeds"}}}},
		{"StepWithoutPayload", seedScenario{Version: "v1", Steps: []seedStep{{Timestamp: 5}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := buildSeedEnvelopes(&tc.sc, time.Now()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
