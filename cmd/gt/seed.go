package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/change"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var (
	seedDir    string
	seedDryRun bool
)

// seedScenario is the TOML shape of a seed file. State instances are never
// listed directly; they derive from units_in_chain on schema nodes.
type seedScenario struct {
	Version   string     `toml:"version"`
	Timestamp int64      `toml:"timestamp"`
	Nodes     []seedNode `toml:"nodes"`
	Edges     []seedEdge `toml:"edges"`
	Steps     []seedStep `toml:"steps"`
}

type seedNode struct {
	ID         string                 `toml:"id"`
	Type       string                 `toml:"type"`
	Properties map[string]interface{} `toml:"properties"`
}

type seedEdge struct {
	Source     string                 `toml:"source"`
	Target     string                 `toml:"target"`
	Type       string                 `toml:"type"`
	Properties map[string]interface{} `toml:"properties"`
}

// seedStep is one follow-up change at a later timestamp, for scenarios that
// exercise archiving and instance reconciliation over time.
type seedStep struct {
	Timestamp int64                  `toml:"timestamp"`
	Action    string                 `toml:"action"`
	Payload   map[string]interface{} `toml:"payload"`
}

var seedCmd = &cobra.Command{
	Use:     "seed <scenario.toml>",
	GroupID: "setup",
	Short:   "Queue a synthetic scenario",
	Long: `Turn a TOML scenario file into change envelopes and queue them.

A scenario names a version and lists schema nodes and edges; they become one
bulk change at the scenario timestamp (default: now). Nodes carrying a
units_in_chain property materialize that many state instances when the worker
applies them. Optional [[steps]] append further changes at later timestamps,
which is the easiest way to grow an archive series.

Example scenario:

  version = "plant-a"

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
  units_in_chain = 3`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var sc seedScenario
		if _, err := toml.DecodeFile(args[0], &sc); err != nil {
			FatalError("reading scenario: %v", err)
		}

		envs, err := buildSeedEnvelopes(&sc, time.Now())
		if err != nil {
			FatalError("%v", err)
		}

		if seedDryRun {
			for _, env := range envs {
				outputJSON(env)
			}
			return
		}

		if seedDir != "" {
			if err := writeSeedFiles(seedDir, envs); err != nil {
				FatalError("%v", err)
			}
			fmt.Printf("%s Wrote %d envelope file(s) to %s\n", ui.RenderPass(ui.IconPass), len(envs), seedDir)
			return
		}

		q := openQueue()
		defer q.Close()
		for _, env := range envs {
			body, err := json.Marshal(env)
			if err != nil {
				FatalError("encoding envelope: %v", err)
			}
			if err := q.Push(rootCtx, body); err != nil {
				FatalError("enqueue: %v", err)
			}
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"status":  "queued",
				"version": sc.Version,
				"count":   len(envs),
			})
			return
		}
		fmt.Printf("%s Queued %d change(s) for %s\n", ui.RenderPass(ui.IconPass), len(envs), sc.Version)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDir, "dir", "", "Write envelopes as JSON files into a drop directory instead of queueing")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Print the envelopes without queueing them")
	rootCmd.AddCommand(seedCmd)
}

// buildSeedEnvelopes turns a scenario into validated change envelopes. Schema
// items go into one bulk change with nodes before edges so edge endpoints
// exist when the worker applies them item by item; steps follow in file
// order.
func buildSeedEnvelopes(sc *seedScenario, now time.Time) ([]*change.Envelope, error) {
	if sc.Version == "" {
		return nil, fmt.Errorf("scenario has no version")
	}
	if len(sc.Nodes)+len(sc.Edges)+len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q is empty", sc.Version)
	}

	ts := sc.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}

	var envs []*change.Envelope

	if len(sc.Nodes)+len(sc.Edges) > 0 {
		items := make([]interface{}, 0, len(sc.Nodes)+len(sc.Edges))
		for _, n := range sc.Nodes {
			if n.ID == "" {
				return nil, fmt.Errorf("schema node with empty id")
			}
			items = append(items, nodePayload(n))
		}
		for _, e := range sc.Edges {
			if e.Source == "" || e.Target == "" {
				return nil, fmt.Errorf("edge %q -> %q is missing an endpoint", e.Source, e.Target)
			}
			items = append(items, edgePayload(e))
		}
		env, err := seedEnvelope(sc.Version, change.ActionBulkCreate, ts, items)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}

	for i, step := range sc.Steps {
		if step.Action == "" {
			step.Action = change.ActionUpdate
		}
		if len(step.Payload) == 0 {
			return nil, fmt.Errorf("step %d has no payload", i)
		}
		stepTS := step.Timestamp
		if stepTS == 0 {
			stepTS = ts
		}
		payload, err := json.Marshal(step.Payload)
		if err != nil {
			return nil, fmt.Errorf("step %d: encoding payload: %w", i, err)
		}
		env := &change.Envelope{
			Action:    step.Action,
			Type:      change.TypeSchema,
			Timestamp: stepTS,
			Version:   sc.Version,
			Payload:   payload,
		}
		if err := env.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		envs = append(envs, env)
	}

	return envs, nil
}

func nodePayload(n seedNode) map[string]interface{} {
	props := n.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	return map[string]interface{}{
		"node_id":    n.ID,
		"node_type":  n.Type,
		"properties": props,
	}
}

func edgePayload(e seedEdge) map[string]interface{} {
	p := map[string]interface{}{
		"source_id": e.Source,
		"target_id": e.Target,
		"edge_type": e.Type,
	}
	if len(e.Properties) > 0 {
		p["properties"] = e.Properties
	}
	return p
}

func seedEnvelope(version, action string, ts int64, items []interface{}) (*change.Envelope, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	env := &change.Envelope{
		Action:    action,
		Type:      change.TypeSchema,
		Timestamp: ts,
		Version:   version,
		Payload:   payload,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// writeSeedFiles drops the envelopes into dir with zero-padded names so the
// ingest watcher picks them up in order.
func writeSeedFiles(dir string, envs []*change.Envelope) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating drop directory: %w", err)
	}
	stamp := time.Now().UnixMilli()
	for i, env := range envs {
		body, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding envelope: %w", err)
		}
		name := fmt.Sprintf("seed-%d-%03d.json", stamp, i)
		if err := os.WriteFile(filepath.Join(dir, name), body, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}
