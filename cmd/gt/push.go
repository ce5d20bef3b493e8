package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/graphtwin/internal/change"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var (
	pushVersion   string
	pushAction    string
	pushType      string
	pushTimestamp int64
	pushPayload   string
	pushFile      string
	pushForm      bool
)

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "pipeline",
	Short:   "Enqueue a change envelope",
	Long: `Validate a change envelope and append it to the queue.

The envelope can come from flags (--version/--action/--payload), from a JSON
or YAML file (-f, "-" reads stdin), or from an interactive form (--form).
Whatever the source, the envelope is validated before it is enqueued; the
worker applies it asynchronously.

Examples:
  gt push --version v1 --action create --payload '{"node_id":"pump-1","node_type":"pump","properties":{}}'
  gt push -f changes.yaml
  cat envelope.json | gt push -f -
  gt push --form`,
	Run: func(cmd *cobra.Command, args []string) {
		body := buildPushBody(cmd)

		// Validate before enqueueing so typos fail here, not in the worker
		env, err := change.Decode(body)
		if err != nil {
			FatalError("invalid envelope: %v", err)
		}

		q := openQueue()
		defer q.Close()
		if err := q.Push(rootCtx, body); err != nil {
			FatalError("enqueue: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"status":    "queued",
				"action":    env.Action,
				"version":   env.Version,
				"timestamp": env.Timestamp,
			})
			return
		}
		fmt.Printf("%s Queued %s for %s at %d\n", ui.RenderPass(ui.IconPass), env.Action, env.Version, env.Timestamp)
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushVersion, "version", "", "Target version")
	pushCmd.Flags().StringVar(&pushAction, "action", change.ActionCreate, "Envelope action (create, update, delete, bulk_*, direct_create)")
	pushCmd.Flags().StringVar(&pushType, "type", change.TypeSchema, "Envelope type tag (schema or state)")
	pushCmd.Flags().Int64Var(&pushTimestamp, "timestamp", 0, "Logical timestamp (default: current epoch milliseconds)")
	pushCmd.Flags().StringVar(&pushPayload, "payload", "", "Payload JSON (object, or array for bulk actions)")
	pushCmd.Flags().StringVarP(&pushFile, "file", "f", "", "Read a complete envelope from a JSON or YAML file (- for stdin)")
	pushCmd.Flags().BoolVar(&pushForm, "form", false, "Fill the envelope in an interactive form")
	rootCmd.AddCommand(pushCmd)
}

// buildPushBody assembles the raw envelope bytes from whichever input mode
// was selected.
func buildPushBody(cmd *cobra.Command) []byte {
	if pushForm {
		return runPushForm()
	}

	if pushFile != "" {
		data, err := readEnvelopeFile(pushFile)
		if err != nil {
			FatalError("%v", err)
		}
		return data
	}

	if pushPayload == "" {
		FatalErrorWithHint("no payload given", "Pass --payload, --file, or --form")
	}

	ts := pushTimestamp
	if !cmd.Flags().Changed("timestamp") {
		ts = time.Now().UnixMilli()
	}

	env := change.Envelope{
		Action:    pushAction,
		Type:      pushType,
		Timestamp: ts,
		Version:   pushVersion,
		Payload:   json.RawMessage(pushPayload),
	}
	body, err := json.Marshal(&env)
	if err != nil {
		FatalError("encoding envelope: %v", err)
	}
	return body
}

// readEnvelopeFile reads an envelope from path ("-" = stdin). YAML input is
// converted to JSON; JSON passes through untouched so the queued bytes match
// what the producer wrote.
func readEnvelopeFile(path string) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlToJSON(data)
	}

	// Stdin and unknown extensions may be either format; JSON documents
	// start with an object or array.
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return data, nil
	}
	return yamlToJSON(data)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v interface{}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("converting YAML to JSON: %w", err)
	}
	return out, nil
}

// pushFormInput holds the raw string values from the form UI.
type pushFormInput struct {
	Version   string
	Action    string
	Type      string
	Timestamp string
	Payload   string
}

func runPushForm() []byte {
	raw := &pushFormInput{
		Action:    change.ActionCreate,
		Type:      change.TypeSchema,
		Timestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}

	actionOptions := []huh.Option[string]{
		huh.NewOption("Create node/edge", change.ActionCreate),
		huh.NewOption("Update node/edge", change.ActionUpdate),
		huh.NewOption("Delete node/edge", change.ActionDelete),
		huh.NewOption("Bulk create", change.ActionBulkCreate),
		huh.NewOption("Bulk update", change.ActionBulkUpdate),
		huh.NewOption("Bulk delete", change.ActionBulkDelete),
		huh.NewOption("Direct import (replace schema)", change.ActionDirectCreate),
	}

	typeOptions := []huh.Option[string]{
		huh.NewOption("schema", change.TypeSchema),
		huh.NewOption("state", change.TypeState),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Version").
				Description("Named graph version the change targets (required)").
				Placeholder("e.g., plant-a").
				Value(&raw.Version).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("version is required")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Action").
				Options(actionOptions...).
				Value(&raw.Action),

			huh.NewSelect[string]().
				Title("Type tag").
				Options(typeOptions...).
				Value(&raw.Type),

			huh.NewInput().
				Title("Timestamp").
				Description("Logical timestamp; snapshots archive when it advances").
				Value(&raw.Timestamp).
				Validate(func(s string) error {
					ts, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
					if err != nil || ts < 0 {
						return fmt.Errorf("timestamp must be a non-negative integer")
					}
					return nil
				}),
		),

		huh.NewGroup(
			huh.NewText().
				Title("Payload").
				Description("JSON object, or array for bulk actions").
				Placeholder(`{"node_id": "pump-1", "node_type": "pump", "properties": {}}`).
				Value(&raw.Payload).
				Validate(func(s string) error {
					if !json.Valid([]byte(s)) {
						return fmt.Errorf("payload must be valid JSON")
					}
					return nil
				}),

			huh.NewConfirm().
				Title("Queue this change?").
				Affirmative("Queue").
				Negative("Cancel"),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(os.Stderr, "Push canceled.")
			os.Exit(0)
		}
		FatalError("form error: %v", err)
	}

	ts, _ := strconv.ParseInt(strings.TrimSpace(raw.Timestamp), 10, 64)
	env := change.Envelope{
		Action:    raw.Action,
		Type:      raw.Type,
		Timestamp: ts,
		Version:   strings.TrimSpace(raw.Version),
		Payload:   json.RawMessage(raw.Payload),
	}
	body, err := json.Marshal(&env)
	if err != nil {
		FatalError("encoding envelope: %v", err)
	}
	return body
}
