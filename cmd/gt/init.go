package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/untoldecay/graphtwin/internal/config"
	"github.com/untoldecay/graphtwin/internal/graph"
	"github.com/untoldecay/graphtwin/internal/store"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var (
	initForce    bool
	initBackend  string
	initVersions []string
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Initialize a graphtwin store in the current directory",
	Long: `Create the .graphtwin directory: a commented config.yaml, the version
store root, and the queue/audit databases' home.

Settings in config.yaml can be overridden per invocation with GT_* environment
variables (dots become underscores, e.g. GT_QUEUE_BACKEND=redis).

Examples:
  gt init
  gt init --backend redis
  gt init --version plant-a --version plant-b`,
	Run: func(cmd *cobra.Command, args []string) {
		runInit()
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config.yaml without asking")
	initCmd.Flags().StringVar(&initBackend, "backend", "sqlite", "Change queue backend (sqlite or redis)")
	initCmd.Flags().StringArrayVar(&initVersions, "version", nil, "Pre-create an empty version (repeatable)")
	rootCmd.AddCommand(initCmd)
}

func runInit() {
	if initBackend != "sqlite" && initBackend != "redis" {
		FatalError("unknown queue backend %q (want sqlite or redis)", initBackend)
	}

	cwd, err := os.Getwd()
	if err != nil {
		FatalError("%v", err)
	}
	root := filepath.Join(cwd, ".graphtwin")
	configPath := filepath.Join(root, "config.yaml")

	var warnings []string

	if _, err := os.Stat(configPath); err == nil && !initForce {
		if !ui.IsTerminal() {
			FatalErrorWithHint(
				fmt.Sprintf("%s already exists", configPath),
				"Re-run with --force to overwrite it",
			)
		}
		overwrite := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite it?", configPath)).
			Affirmative("Overwrite").
			Negative("Keep").
			Value(&overwrite).
			Run()
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Fprintln(os.Stderr, "Init canceled.")
				os.Exit(0)
			}
			FatalError("confirm prompt: %v", err)
		}
		if !overwrite {
			warnings = append(warnings, "config.yaml already existed, left untouched")
		} else {
			initForce = true
		}
	}

	if err := os.MkdirAll(filepath.Join(root, "data"), 0755); err != nil {
		FatalError("creating %s: %v", root, err)
	}

	if initForce || !fileExists(configPath) {
		if err := os.WriteFile(configPath, []byte(configTemplate(initBackend)), 0600); err != nil {
			FatalError("writing config.yaml: %v", err)
		}
	}

	// Re-read config so the rest of this run resolves paths against the new root
	if err := config.Initialize(); err != nil {
		WarnError("reloading config: %v", err)
	}

	st := store.New(config.DataDir())
	var seeded []string
	for _, version := range initVersions {
		if err := st.EnsureVersion(version); err != nil {
			warnings = append(warnings, fmt.Sprintf("version %q: %v", version, err))
			continue
		}
		if err := st.WriteLive(version, store.Schema, graph.NewDirected()); err != nil {
			warnings = append(warnings, fmt.Sprintf("version %q: %v", version, err))
			continue
		}
		if err := st.WriteLive(version, store.State, graph.NewDirected()); err != nil {
			warnings = append(warnings, fmt.Sprintf("version %q: %v", version, err))
			continue
		}
		seeded = append(seeded, version)
	}

	res := ui.InitResult{
		Root:           root,
		DataDir:        config.DataDir(),
		QueuePath:      config.QueuePath(),
		AuditPath:      config.AuditPath(),
		ConfigPath:     configPath,
		QueueBackend:   initBackend,
		SeededVersions: seeded,
		Warnings:       warnings,
		QuickstartCommands: []string{
			"gt push --version v1 --action create --payload '{\"node_id\":\"a\",\"node_type\":\"root\",\"properties\":{}}'",
			"gt work",
			"gt serve --with-worker",
		},
	}

	if jsonOutput {
		outputJSON(map[string]interface{}{
			"root":     root,
			"config":   configPath,
			"backend":  initBackend,
			"seeded":   seeded,
			"warnings": warnings,
		})
		return
	}

	fmt.Println()
	fmt.Println(ui.RenderInitReport(res, ui.GetWidth()))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// configTemplate renders the commented config.yaml written by gt init. Keys
// are flat dotted paths so `gt config set` can edit lines in place.
func configTemplate(backend string) string {
	sqliteLine := "queue.backend: sqlite"
	redisLine := "# queue.backend: redis"
	if backend == "redis" {
		sqliteLine = "# queue.backend: sqlite"
		redisLine = "queue.backend: redis"
	}

	return fmt.Sprintf(`# graphtwin configuration
# Every key can also be set through the environment (GT_ prefix, dots become
# underscores: GT_SERVER_PORT=9090) or changed later with 'gt config set'.

# Version store root. Empty resolves to .graphtwin/data.
# data.dir: ""

# Change queue backend.
%s
%s
# queue.path: ""
# queue.url: "redis://localhost:6379"
# queue.key: "changes"
# queue.poll_interval_ms: 10

# Audit log of applied and failed mutations.
# audit.enabled: true
# audit.path: ""

# HTTP observability and enqueue surface.
# server.host: "localhost"
# server.port: 8080

# Logging. log.file empty means stderr only; a path enables rotation.
# log.level: "info"
# log.file: ""
# log.max_size_mb: 10
# log.max_backups: 3
# log.max_age_days: 28

# Worker tuning.
# worker.poison_threshold: 3
# worker.warn_after_ms: 5000
# worker.bulk_log_every: 100
# worker.edge_retry_attempts: 3
# worker.edge_retry_backoff_ms: 100

# Instance reconciliation. Default expiry is one year of seconds.
# reconcile.default_expiry_s: 31536000
`, sqliteLine, redisLine)
}
