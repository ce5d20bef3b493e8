package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Overridden at build time via
// -ldflags "-X main.Version=… -X main.Build=… -X main.Commit=…".
var (
	Version = "0.3.0"
	Build   = "dev"
	Commit  = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		commit := buildCommit()

		if jsonOutput {
			info := map[string]string{"version": Version, "build": Build}
			if commit != "" {
				info["commit"] = commit
			}
			outputJSON(info)
			return
		}

		line := fmt.Sprintf("gt version %s (%s)", Version, Build)
		if commit != "" {
			line += " " + commit
		}
		fmt.Println(line)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// buildCommit resolves the short VCS revision: the Commit ldflag when set,
// else the revision the Go toolchain stamped into the build info. A build
// from a modified tree gets a -dirty suffix.
func buildCommit() string {
	rev := Commit
	var dirty bool
	if rev == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return ""
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = s.Value
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
