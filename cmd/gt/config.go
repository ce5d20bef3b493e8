package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/graphtwin/internal/config"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Show and edit configuration",
	Long: `Show and edit gt configuration.

Effective settings come from .graphtwin/config.yaml, GT_* environment
variables, and built-in defaults, in that order of precedence. 'set' edits
the YAML file in place and keeps its comments.`,
	Run: func(cmd *cobra.Command, args []string) {
		configListCmd.Run(cmd, args)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		settings := config.AllSettings()

		if jsonOutput {
			outputJSON(settings)
			return
		}

		if f := config.ConfigFileUsed(); f != "" {
			fmt.Println(ui.TableHintStyle.Render("# " + f))
		} else {
			fmt.Println(ui.TableHintStyle.Render("# built-in defaults (no config file found)"))
		}

		out, err := yaml.Marshal(settings)
		if err != nil {
			FatalError("encoding settings: %v", err)
		}
		os.Stdout.Write(out)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		value := config.GetString(key)
		if jsonOutput {
			outputJSON(map[string]interface{}{
				"key":   key,
				"value": value,
			})
			return
		}
		fmt.Println(value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one setting to config.yaml",
	Long: `Write one setting to .graphtwin/config.yaml.

The file is edited line by line so comments and ordering survive. Commented
template lines for the key are uncommented in place.

Examples:
  gt config set queue.backend redis
  gt config set queue.url redis://localhost:6379/0
  gt config set audit.enabled true`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		if err := config.SetYamlConfig(key, value); err != nil {
			FatalError("%v", err)
		}
		fmt.Printf("%s Set %s = %s\n", ui.RenderPass(ui.IconPass), key, value)
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
