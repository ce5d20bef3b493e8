package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// yamlSpecial are characters that force quoting when they appear in a value.
const yamlSpecial = ":#[]{},&*!|>'\"%@`"

// SetYamlConfig writes one flat dotted key into the config.yaml the running
// process loaded, editing line by line so comments and ordering survive. A
// commented template line for the key is uncommented in place; an unknown
// key is appended at the end.
func SetYamlConfig(key, value string) error {
	path := ConfigFileUsed()
	if path == "" {
		return fmt.Errorf("no .graphtwin/config.yaml found (run 'gt init' first)")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}

	updated := setYamlLine(string(content), key, yamlScalar(value))
	if err := os.WriteFile(path, []byte(updated), 0600); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}

// setYamlLine replaces the first "key:" or "# key:" line, keeping its
// indentation, or appends "key: value" when no line matches.
func setYamlLine(content, key, value string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i, line := range lines {
		rest := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(rest)]
		rest = strings.TrimLeft(strings.TrimPrefix(rest, "#"), " \t")
		if !strings.HasPrefix(rest, key) {
			continue
		}
		after := strings.TrimLeft(rest[len(key):], " \t")
		if !strings.HasPrefix(after, ":") {
			continue
		}
		lines[i] = indent + key + ": " + value
		return strings.Join(lines, "\n") + "\n"
	}

	if lines[len(lines)-1] != "" {
		lines = append(lines, "")
	}
	lines = append(lines, key+": "+value)
	return strings.Join(lines, "\n") + "\n"
}

// yamlScalar renders value so its YAML type survives: booleans and numbers
// stay bare, anything with YAML structure characters gets quoted.
func yamlScalar(value string) string {
	switch strings.ToLower(value) {
	case "true", "false":
		return strings.ToLower(value)
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	if strings.ContainsAny(value, yamlSpecial) || strings.TrimSpace(value) != value {
		return strconv.Quote(value)
	}
	return value
}
