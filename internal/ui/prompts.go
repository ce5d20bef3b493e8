package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// PromptYesNo asks a yes/no question on stdout and reads one line from
// stdin. Empty or unrecognized input falls back to defaultYes, as does a
// non-interactive stdout so scripted runs never hang on a prompt.
func PromptYesNo(question string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	if !IsTerminal() {
		fmt.Printf("%s %s (non-interactive, assuming %s)\n", question, hint, yn(defaultYes))
		return defaultYes
	}

	fmt.Printf("%s %s ", question, hint)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return defaultYes
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return defaultYes
	}
}

func yn(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
