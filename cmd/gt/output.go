package main

import (
	"encoding/json"
	"fmt"
)

// outputJSON prints v as indented JSON on stdout for --json consumers.
func outputJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		FatalError("encoding JSON output: %v", err)
	}
	fmt.Println(string(out))
}
