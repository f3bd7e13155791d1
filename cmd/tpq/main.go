// Command tpq loads traces into a trace engine and queries them.
//
// Usage:
//
//	tpq query --trace trace.json "SELECT name, dur FROM slice"
//	tpq shell --trace trace.json
//	tpq serve --listen 127.0.0.1:9001
//	tpq --mode remote --remote ws://127.0.0.1:9001/rpc status
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
