// Command parleyd is the parley daemon: a local orchestrator that runs
// coding-agent CLI sessions on behalf of WebSocket clients.
package main

import (
	"fmt"
	"os"

	"github.com/parley-dev/parley/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parleyd: %v\n", err)
		os.Exit(1)
	}
}
