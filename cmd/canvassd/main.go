// Command canvassd runs the property canvassing orchestration daemon:
// the HTTP API, the dial worker pool, and the maintenance janitor in
// one process.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
