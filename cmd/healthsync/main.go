// ABOUTME: Entry point for healthsync CLI.
// ABOUTME: Invokes the root Cobra command.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Execute runs the root command and releases the app even when a command fails.
func Execute() error {
	defer func() { _ = closeApp() }()
	return rootCmd.Execute()
}
