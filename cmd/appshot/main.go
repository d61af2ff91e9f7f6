// Command appshot launches an application, captures its first window and
// tears it down again.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/appshot/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	code := cli.GetExitCode(err)
	// Verification failures have already been reported by the command.
	if err != nil && code != cli.ExitFailure {
		fmt.Fprintf(os.Stderr, "appshot: %v\n", err)
	}
	os.Exit(code)
}
