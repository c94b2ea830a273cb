// Command replicate runs, inspects and verifies replicated state containers.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/replicate/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
