// Command playbookd runs and manages playbooks.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/playbookd/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
