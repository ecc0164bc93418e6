// Command storesync synchronises store records between remote sites and a
// central server.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/storesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
