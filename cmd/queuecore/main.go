// Command queuecore runs the service counter queue core.
package main

import (
	"os"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
