package main

import (
	"fmt"
	"os"

	"github.com/xpto/blot/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "blot: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
