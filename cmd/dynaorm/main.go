// Command dynaorm is the CLI for the dynaorm query builder.
package main

import (
	"fmt"
	"os"

	"github.com/dynaorm/dynaorm/cli/commands"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := commands.NewRootCommand(Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
