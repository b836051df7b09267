// Package commands implements the dynaorm CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/dynaorm/dynaorm/cli/internal/config"
	"github.com/dynaorm/dynaorm/client"
	"github.com/dynaorm/dynaorm/internal/debug"
)

var (
	flagDatabase string
	flagDebug    bool
)

// NewRootCommand builds the CLI command tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "dynaorm",
		Short:   "Schema-aware dynamic query builder for SQLite",
		Long:    "dynaorm introspects a SQLite database at runtime and queries it through\nrelationship chains, junction tables and display fields, without code generation.",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug.Init(flagDebug)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagDatabase, "database", "d", "", "path to the SQLite database (overrides config)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "log compiled SQL to stderr")

	root.AddCommand(NewInitCommand())
	root.AddCommand(NewTablesCommand())
	root.AddCommand(NewDescribeCommand())
	root.AddCommand(NewQueryCommand())
	root.AddCommand(NewDropCommand())

	return root
}

// openDatabase resolves the database path from the flag or configuration and
// opens it.
func openDatabase() (*client.Database, error) {
	path := flagDatabase
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		path = cfg.DatabasePath
		if !flagDebug && cfg.Debug {
			debug.Init(true)
		}
	}
	return client.Open(path)
}
