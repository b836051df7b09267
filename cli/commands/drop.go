package commands

import (
	"context"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/dynaorm/dynaorm/cli/internal/ui"
)

// NewDropCommand creates the drop command. Dropping a table is destructive,
// so it asks for confirmation unless --force is given.
func NewDropCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table and its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := args[0]

			if !force {
				confirmed := false
				prompt := &survey.Confirm{
					Message: "Drop table " + table + " and all its data?",
				}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return err
				}
				if !confirmed {
					ui.Info("aborted")
					return nil
				}
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeleteTable(context.Background(), table); err != nil {
				return err
			}
			ui.Success("dropped table %s", table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "drop without confirmation")
	return cmd
}
