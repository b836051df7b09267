package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dynaorm/dynaorm/cli/internal/ui"
)

// NewTablesCommand creates the tables command listing user tables.
func NewTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			tables, err := db.Tables(context.Background())
			if err != nil {
				return err
			}
			if len(tables) == 0 {
				ui.Info("no tables")
				return nil
			}
			ui.List(tables)
			return nil
		},
	}
}

// NewDescribeCommand creates the describe command printing a table's fields.
func NewDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Show a table's fields, keys and relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			model := db.Model(args[0])
			fields, err := model.Fields(context.Background())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(fields))
			for _, f := range fields {
				kind := f.Type
				related := ""
				switch {
				case f.ManyToMany != nil:
					kind = "many-to-many"
					related = fmt.Sprintf("%s via %s", f.ManyToMany.RelatedTable, f.ManyToMany.JunctionTable)
				case f.ForeignKey != nil:
					related = fmt.Sprintf("%s.%s", f.ForeignKey.RelatedTable, f.ForeignKey.RelatedField)
				}
				rows = append(rows, []string{
					f.Name, kind, flag(f.PrimaryKey, "pk"), flag(f.Unique, "unique"),
					flag(f.NotNull, "not null"), related,
				})
			}
			ui.Table([]string{"field", "type", "key", "unique", "null", "references"}, rows)
			return nil
		},
	}
}

func flag(b bool, label string) string {
	if b {
		return label
	}
	return ""
}
