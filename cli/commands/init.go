package commands

import (
	"github.com/spf13/cobra"

	"github.com/dynaorm/dynaorm/cli/internal/config"
	"github.com/dynaorm/dynaorm/cli/internal/ui"
	"github.com/dynaorm/dynaorm/client"
)

// NewInitCommand creates the init command: it creates the database file with
// the metadata tables and writes a starter config.
func NewInitCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new dynaorm database and config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = "dynaorm.db"
			}

			db, err := client.Open(dbPath)
			if err != nil {
				return err
			}
			if err := db.Close(); err != nil {
				return err
			}
			ui.Success("created database %s", dbPath)

			content := "database_path: " + dbPath + "\ndebug: false\n"
			if err := writeConfigFile(".dynaorm.yaml", content); err != nil {
				return err
			}
			ui.Success("wrote .dynaorm.yaml")
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "path", "", "database file to create (default dynaorm.db)")
	return cmd
}

func writeConfigFile(path, content string) error {
	f, err := config.AppFs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}
