package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dynaorm/dynaorm/cli/internal/ui"
	"github.com/dynaorm/dynaorm/client"
	"github.com/dynaorm/dynaorm/query/resolver"
	"github.com/dynaorm/dynaorm/query/sqlgen"
)

// NewQueryCommand creates the query command. Conditions and extra
// relationships are passed as JSON, fields and ordering as comma lists.
func NewQueryCommand() *cobra.Command {
	var (
		fieldsFlag     string
		conditionsFlag string
		relationsFlag  string
		orderByFlag    string
		limitFlag      int
		distinctFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Query a table through its relationship chains",
		Example: `  dynaorm query Tasks --fields name,shot.sequence.name
  dynaorm query Tasks --conditions '{"status": {"eq": "active"}}' --order-by name:desc --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			opts := client.QueryOptions{Distinct: distinctFlag}
			if fieldsFlag != "" {
				opts.Fields = splitList(fieldsFlag)
			}
			if conditionsFlag != "" {
				if err := json.Unmarshal([]byte(conditionsFlag), &opts.Conditions); err != nil {
					return fmt.Errorf("parse --conditions: %w", err)
				}
			}
			if relationsFlag != "" {
				rels := resolver.Relationships{}
				if err := json.Unmarshal([]byte(relationsFlag), &rels); err != nil {
					return fmt.Errorf("parse --relationships: %w", err)
				}
				opts.Relationships = rels
			}
			if orderByFlag != "" {
				for _, part := range splitList(orderByFlag) {
					ob := sqlgen.OrderBy{Field: part}
					if field, dir, ok := strings.Cut(part, ":"); ok {
						ob = sqlgen.OrderBy{Field: field, Direction: dir}
					}
					opts.OrderBy = append(opts.OrderBy, ob)
				}
			}
			if cmd.Flags().Changed("limit") {
				opts.Limit = &limitFlag
			}

			rows, err := db.Model(args[0]).Query(context.Background(), opts)
			if err != nil {
				return err
			}
			records, err := rows.AllMaps()
			if err != nil {
				return err
			}
			renderRecords(rows.Columns(), records)
			return nil
		},
	}

	cmd.Flags().StringVar(&fieldsFlag, "fields", "", "comma-separated fields or dotted chains")
	cmd.Flags().StringVar(&conditionsFlag, "conditions", "", "conditions tree as JSON")
	cmd.Flags().StringVar(&relationsFlag, "relationships", "", "extra reverse relationships as JSON")
	cmd.Flags().StringVar(&orderByFlag, "order-by", "", "comma-separated field[:asc|desc]")
	cmd.Flags().IntVar(&limitFlag, "limit", 0, "maximum number of rows (0 returns none)")
	cmd.Flags().BoolVar(&distinctFlag, "distinct", false, "select distinct rows")
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func renderRecords(columns []string, records []map[string]any) {
	if len(records) == 0 {
		ui.Info("no rows")
		return
	}
	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(columns))
		for j, col := range columns {
			row[j] = formatValue(rec[col])
		}
		rows[i] = row
	}
	ui.Table(columns, rows)
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = fmt.Sprintf("%v", e)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
