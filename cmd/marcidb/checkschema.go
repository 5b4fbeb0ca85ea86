package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	marcidb "github.com/den59k/marci-db"
)

var checkSchemaCmd = &cobra.Command{
	Use:   "check-schema [path]",
	Short: "Parse and validate a schema file without opening a database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.SchemaPath
		}

		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		schema, err := marcidb.LoadSchemaFile(path, src)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "schema ok: %d models, %d relations, %d field indexes\n",
			len(schema.Models), len(schema.Relations), len(schema.Indexes))
		for _, m := range schema.Models {
			fmt.Fprintf(out, "  model %s (%d fields)\n", m.Name, len(m.Fields))
		}
		for _, rel := range schema.Relations {
			suffix := ""
			if rel.Order != marcidb.OrderNone {
				suffix = " [" + rel.Order.String() + "]"
			}
			fmt.Fprintf(out, "  relation %s -> %s%s\n", rel.Name, rel.Target.Name, suffix)
		}
		return nil
	},
}
