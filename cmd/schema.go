package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datapipes/etl/load"
	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Creates the tables of every pipeline that do not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := load.Open(ctx, cfg.Database, log)
			if err != nil {
				return fmt.Errorf("error creating DB connection: %w", err)
			}
			defer store.Close()

			names := make([]string, 0, len(load.Schemas))
			for name := range load.Schemas {
				names = append(names, name)
			}
			sort.Strings(names)

			schemas := make([]load.Schema, 0, len(names))
			for _, name := range names {
				schemas = append(schemas, load.Schemas[name])
			}

			if printOnly {
				for _, s := range schemas {
					fmt.Fprintf(cmd.OutOrStdout(), "-- %s\n%s;\n\n", s.Name, strings.Join(s.DDL(store.Dialect()), ";\n\n"))
				}
				return nil
			}

			if err := load.EnsureSchema(ctx, store, schemas...); err != nil {
				return err
			}
			log.Info(fmt.Sprintf("Schema is up to date for %s", strings.Join(names, ", ")), "driver", cfg.Database.Driver)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the DDL for the configured database instead of executing it")
	return cmd
}
