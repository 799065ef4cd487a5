package main

import (
	"github.com/nimasrn/transaction-guard/internal/config"
	"github.com/nimasrn/transaction-guard/pkg/pg"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status|redo|version] [args...]",
		Short: "Run the SQL migrations against the write database",
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) > 0 {
				command, args = args[0], args[1:]
			}
			return pg.Migrate(cmd.Context(), config.Get().PostgresWrite(), dir, command, args...)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./migrations", "directory of the goose migrations")
	return cmd
}
