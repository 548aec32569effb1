package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/sievefold/internal/core/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			if !status {
				if err := db.MigrateUp(database); err != nil {
					return fmt.Errorf("failed to migrate: %w", err)
				}
				a.logger.Info("migrations applied")
			}

			statuses, err := db.MigrateStatus(database)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "MIGRATION\tAPPLIED\tAPPLIED AT\tDURATION")
			for _, s := range statuses {
				at := "-"
				if s.AppliedAt != nil {
					at = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%dms\n", s.ID, s.Applied, at, s.ExecutionMs)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "report migration status without applying")
	return cmd
}
