package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/sievefold/internal/types"
)

func newSetStatusCmd(a *app) *cobra.Command {
	var reason, ref string

	cmd := &cobra.Command{
		Use:   "set-status NAME STATUS",
		Short: "Record a lifecycle transition for a rule",
		Long: `Set-status records an explicit status (enabled, disabled, archived or
deprecated) for a rule in the capture's archive log. Deprecated rules are left
out of every future consolidation and diff. Only the latest capture accepts
status changes.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := types.ParseStatus(args[1])
			if err != nil {
				return err
			}

			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			id, err := m.Resolve(cmd.Context(), ref)
			if err != nil {
				return err
			}
			e, err := m.SetStatus(cmd.Context(), id, args[0], status, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (archive entry %d, %s)\n", e.RuleName, e.Status, e.Seq, e.ContentHash[:12])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the transition")
	cmd.Flags().StringVar(&ref, "capture", "", "capture reference (default latest)")
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup [REF]",
		Short: "Archive every disabled rule of a capture",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			id, err := m.Resolve(cmd.Context(), refArg(args, 0))
			if err != nil {
				return err
			}
			entries, err := m.Cleanup(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "archived %s\n", e.RuleName)
			}
			fmt.Fprintf(out, "%d disabled rules archived\n", len(entries))
			return nil
		},
	}
}

func newManifestsCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "manifests [REF]",
		Short: "List the manifests of generated scripts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			var id types.CaptureID
			if !all {
				if id, err = m.Resolve(cmd.Context(), refArg(args, 0)); err != nil {
					return err
				}
			}
			list, err := m.Manifests(cmd.Context(), id)
			if err != nil {
				return err
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "MANIFEST\tCAPTURE\tCREATED\tRULES\tOUTPUT\tSYNCED")
			for _, mf := range list {
				synced := "-"
				if mf.SyncedAt != nil {
					synced = mf.SyncedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", mf.ID, mf.CaptureID,
					mf.CreatedAt.Format(time.RFC3339), mf.RuleCount, mf.OutputFile, synced)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list manifests of every capture")
	return cmd
}

func newConfirmSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-sync MANIFEST_ID",
		Short: "Mark a generated script as applied upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseManifestID(args[0])
			if err != nil {
				return fmt.Errorf("invalid manifest id %q: %w", args[0], err)
			}

			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			mf, err := m.ConfirmSync(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest %s synced at %s\n", mf.ID, mf.SyncedAt.Format(time.RFC3339))
			return nil
		},
	}
}
