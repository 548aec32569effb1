package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solatis/sievefold/internal/diff"
	"github.com/solatis/sievefold/internal/ruleio"
)

func newDiffCmd(a *app) *cobra.Command {
	var rulesFile string
	var showUnchanged bool

	cmd := &cobra.Command{
		Use:   "diff REF [REF]",
		Short: "Compare two captures, or a capture with a fresh rule list",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 2) == (rulesFile != "") {
				return fmt.Errorf("give either a second capture or --rules")
			}

			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			before, err := m.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var entries []diff.Entry
			if rulesFile != "" {
				f, err := ruleio.LoadRules(a.fs, rulesFile)
				if err != nil {
					return err
				}
				fresh, err := f.Rules()
				if err != nil {
					return err
				}
				entries, err = m.DiffRules(cmd.Context(), before, fresh)
				if err != nil {
					return err
				}
			} else {
				after, err := m.Resolve(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				if entries, err = m.Diff(cmd.Context(), before, after); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			shown := entries
			if !showUnchanged {
				shown = diff.Filter(entries, diff.Added, diff.Removed, diff.StateChanged, diff.Modified)
			}
			tw := newTable(out)
			for _, e := range shown {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Kind, e.Name, strings.Join(e.Changes(), ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			summary := diff.Summarize(entries)
			parts := make([]string, 0, len(diff.Kinds))
			for _, k := range diff.Kinds {
				parts = append(parts, fmt.Sprintf("%d %s", summary[k], k))
			}
			fmt.Fprintln(out, strings.Join(parts, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "fresh rule list to compare against")
	cmd.Flags().BoolVar(&showUnchanged, "all", false, "include unchanged rules")
	return cmd
}
