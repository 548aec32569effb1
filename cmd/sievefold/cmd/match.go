package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/sievefold/internal/rules"
	"github.com/solatis/sievefold/internal/ruleio"
	"github.com/solatis/sievefold/internal/snapshot"
	"github.com/solatis/sievefold/internal/types"
)

func newMatchCmd(a *app) *cobra.Command {
	var messageFile string
	var consolidated bool

	cmd := &cobra.Command{
		Use:   "match --message FILE [REF]",
		Short: "Explain which rules fire for a sample message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := ruleio.LoadMessage(a.fs, messageFile)
			if err != nil {
				return err
			}

			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			id, err := m.Resolve(cmd.Context(), refArg(args, 0))
			if err != nil {
				return err
			}

			var results []rules.MatchResult
			if consolidated {
				run, err := m.Consolidate(cmd.Context(), id, snapshot.ConsolidateOptions{
					Exclude:         a.cfg.Exclude,
					ReincludeSynced: a.cfg.ReincludeSynced,
				})
				if err != nil {
					return err
				}
				results = rules.Explain(run.Result.Rules, msg)
			} else {
				v, err := m.View(cmd.Context(), id)
				if err != nil {
					return err
				}
				var live []types.Rule
				for _, r := range v.All() {
					if r.Status != types.StatusDeprecated {
						live = append(live, r)
					}
				}
				results = rules.ExplainRules(live, msg)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "no rule matches")
				return nil
			}
			for _, r := range results {
				if consolidated {
					fmt.Fprintf(out, "%s (group %d): %s\n", r.Name, r.GroupIndex+1, types.DescribeActions(r.Actions))
				} else {
					fmt.Fprintf(out, "%s: %s\n", r.Name, types.DescribeActions(r.Actions))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&messageFile, "message", "", "sample message (JSON or YAML)")
	cmd.Flags().BoolVar(&consolidated, "consolidated", false, "match against the consolidated rules instead")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
