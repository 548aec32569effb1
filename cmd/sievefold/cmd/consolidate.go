package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/sievefold/internal/ruleio"
	"github.com/solatis/sievefold/internal/rules"
	"github.com/solatis/sievefold/internal/script"
	"github.com/solatis/sievefold/internal/snapshot"
)

func newConsolidateCmd(a *app) *cobra.Command {
	var (
		output          string
		existing        string
		exclude         []string
		includeDisabled bool
		reincludeSynced bool
		dryRun          bool
		asJSON          bool
	)

	cmd := &cobra.Command{
		Use:   "consolidate [REF]",
		Short: "Consolidate a capture and write the merged Sieve script",
		Long: `Consolidate runs the consolidation engine over a capture, renders the result
and merges it into the existing script between the generated-section markers.
Unless --dry-run is given, the script is written, a manifest is recorded and
every consumed rule is archived. Older captures can only be consolidated with
--dry-run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			id, err := m.Resolve(ctx, refArg(args, 0))
			if err != nil {
				return err
			}

			opts := snapshot.ConsolidateOptions{
				Exclude:         append(append([]string(nil), a.cfg.Exclude...), exclude...),
				IncludeDisabled: includeDisabled,
				ReincludeSynced: a.cfg.ReincludeSynced,
			}
			if cmd.Flags().Changed("reinclude-synced") {
				opts.ReincludeSynced = reincludeSynced
			}

			run, err := m.Consolidate(ctx, id, opts)
			if err != nil {
				return err
			}

			live := run.View.Capture.SieveScript
			if existing != "" {
				if live, err = ruleio.ReadText(a.fs, existing, false); err != nil {
					return err
				}
			}
			merged, err := script.MergeWithExisting(run.Generated, live)
			if err != nil {
				return err
			}

			if output == "" {
				output = a.cfg.OutputPath()
			}

			if dryRun {
				upToDate, err := script.UpToDate(run.Generated, live)
				if err != nil {
					return err
				}
				if upToDate {
					fmt.Fprintln(out, "live script is up to date")
				} else {
					preview, err := script.UnifiedDiff(live, merged, "live", output)
					if err != nil {
						return err
					}
					fmt.Fprint(out, preview)
				}
				return report(cmd, run.Result.Report, asJSON)
			}

			// Generation archives rules, which only the latest capture accepts.
			if err := m.CheckLatest(ctx, id); err != nil {
				return err
			}
			if err := ruleio.WriteFileAtomic(a.fs, output, []byte(merged)); err != nil {
				return err
			}
			mf, err := m.RecordGeneration(ctx, run, output)
			if err != nil {
				return err
			}
			a.logger.Info("script written",
				zap.String("output", output),
				zap.String("manifest_id", string(mf.ID)))

			fmt.Fprintf(out, "wrote %s (manifest %s)\n", output, mf.ID)
			return report(cmd, run.Result.Report, asJSON)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "output script file (default output.dir/output.script_name)")
	f.StringVar(&existing, "existing", "", "existing Sieve script to merge into (default: the capture's script)")
	f.StringSliceVar(&exclude, "exclude", nil, "rule names to leave out (repeatable)")
	f.BoolVar(&includeDisabled, "include-disabled", false, "treat disabled rules as eligible")
	f.BoolVar(&reincludeSynced, "reinclude-synced", false, "re-include disabled rules listed in a synced manifest")
	f.BoolVar(&dryRun, "dry-run", false, "print a diff of the script instead of writing it")
	f.BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func report(cmd *cobra.Command, r rules.Report, asJSON bool) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), r)
	}
	printReport(cmd.OutOrStdout(), r)
	return nil
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze [REF]",
		Short: "Report consolidation opportunities in a capture",
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
			v, err := m.View(cmd.Context(), id)
			if err != nil {
				return err
			}

			an := rules.Analyze(v.All())
			if asJSON {
				return printJSON(cmd.OutOrStdout(), an)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rules: %d\n", an.Total)
			for _, s := range sortedKeys(an.ByStatus) {
				fmt.Fprintf(out, "  %s: %d\n", s, an.ByStatus[s])
			}
			fmt.Fprintln(out, "actions:")
			for _, t := range sortedKeys(an.ActionDistribution) {
				fmt.Fprintf(out, "  %s: %d\n", t, an.ActionDistribution[t])
			}
			fmt.Fprintln(out, "conditions:")
			for _, t := range sortedKeys(an.ConditionDistribution) {
				fmt.Fprintf(out, "  %s: %d\n", t, an.ConditionDistribution[t])
			}
			fmt.Fprintln(out, "opportunities:")
			for _, o := range an.Opportunities {
				fmt.Fprintf(out, "  %s: %d rules, %d mergeable conditions\n", o.Actions, len(o.RuleNames), o.Mergeable)
			}
			fmt.Fprintf(out, "potential reduction: %d rules\n", an.PotentialReduction)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	return cmd
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func newMergeCmd(a *app) *cobra.Command {
	var generated, existing, output string

	cmd := &cobra.Command{
		Use:   "merge --generated FILE --existing FILE",
		Short: "Merge a generated script into an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := ruleio.ReadText(a.fs, generated, false)
			if err != nil {
				return err
			}
			live, err := ruleio.ReadText(a.fs, existing, true)
			if err != nil {
				return err
			}
			merged, err := script.MergeWithExisting(gen, live)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), merged)
				return err
			}
			return ruleio.WriteFileAtomic(a.fs, output, []byte(merged))
		},
	}
	f := cmd.Flags()
	f.StringVar(&generated, "generated", "", "generated script")
	f.StringVar(&existing, "existing", "", "existing script (missing file means empty)")
	f.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("generated")
	_ = cmd.MarkFlagRequired("existing")
	return cmd
}
