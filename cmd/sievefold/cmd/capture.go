package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/sievefold/internal/ruleio"
	"github.com/solatis/sievefold/internal/snapshot"
	"github.com/solatis/sievefold/internal/types"
)

func newCaptureCmd(a *app) *cobra.Command {
	var rulesFile, scriptFile, email, accountID string

	cmd := &cobra.Command{
		Use:   "capture --rules FILE",
		Short: "Record a new capture from an acquired rule list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ruleio.LoadRules(a.fs, rulesFile)
			if err != nil {
				return err
			}
			rs, err := f.Rules()
			if err != nil {
				return err
			}

			in := snapshot.CaptureInput{Rules: rs, Account: f.Account, SieveScript: f.SieveScript}
			if scriptFile != "" {
				if in.SieveScript, err = ruleio.ReadText(a.fs, scriptFile, false); err != nil {
					return err
				}
			}
			if email != "" {
				in.Account.Email = email
			}
			if accountID != "" {
				in.Account.ID = accountID
			}

			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			c, err := m.CreateCapture(cmd.Context(), in)
			if err != nil {
				return err
			}
			md := c.Metadata
			fmt.Fprintf(cmd.OutOrStdout(), "capture %s: %d rules (%d enabled, %d disabled, %d archived, %d deprecated)\nchecksum %s\n",
				c.ID, md.RuleCount, md.EnabledCount, md.DisabledCount, md.ArchivedCount, md.DeprecatedCount, c.Checksum)
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "rule list file (JSON or YAML)")
	cmd.Flags().StringVar(&scriptFile, "script", "", "live Sieve script of the account")
	cmd.Flags().StringVar(&email, "account", "", "account email")
	cmd.Flags().StringVar(&accountID, "account-id", "", "account identifier")
	_ = cmd.MarkFlagRequired("rules")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List captures, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			captures, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			latest, _ := m.Resolve(cmd.Context(), types.LatestPointer)

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "\tCAPTURE\tCREATED\tRULES\tENABLED\tDISABLED\tACCOUNT\tCHECKSUM")
			for _, c := range captures {
				mark := ""
				if c.ID == latest {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n", mark, c.ID, c.CreatedAt,
					c.RuleCount, c.EnabledCount, c.DisabledCount, c.AccountEmail, shortChecksum(c.Checksum))
			}
			return tw.Flush()
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [REF]",
		Short: "Show the effective rules of a capture",
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
			if asJSON {
				return printJSON(cmd.OutOrStdout(), v.All())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "capture %s (%s)\n", v.Capture.ID, v.Capture.CreatedAt.Format(time.RFC3339))
			tw := newTable(out)
			fmt.Fprintln(tw, "NAME\tSTATUS\tPRIORITY\tACTIONS\tCONDITIONS")
			for _, r := range v.Rules {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Name, r.Status, r.Priority, types.DescribeActions(r.Actions), describeConditions(r))
			}
			for _, r := range v.ArchiveOnly {
				fmt.Fprintf(tw, "%s\t%s (archive only)\t%d\t%s\t%s\n", r.Name, r.Status, r.Priority, types.DescribeActions(r.Actions), describeConditions(r))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print rules as JSON")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [REF]",
		Short: "Recompute a capture checksum",
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
			ok, err := m.Verify(cmd.Context(), id)
			if !ok {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "capture %s: checksum ok\n", id)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export REF --out FILE",
		Short: "Write a verified capture document to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			id, err := m.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := m.Export(cmd.Context(), a.fs, id, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "capture %s exported to %s\n", id, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Verify an exported capture and store it as a new capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := a.openManager(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			c, err := m.Import(cmd.Context(), a.fs, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s as capture %s (%d rules)\n", args[0], c.ID, c.Metadata.RuleCount)
			return nil
		},
	}
}
