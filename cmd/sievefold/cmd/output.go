package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/solatis/sievefold/internal/rules"
	"github.com/solatis/sievefold/internal/types"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, r rules.Report) {
	fmt.Fprintf(w, "original rules:      %d\n", r.OriginalCount)
	fmt.Fprintf(w, "eligible rules:      %d\n", r.EnabledCount)
	fmt.Fprintf(w, "consolidated rules:  %d\n", r.ConsolidatedCount)
	fmt.Fprintf(w, "reduction:           %.1f%%\n", r.ReductionPercent)

	skipped := []struct {
		label string
		n     int
	}{
		{"disabled skipped", r.DisabledSkipped},
		{"archived skipped", r.ArchivedSkipped},
		{"deprecated skipped", r.DeprecatedSkipped},
		{"archived included", r.ArchivedIncluded},
		{"re-included", r.Reincluded},
		{"excluded", r.Excluded},
	}
	for _, s := range skipped {
		if s.n > 0 {
			fmt.Fprintf(w, "%-20s %d\n", s.label+":", s.n)
		}
	}

	names := make([]string, 0, len(r.Groups))
	for name := range r.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d source rules\n", name, r.Groups[name])
	}
}

func describeConditions(r types.Rule) string {
	parts := make([]string, len(r.Conditions))
	for i, c := range r.Conditions {
		parts[i] = fmt.Sprintf("%s %s %q", c.Type, c.Operator, strings.Join(c.Patterns(), "|"))
	}
	return strings.Join(parts, " "+strings.ToUpper(string(r.Logic))+" ")
}

func shortChecksum(sum string) string {
	sum = strings.TrimPrefix(sum, "sha256:")
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
