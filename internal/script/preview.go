package script

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders the change from the live script to the merged one, with
// three lines of context. Returns "" when the texts are equal.
func UnifiedDiff(live, merged, liveName, mergedName string) (string, error) {
	if live == merged {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(live),
		B:        difflib.SplitLines(merged),
		FromFile: liveName,
		ToFile:   mergedName,
		Context:  3,
	})
}

// UpToDate reports whether the live script already carries exactly the
// generated section and its capabilities. A live script without a section is
// never up to date.
func UpToDate(generated, live string) (bool, error) {
	want, err := Section(generated)
	if err != nil {
		return false, err
	}
	span, err := findSection(live)
	if err != nil || !span.found {
		return false, err
	}
	if live[span.start:span.end] != want {
		return false, nil
	}
	have := make(map[string]bool)
	for _, c := range Capabilities(live) {
		have[c] = true
	}
	for _, c := range Capabilities(generated) {
		if !have[c] {
			return false, nil
		}
	}
	return true, nil
}
