// internal/script/merge.go
package script

import (
	"regexp"
	"strings"

	"github.com/solatis/sievefold/internal/types"
)

/*
 * Merging generated output into an existing script.
 *
 * The generated section sits between BeginMarker and EndMarker. Merging
 * replaces an existing section in place or appends one, leaving every other
 * line of the existing script untouched. Afterwards all require statements
 * collapse into one statement at the top holding the union of capabilities.
 *
 * Markers are matched as whole lines (surrounding whitespace ignored). Any
 * other line mentioning the marker tag, a second BEGIN or END, or an END
 * before its BEGIN makes the merge fail rather than guess.
 */

var (
	requirePattern = regexp.MustCompile(`(?m)^[ \t]*require[ \t]+(\[[^\]]*\]|"(?:[^"\\]|\\.)*")[ \t]*;[ \t]*\r?\n?`)
	stringPattern  = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	escapePattern  = regexp.MustCompile(`\\(.)`)
)

// markerSpan locates a section within a text.
type markerSpan struct {
	found bool
	start int // offset of the BEGIN line
	end   int // offset just past the END marker text
}

// MergeWithExisting places the generated section into existing. The result
// always holds exactly one BEGIN and one END marker.
func MergeWithExisting(generated, existing string) (string, error) {
	section, err := Section(generated)
	if err != nil {
		return "", err
	}
	if _, err := findSection(existing); err != nil {
		return "", err
	}

	caps := make(map[string]bool)
	for _, c := range Capabilities(generated) {
		caps[c] = true
	}
	for _, c := range Capabilities(existing) {
		caps[c] = true
	}

	body := requirePattern.ReplaceAllString(existing, "")
	span, err := findSection(body)
	if err != nil {
		return "", err
	}

	if span.found {
		body = body[:span.start] + section + body[span.end:]
	} else if strings.TrimSpace(body) == "" {
		body = section + "\n"
	} else if strings.HasSuffix(body, "\n") {
		body += "\n" + section + "\n"
	} else {
		body += "\n\n" + section + "\n"
	}

	var b strings.Builder
	if len(caps) > 0 {
		b.WriteString(requireStatement(sortedKeys(caps)))
		b.WriteString("\n")
		// A blank line separates the require statement from the body
		// unless the body already starts with one.
		if !strings.HasPrefix(body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString(body)
	return b.String(), nil
}

// Section returns the marked section of a text, markers included, without a
// trailing newline.
func Section(text string) (string, error) {
	span, err := findSection(text)
	if err != nil {
		return "", err
	}
	if !span.found {
		return "", &types.MarkerError{Marker: BeginMarker, Reason: "no generated section"}
	}
	return text[span.start:span.end], nil
}

// Capabilities lists the unescaped capabilities named by every require
// statement, in first-seen order without duplicates.
func Capabilities(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, stmt := range requirePattern.FindAllStringSubmatch(text, -1) {
		for _, m := range stringPattern.FindAllStringSubmatch(stmt[1], -1) {
			c := escapePattern.ReplaceAllString(m[1], "$1")
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// findSection validates the markers of a text and returns the section span.
func findSection(text string) (markerSpan, error) {
	var span markerSpan
	begins, ends := 0, 0
	offset := 0

	lines := strings.SplitAfter(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		lineNo := i + 1
		switch {
		case trimmed == BeginMarker:
			begins++
			if begins > 1 {
				return span, &types.MarkerError{Marker: BeginMarker, Line: lineNo, Reason: "duplicate BEGIN marker"}
			}
			span.start = offset
		case trimmed == EndMarker:
			ends++
			if ends > 1 {
				return span, &types.MarkerError{Marker: EndMarker, Line: lineNo, Reason: "duplicate END marker"}
			}
			if begins == 0 {
				return span, &types.MarkerError{Marker: EndMarker, Line: lineNo, Reason: "END marker before BEGIN marker"}
			}
			span.end = offset + strings.Index(line, EndMarker) + len(EndMarker)
		case strings.Contains(line, markerTag):
			return span, &types.MarkerError{Marker: trimmed, Line: lineNo, Reason: "unrecognized marker line"}
		}
		offset += len(line)
	}

	switch {
	case begins == 1 && ends == 0:
		return span, &types.MarkerError{Marker: EndMarker, Reason: "BEGIN marker without END marker"}
	case begins == 0 && ends == 0:
		return span, nil
	}
	span.found = true
	return span, nil
}
