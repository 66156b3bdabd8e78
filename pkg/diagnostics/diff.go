package diagnostics

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ContextDiff renders a unified diff between an original and a patched
// module source. Minified sources are often a single line, so both sides
// are first split at statement and block boundaries to keep hunks readable.
func ContextDiff(name, before, after string, context int) string {
	if before == after {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(splitStatements(before)),
		B:        difflib.SplitLines(splitStatements(after)),
		FromFile: name + " (original)",
		ToFile:   name + " (patched)",
		Context:  context,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil || text == "" {
		return fmt.Sprintf("--- %s (original)\n+++ %s (patched)\n-%s\n+%s\n", name, name, before, after)
	}
	return text
}

func splitStatements(src string) string {
	r := strings.NewReplacer(";", ";\n", "{", "{\n", "}", "\n}")
	return r.Replace(src)
}
