// Package diffutil renders a human-readable unified diff between two
// competing file contents, purely for attaching to a trace span as a
// debugging aid when a structural-operation race resolves one writer as the
// loser. It has no role in CRDT merge logic.
package diffutil

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// MaxBytes guards against generating a diff for huge competing contents;
// past this combined size a placeholder is returned instead.
const MaxBytes = 256 * 1024

// Unified produces a classic unified patch from winner to loser content,
// so a reader can see exactly what the losing write would have changed.
func Unified(path string, winner, loser string) string {
	if len(winner)+len(loser) > MaxBytes {
		return "# diff omitted (oversize)\n"
	}
	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(winner),
		B:        splitLinesKeepNL(loser),
		FromFile: "winner:" + path,
		ToFile:   "loser:" + path,
		Context:  3,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil || s == "" {
		return "# no textual difference\n"
	}
	return s
}

func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}
