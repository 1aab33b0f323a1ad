// Package changes is the thin, explicitly out-of-core boundary for the
// changes-summary event path: the git-diff summarizer itself is out of
// scope, but the event it reports is not, so this package produces a
// plausible diff-based summary from two in-memory file snapshots without
// depending on git.
package changes

import (
	"fmt"
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// FileSnapshot is one file's full content at a point in time, keyed by its
// workspace-relative path.
type FileSnapshot map[string]string

// FileChange summarizes one file's edit between two snapshots.
type FileChange struct {
	Path      string
	Additions int
	Deletions int
}

// Summarize diffs before against after file-by-file and returns one
// FileChange per path that differs (added, removed, or modified), sorted
// by path for a deterministic summary string.
func Summarize(before, after FileSnapshot) []FileChange {
	dmp := diffmatchpatch.New()

	paths := make(map[string]struct{}, len(before)+len(after))
	for p := range before {
		paths[p] = struct{}{}
	}
	for p := range after {
		paths[p] = struct{}{}
	}

	var changes []FileChange
	for path := range paths {
		oldContent, after1 := before[path], after[path]
		if oldContent == after1 {
			continue
		}
		diffs := dmp.DiffMain(oldContent, after1, false)
		additions, deletions := 0, 0
		for _, d := range diffs {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				additions += len(d.Text)
			case diffmatchpatch.DiffDelete:
				deletions += len(d.Text)
			}
		}
		changes = append(changes, FileChange{Path: path, Additions: additions, Deletions: deletions})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// FormatSummary renders Summarize's result as the one-line-per-file string
// the changes-summary event carries.
func FormatSummary(changes []FileChange) string {
	if len(changes) == 0 {
		return "no changes"
	}
	out := ""
	for i, c := range changes {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%s (+%d/-%d)", c.Path, c.Additions, c.Deletions)
	}
	return out
}
