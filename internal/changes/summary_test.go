package changes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarize_DetectsAddedModifiedAndUnchangedFiles(t *testing.T) {
	before := FileSnapshot{
		"main.go":   "package main\n\nfunc main() {}\n",
		"unused.go": "package main\n",
	}
	after := FileSnapshot{
		"main.go":   "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		"unused.go": "package main\n",
		"new.go":    "package main\n\nvar x = 1\n",
	}

	got := Summarize(before, after)
	require.Len(t, got, 2, "unused.go is identical and must be excluded")

	paths := []string{got[0].Path, got[1].Path}
	require.Equal(t, []string{"main.go", "new.go"}, paths, "results are sorted by path")

	for _, c := range got {
		require.Positive(t, c.Additions, "every reported file must have grown")
	}
}

func TestSummarize_EmptyWhenSnapshotsMatch(t *testing.T) {
	snap := FileSnapshot{"a.go": "package a\n"}
	got := Summarize(snap, snap)
	require.Empty(t, got)
	require.Equal(t, "no changes", FormatSummary(got))
}

func TestFormatSummary_RendersOneLinePerFile(t *testing.T) {
	got := FormatSummary([]FileChange{
		{Path: "a.go", Additions: 3, Deletions: 1},
		{Path: "b.go", Additions: 0, Deletions: 5},
	})
	require.Equal(t, "a.go (+3/-1)\nb.go (+0/-5)", got)
}
