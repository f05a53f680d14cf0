package txfs

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_SplitLines_Round_Trips_Exactly(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no newline", "hello"},
		{"single line", "hello\n"},
		{"multi line", "a\nb\nc\n"},
		{"no trailing newline", "a\nb\nc"},
		{"blank lines", "\n\n\n"},
		{"unicode", "héllo\nwörld"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := joinLines(splitLines(tt.input))
			if got != tt.input {
				t.Fatalf("joinLines(splitLines(%q)) must round-trip; got %q", tt.input, got)
			}
		})
	}
}

func Test_ApplyDiff_Reconstructs_New_Content(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		old  string
		new  string
	}{
		{"empty to content", "", "hello world"},
		{"content to empty", "hello world", ""},
		{"identical", "same", "same"},
		{"replace middle", "a\nb\nc\n", "a\nX\nc\n"},
		{"insert lines", "a\nc\n", "a\nb\nc\n"},
		{"delete lines", "a\nb\nc\n", "a\nc\n"},
		{"full rewrite", "$1000", "$500"},
		{"append at end", "a\n", "a\nb\n"},
		{"prepend", "b\n", "a\nb\n"},
		{"newline added", "tail", "tail\n"},
		{"large shuffle", "1\n2\n3\n4\n5\n", "5\n3\n1\n2\n"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := computeDiff(splitLines(tt.old), splitLines(tt.new))

			got := joinLines(applyDiff(splitLines(tt.old), d))
			if got != tt.new {
				t.Fatalf("applyDiff(computeDiff(old, new), old) must equal new; got %q, want %q", got, tt.new)
			}
		})
	}
}

func Test_ComputeDiff_Is_Deterministic(t *testing.T) {
	t.Parallel()

	oldLines := splitLines("alpha\nbeta\ngamma\ndelta\n")
	newLines := splitLines("alpha\nGAMMA\ndelta\nepsilon\n")

	first := computeDiff(oldLines, newLines)
	second := computeDiff(oldLines, newLines)

	if diff := cmp.Diff(first, second, cmp.AllowUnexported(fileDiff{}, edit{})); diff != "" {
		t.Fatalf("computeDiff must be deterministic for identical inputs (-first +second):\n%s", diff)
	}
}

func Test_ComputeDiff_Returns_Empty_For_Identical_Content(t *testing.T) {
	t.Parallel()

	lines := splitLines("a\nb\n")

	d := computeDiff(lines, lines)
	if len(d.ops) != 0 {
		t.Fatalf("identical content must produce an empty diff; got %d ops", len(d.ops))
	}
}

func Test_ApplyDiff_Does_Not_Mutate_Old_Lines(t *testing.T) {
	t.Parallel()

	oldContent := "a\nb\nc\n"
	oldLines := splitLines(oldContent)

	d := computeDiff(oldLines, splitLines("X\nb\nY\n"))
	_ = applyDiff(oldLines, d)

	if got := joinLines(oldLines); got != oldContent {
		t.Fatalf("applyDiff must not mutate its input; got %q, want %q", got, oldContent)
	}
}

func Test_Diff_Handles_Many_Sequential_Edits(t *testing.T) {
	t.Parallel()

	content := ""

	var contents []string

	for i := 0; i < 50; i++ {
		content += strings.Repeat("x", i%7) + "\n"
		contents = append(contents, content)
	}

	prev := ""
	for i, want := range contents {
		d := computeDiff(splitLines(prev), splitLines(want))

		got := joinLines(applyDiff(splitLines(prev), d))
		if got != want {
			t.Fatalf("edit %d must reconstruct; got %q, want %q", i, got, want)
		}

		prev = want
	}
}
