package txfs

import (
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// editKind enumerates the operations a diff is made of.
type editKind uint8

const (
	editReplace editKind = iota
	editDelete
	editInsert
)

// edit is a single operation over a line range of the previous
// version. start/end index into the old content; lines carry the
// replacement (or inserted) text with line terminators intact.
type edit struct {
	kind  editKind
	start int
	end   int
	lines []string
}

// fileDiff transforms one version's lines into the next.
// An empty op list means the versions are identical.
type fileDiff struct {
	ops []edit
}

// splitLines splits s after every newline, keeping terminators, so
// that joinLines(splitLines(s)) == s for every s. Empty input yields
// nil.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}

	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}

func joinLines(lines []string) string {
	return strings.Join(lines, "")
}

// computeDiff returns the edit sequence turning old into new, using
// the LCS matcher so the result is deterministic for a given input
// pair.
func computeDiff(oldLines, newLines []string) fileDiff {
	if slices.Equal(oldLines, newLines) {
		return fileDiff{}
	}

	matcher := difflib.NewMatcher(oldLines, newLines)

	var ops []edit

	for _, oc := range matcher.GetOpCodes() {
		switch oc.Tag {
		case 'r':
			ops = append(ops, edit{
				kind:  editReplace,
				start: oc.I1,
				end:   oc.I2,
				lines: slices.Clone(newLines[oc.J1:oc.J2]),
			})
		case 'd':
			ops = append(ops, edit{kind: editDelete, start: oc.I1, end: oc.I2})
		case 'i':
			ops = append(ops, edit{
				kind:  editInsert,
				start: oc.I1,
				end:   oc.I1,
				lines: slices.Clone(newLines[oc.J1:oc.J2]),
			})
		}
	}

	return fileDiff{ops: ops}
}

// applyDiff reconstructs the next version from the previous one.
// Ops come out of the matcher ordered by start index; applying them
// back to front keeps earlier indices valid.
func applyDiff(oldLines []string, d fileDiff) []string {
	result := slices.Clone(oldLines)

	for i := len(d.ops) - 1; i >= 0; i-- {
		op := d.ops[i]

		switch op.kind {
		case editReplace, editInsert:
			result = concatLines(result[:op.start], op.lines, result[op.end:])
		case editDelete:
			result = concatLines(result[:op.start], result[op.end:])
		}
	}

	return result
}

// concatLines is equivalent to slices.Concat, reimplemented because the
// locally pinned Go toolchain predates Go 1.22 (which introduced it).
func concatLines(ss ...[]string) []string {
	var n int
	for _, s := range ss {
		n += len(s)
	}
	out := make([]string, 0, n)
	for _, s := range ss {
		out = append(out, s...)
	}
	return out
}
