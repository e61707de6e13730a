// Package diff renders textual differences between interface listings and
// between the before/after signatures of a changed symbol, using the
// sergi/go-diff engine.
package diff

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType represents the type of diff line
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Added line
	LineRemoved                 // Removed line
)

// Line is a single line of a listing diff.
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk is a group of changed lines with surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// ListingDiff is the difference between two surface listings.
type ListingDiff struct {
	OldLabel string
	NewLabel string
	Hunks    []Hunk
}

// Empty reports whether the listings were identical.
func (d *ListingDiff) Empty() bool { return len(d.Hunks) == 0 }

// Unified renders the diff in unified format.
func (d *ListingDiff) Unified() string {
	if d.Empty() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", d.OldLabel, d.NewLabel)
	for _, h := range d.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				b.WriteString("+")
			case LineRemoved:
				b.WriteString("-")
			default:
				b.WriteString(" ")
			}
			b.WriteString(l.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Engine computes diffs and caches listing diffs by content.
type Engine struct {
	dmp          *diffmatchpatch.DiffMatchPatch
	contextLines int
	cache        sync.Map
}

type cacheKey struct {
	oldHash uint64
	newHash uint64
}

// NewEngine creates an engine that keeps contextLines of context per hunk.
func NewEngine(contextLines int) *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp, contextLines: contextLines}
}

// DefaultEngine keeps three lines of context.
var DefaultEngine = NewEngine(3)

// Listings diffs two one-symbol-per-line listings.
func (e *Engine) Listings(oldLabel, newLabel, oldListing, newListing string) *ListingDiff {
	key := cacheKey{xxhash.Sum64String(oldListing), xxhash.Sum64String(newListing)}
	if cached, ok := e.cache.Load(key); ok {
		result := *cached.(*ListingDiff)
		result.OldLabel = oldLabel
		result.NewLabel = newLabel
		return &result
	}

	// Line-level reduction avoids splitting in the middle of a signature.
	a, b, lineArray := e.dmp.DiffLinesToChars(oldListing, newListing)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	out := &ListingDiff{
		OldLabel: oldLabel,
		NewLabel: newLabel,
		Hunks:    groupIntoHunks(toOperations(diffs), e.contextLines),
	}
	e.cache.Store(key, out)
	return out
}

// Listings diffs two listings with the default engine.
func Listings(oldLabel, newLabel, oldListing, newListing string) *ListingDiff {
	return DefaultEngine.Listings(oldLabel, newLabel, oldListing, newListing)
}

type operation struct {
	typ     LineType
	oldLine int
	newLine int
	content string
}

func toOperations(diffs []diffmatchpatch.Diff) []operation {
	var ops []operation
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" && d.Type != diffmatchpatch.DiffEqual {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, operation{LineContext, oldLine, newLine, line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, operation{LineRemoved, oldLine, -1, line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, operation{LineAdded, -1, newLine, line})
				newLine++
			}
		}
	}
	return ops
}

// groupIntoHunks groups operations into hunks with context.
func groupIntoHunks(ops []operation, contextLines int) []Hunk {
	var hunks []Hunk
	var current *Hunk
	lastChange := -1

	for i, op := range ops {
		if op.typ != LineContext {
			if current == nil {
				start := i - contextLines
				if start < 0 {
					start = 0
				}
				current = &Hunk{}
				for j := start; j < i; j++ {
					current.Lines = append(current.Lines, Line{ops[j].oldLine + 1, ops[j].content, LineContext})
				}
				current.OldStart, current.NewStart = hunkStart(ops, start)
			}
			lastChange = i
		}
		if current == nil {
			continue
		}

		if op.typ == LineContext && i-lastChange > contextLines && !changeWithin(ops, i, contextLines) {
			countHunk(current)
			hunks = append(hunks, *current)
			current = nil
			continue
		}

		lineNum := op.oldLine + 1
		if op.typ == LineAdded {
			lineNum = op.newLine + 1
		}
		current.Lines = append(current.Lines, Line{lineNum, op.content, op.typ})
	}
	if current != nil {
		countHunk(current)
		hunks = append(hunks, *current)
	}
	return hunks
}

// changeWithin reports whether a change follows ops[i] within n lines, in
// which case the hunk continues instead of starting a new one.
func changeWithin(ops []operation, i, n int) bool {
	for j := i + 1; j <= i+n && j < len(ops); j++ {
		if ops[j].typ != LineContext {
			return true
		}
	}
	return false
}

// hunkStart returns the 1-based old and new line numbers where a hunk
// beginning at ops[i] starts.
func hunkStart(ops []operation, i int) (int, int) {
	oldStart, newStart := 0, 0
	for j := i; j < len(ops); j++ {
		if oldStart == 0 && ops[j].oldLine >= 0 {
			oldStart = ops[j].oldLine + 1
		}
		if newStart == 0 && ops[j].newLine >= 0 {
			newStart = ops[j].newLine + 1
		}
		if oldStart != 0 && newStart != 0 {
			break
		}
	}
	return oldStart, newStart
}

func countHunk(h *Hunk) {
	for _, line := range h.Lines {
		if line.Type != LineAdded {
			h.OldCount++
		}
		if line.Type != LineRemoved {
			h.NewCount++
		}
	}
}

// Segment is a run of text in an inline diff.
type Segment struct {
	Text string
	Type LineType
}

// Inline computes a word-level diff of two signatures.
func (e *Engine) Inline(before, after string) []Segment {
	diffs := e.dmp.DiffMain(before, after, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	out := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		seg := Segment{Text: d.Text}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			seg.Type = LineAdded
		case diffmatchpatch.DiffDelete:
			seg.Type = LineRemoved
		}
		out = append(out, seg)
	}
	return out
}

// Inline diffs two signatures with the default engine.
func Inline(before, after string) []Segment {
	return DefaultEngine.Inline(before, after)
}

// InlineMarkup renders an inline diff as plain text, marking removals with
// [-...-] and additions with {+...+}.
func InlineMarkup(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		switch s.Type {
		case LineAdded:
			b.WriteString("{+" + s.Text + "+}")
		case LineRemoved:
			b.WriteString("[-" + s.Text + "-]")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
