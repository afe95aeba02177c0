// Package report renders a human-readable account of one scrub run.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/router-for-me/chatscrub/internal/analysis"
	"github.com/router-for-me/chatscrub/internal/payload"
	"github.com/router-for-me/chatscrub/internal/replay"
	"github.com/router-for-me/chatscrub/internal/toolcall"
)

const (
	separator    = "============================================================"
	maxListItems = 3

	// maxDiffBytes caps the inline diff. Character-level diffing is
	// quadratic in the worst case and reports stay readable without it.
	maxDiffBytes = 10000
)

// Input collects everything one scrub run produced. ToolCalls and Verdicts
// are optional; their sections are omitted when absent.
type Input struct {
	Source    string
	Patch     payload.PatchReport
	ToolCalls *toolcall.DocumentReport
	Verdicts  []replay.Verdict
}

// Render writes the report to w.
func Render(w io.Writer, in Input) error {
	var b strings.Builder
	writeHeader(&b, in)
	writeContent(&b, in.Patch.Hazards)
	if in.ToolCalls != nil {
		writeToolCalls(&b, in.ToolCalls)
	}
	writeTrace(&b, in.Patch)
	writeDiff(&b, in.Patch)
	if len(in.Verdicts) > 0 {
		writeVerdicts(&b, in.Verdicts)
	}
	b.WriteString(separator + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeHeader(b *strings.Builder, in Input) {
	b.WriteString(separator + "\n")
	source := in.Source
	if source == "" {
		source = "(unnamed)"
	}
	fmt.Fprintf(b, "scrub report: %s\n", source)
	b.WriteString(separator + "\n")

	patch := in.Patch
	if patch.MessagesPath != "" {
		fmt.Fprintf(b, "messages path:  %s\n", patch.MessagesPath)
	}
	fmt.Fprintf(b, "message count:  %d\n", patch.MessageCount)
	if patch.SelectedIndex >= 0 {
		fmt.Fprintf(b, "selected:       #%d (%s)\n", patch.SelectedIndex, patch.SelectedRole)
	}
	switch {
	case patch.Skipped != "":
		fmt.Fprintf(b, "skipped:        %s\n", patch.Skipped)
	case patch.Patched:
		fmt.Fprintf(b, "patched:        yes (%d -> %d bytes)\n", patch.BytesBefore, patch.BytesAfter)
	default:
		b.WriteString("patched:        no (content already clean)\n")
	}
}

func writeContent(b *strings.Builder, hazards analysis.HazardReport) {
	if hazards.Length == 0 && hazards.LineCount == 0 {
		return
	}
	b.WriteString("\ncontent\n")
	fmt.Fprintf(b, "  length:         %d bytes, %d runes, %d lines\n", hazards.Length, hazards.Runes, hazards.LineCount)
	if hazards.TokenEstimate > 0 {
		fmt.Fprintf(b, "  token estimate: %d\n", hazards.TokenEstimate)
	}
	if hazards.CJKRunes > 0 {
		fmt.Fprintf(b, "  cjk runes:      %d\n", hazards.CJKRunes)
	}
	if names := hazards.Flags.Names(); len(names) > 0 {
		fmt.Fprintf(b, "  flags:          %s\n", strings.Join(names, ", "))
	}
	writeHistogram(b, hazards.SpecialChars)
	writeList(b, "urls", hazards.URLs)
	if len(hazards.Links) > 0 {
		rendered := make([]string, 0, len(hazards.Links))
		for _, link := range hazards.Links {
			rendered = append(rendered, fmt.Sprintf("[%s](%s)", link.Label, link.Target))
		}
		writeList(b, "links", rendered)
	}
	writeList(b, "escapes", hazards.Escapes)
}

// writeHistogram prints special-character counts, highest first, ties in
// byte order so output is stable.
func writeHistogram(b *strings.Builder, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	b.WriteString("  special chars:\n")
	for _, key := range keys {
		fmt.Fprintf(b, "    %-4q %d\n", key, counts[key])
	}
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "  %s (%d):\n", label, len(items))
	shown := items
	if len(shown) > maxListItems {
		shown = shown[:maxListItems]
	}
	for _, item := range shown {
		fmt.Fprintf(b, "    - %s\n", item)
	}
	if rest := len(items) - len(shown); rest > 0 {
		fmt.Fprintf(b, "    ... and %d more\n", rest)
	}
}

func writeToolCalls(b *strings.Builder, doc *toolcall.DocumentReport) {
	b.WriteString("\ntool calls\n")
	fmt.Fprintf(b, "  calls:   %d\n", doc.Calls)
	fmt.Fprintf(b, "  changed: %d\n", doc.Changed)
	for _, msg := range doc.Messages {
		for _, rec := range msg.Recovered {
			id := rec.CallID
			if id == "" {
				id = fmt.Sprintf("call %d", rec.Index)
			}
			fmt.Fprintf(b, "  message #%d, %s: %s\n", msg.MessageIndex, id, rec.Reason)
		}
	}
}

func writeTrace(b *strings.Builder, patch payload.PatchReport) {
	if patch.Skipped != "" {
		return
	}
	b.WriteString("\nrewrite trace\n")
	if len(patch.Trace) == 0 {
		b.WriteString("  (no rules triggered)\n")
		return
	}
	width := 0
	for _, step := range patch.Trace {
		if len(step.Rule) > width {
			width = len(step.Rule)
		}
	}
	for _, step := range patch.Trace {
		fmt.Fprintf(b, "  %-*s %d -> %d bytes\n", width, step.Rule, step.LengthBefore, step.LengthAfter)
	}
}

// writeDiff renders an inline word diff of the selected content, deletions
// in [-..-] and insertions in {+..+}.
func writeDiff(b *strings.Builder, patch payload.PatchReport) {
	if !patch.Patched || patch.ContentBefore == patch.ContentAfter {
		return
	}
	b.WriteString("\ncontent diff\n")
	if len(patch.ContentBefore)+len(patch.ContentAfter) > maxDiffBytes {
		b.WriteString("  (omitted: content too large)\n")
		return
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(patch.ContentBefore, patch.ContentAfter, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	b.WriteString("  ")
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(b, "[-%s-]", d.Text)
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(b, "{+%s+}", d.Text)
		default:
			b.WriteString(d.Text)
		}
	}
	b.WriteString("\n")
}

func writeVerdicts(b *strings.Builder, verdicts []replay.Verdict) {
	b.WriteString("\nreplay verdicts\n")
	width := 0
	for _, v := range verdicts {
		if len(v.Name) > width {
			width = len(v.Name)
		}
	}
	for _, v := range verdicts {
		outcome := "rejected"
		if v.Accepted {
			outcome = "accepted"
		}
		fmt.Fprintf(b, "  %-*s %3d  %s", width, v.Name, v.Status, outcome)
		if v.Note != "" {
			fmt.Fprintf(b, "  %s", v.Note)
		}
		b.WriteString("\n")
	}
}
