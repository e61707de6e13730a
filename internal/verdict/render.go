package verdict

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/cockroachdb/errors"
	"github.com/charmbracelet/lipgloss"

	"apigate/internal/compat"
	"apigate/internal/diff"
)

// Color palette
var (
	Destructive = lipgloss.Color("#e53935") // Red
	Success     = lipgloss.Color("#8BC34A") // Lime Green
	Warning     = lipgloss.Color("#FFC107") // Yellow
	Info        = lipgloss.Color("#2196F3") // Blue
	Muted       = lipgloss.Color("#8a94a6")
)

// Styles holds the terminal report styles.
type Styles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Flagged lipgloss.Style
	Kind    map[compat.ChangeKind]lipgloss.Style
	Added   lipgloss.Style
	Removed lipgloss.Style
	Box     lipgloss.Style
}

// DefaultStyles returns the terminal report styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			MarginBottom(1),

		Muted: lipgloss.NewStyle().
			Foreground(Muted),

		Pass: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(Success).
			Padding(0, 1).
			Bold(true),

		Fail: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(Destructive).
			Padding(0, 1).
			Bold(true),

		Flagged: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(Warning).
			Padding(0, 1).
			Bold(true),

		Kind: map[compat.ChangeKind]lipgloss.Style{
			compat.Added:               lipgloss.NewStyle().Foreground(Success),
			compat.Removed:             lipgloss.NewStyle().Foreground(Destructive).Bold(true),
			compat.ChangedIncompatibly: lipgloss.NewStyle().Foreground(Destructive).Bold(true),
			compat.ChangedCompatibly:   lipgloss.NewStyle().Foreground(Info),
		},

		Added: lipgloss.NewStyle().
			Foreground(Success).
			Underline(true),

		Removed: lipgloss.NewStyle().
			Foreground(Destructive).
			Strikethrough(true),

		Box: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Muted),
	}
}

func (s Styles) status(st Status) string {
	switch st {
	case Pass:
		return s.Pass.Render(string(st))
	case Flagged:
		return s.Flagged.Render(string(st))
	default:
		return s.Fail.Render(string(st))
	}
}

// inline renders a changed signature with its edits highlighted.
func (s Styles) inline(before, after string) string {
	var b strings.Builder
	for _, seg := range diff.Inline(before, after) {
		switch seg.Type {
		case diff.LineAdded:
			b.WriteString(s.Added.Render(seg.Text))
		case diff.LineRemoved:
			b.WriteString(s.Removed.Render(seg.Text))
		default:
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// RenderText renders the report for a terminal.
func RenderText(r *Report, s Styles) string {
	var b strings.Builder

	title := fmt.Sprintf("apigate %s check", r.Check)
	if r.Trigger.PR > 0 {
		title += fmt.Sprintf(" for PR #%d", r.Trigger.PR)
	}
	b.WriteString(s.Title.Render(title) + "\n")
	if r.BaseRev != "" || r.HeadRev != "" {
		b.WriteString(s.Muted.Render(fmt.Sprintf("%s..%s  run %s", short(r.BaseRev), short(r.HeadRev), r.RunID)) + "\n")
	}
	b.WriteString("\n")

	if len(r.Entries) > 0 || r.Check == "semver" {
		sum := r.Summary
		b.WriteString(fmt.Sprintf("%d added, %d removed, %d changed incompatibly, %d changed compatibly\n\n",
			sum.Added, sum.Removed, sum.ChangedIncompatibly, sum.ChangedCompatibly))
	}

	for _, e := range r.Entries {
		style := s.Kind[e.Kind]
		b.WriteString(style.Render(fmt.Sprintf("%-20s", e.Kind)) + " " + e.ID + "\n")
		if e.Detail != "" {
			b.WriteString("    " + e.Detail + "\n")
		}
		if e.Kind == compat.ChangedIncompatibly || e.Kind == compat.ChangedCompatibly {
			b.WriteString("    " + s.inline(e.Before, e.After) + "\n")
		}
	}

	if r.Features != nil {
		if len(r.Entries) > 0 {
			b.WriteString("\n")
		}
		for _, res := range r.Features.Results {
			if len(res.Violations) == 0 {
				b.WriteString(s.Kind[compat.Added].Render("additive  ") + " feature " + res.Flag +
					s.Muted.Render(fmt.Sprintf(" (+%d symbols)", res.Added)) + "\n")
				continue
			}
			b.WriteString(s.Fail.Render("not additive") + " feature " + res.Flag + "\n")
			for _, e := range res.Violations {
				b.WriteString("    " + s.Kind[e.Kind].Render(string(e.Kind)) + " " + e.ID + ": " + e.Detail + "\n")
			}
		}
	}

	b.WriteString("\n")
	var verdict strings.Builder
	verdict.WriteString("Verdict: " + s.status(r.Verdict.Status))
	if r.Verdict.Reason != "" {
		verdict.WriteString("\n" + r.Verdict.Reason)
	}
	if r.Verdict.Fingerprint != "" {
		verdict.WriteString("\nfingerprint " + r.Verdict.Fingerprint)
	}
	if a := r.Verdict.Acknowledgment; a != nil {
		verdict.WriteString("\nacknowledged: " + a.Reason)
	}
	b.WriteString(s.Box.Render(verdict.String()) + "\n")
	return b.String()
}

// RenderMarkdown renders the report for $GITHUB_STEP_SUMMARY or a PR
// comment.
func RenderMarkdown(r *Report) string {
	var b strings.Builder

	icon := map[Status]string{Pass: "✅", Fail: "❌", Flagged: "⚠️"}[r.Verdict.Status]
	fmt.Fprintf(&b, "## %s apigate %s check: %s\n\n", icon, r.Check, r.Verdict.Status)
	if r.Trigger.PR > 0 {
		fmt.Fprintf(&b, "Pull request #%d, ", r.Trigger.PR)
	}
	fmt.Fprintf(&b, "comparing `%s` (merge base) with `%s`.\n\n", short(r.BaseRev), short(r.HeadRev))

	if r.Verdict.Reason != "" {
		fmt.Fprintf(&b, "> %s\n\n", r.Verdict.Reason)
	}

	if len(r.Entries) > 0 {
		sum := r.Summary
		fmt.Fprintf(&b, "| Added | Removed | Changed incompatibly | Changed compatibly |\n|---|---|---|---|\n| %d | %d | %d | %d |\n\n",
			sum.Added, sum.Removed, sum.ChangedIncompatibly, sum.ChangedCompatibly)

		b.WriteString("| Change | Symbol | Detail |\n|---|---|---|\n")
		for _, e := range r.Entries {
			fmt.Fprintf(&b, "| %s | `%s` | %s |\n", e.Kind, e.ID, escapeCell(e.Detail))
		}
		b.WriteString("\n")

		var changed []compat.Entry
		for _, e := range r.Entries {
			if e.Kind == compat.ChangedIncompatibly {
				changed = append(changed, e)
			}
		}
		if len(changed) > 0 {
			b.WriteString("<details><summary>Signature changes</summary>\n\n```diff\n")
			for _, e := range changed {
				fmt.Fprintf(&b, "- %s\n+ %s\n", e.Before, e.After)
			}
			b.WriteString("```\n\n</details>\n\n")
		}
	} else if r.Check == "semver" && r.Verdict.Reason == "" {
		b.WriteString("No public API changes.\n\n")
	}

	if r.Features != nil {
		b.WriteString("### Feature additivity\n\n| Feature | Result | Added symbols |\n|---|---|---|\n")
		for _, res := range r.Features.Results {
			result := "additive"
			if len(res.Violations) > 0 {
				result = fmt.Sprintf("**%d violations**", len(res.Violations))
			}
			fmt.Fprintf(&b, "| `%s` | %s | %d |\n", res.Flag, result, res.Added)
		}
		b.WriteString("\n")
		for _, v := range r.Features.Violations() {
			fmt.Fprintf(&b, "- `%s`: %s `%s`: %s\n", v.Flag, v.Entry.Kind, v.Entry.ID, escapeCell(v.Entry.Detail))
		}
		if !r.Features.Clean() {
			b.WriteString("\n")
		}
	}

	if r.Verdict.Fingerprint != "" {
		fmt.Fprintf(&b, "Change-set fingerprint: `%s`\n\n", r.Verdict.Fingerprint)
		if a := r.Verdict.Acknowledgment; a != nil {
			fmt.Fprintf(&b, "Acknowledged: %s\n", a.Reason)
		} else {
			b.WriteString("To accept this break (e.g. with a major version bump), add the fingerprint to the acknowledgments file.\n")
		}
	}
	return b.String()
}

// RenderPretty renders Markdown for a terminal with glamour.
func RenderPretty(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", errors.Wrap(err, "create markdown renderer")
	}
	return renderer.Render(markdown)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func short(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	if rev == "" {
		return "?"
	}
	return rev
}
