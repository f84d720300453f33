package query

import (
	"fmt"
	"strings"

	"github.com/necessary-nu/tracey/internal/model"
)

// RenderStatus formats a status report as display text.
func RenderStatus(r StatusReport) string {
	var b strings.Builder
	if r.ConfigError != "" {
		fmt.Fprintf(&b, "CONFIG ERROR: %s (showing the last good snapshot)\n", r.ConfigError)
	}
	fmt.Fprintf(&b, "Model version %d\n", r.Version)
	if len(r.Pairs) == 0 {
		b.WriteString("No specs configured.\n")
		return b.String()
	}

	for _, p := range r.Pairs {
		fmt.Fprintf(&b, "%s/%s: %d requirements, impl %.1f%% (%d covered, %d stale, %d uncovered), verify %.1f%%\n",
			p.Spec, p.Impl,
			p.Stats.Total,
			p.Stats.ImplPercent, p.Stats.CoveredImpl, p.Stats.Stale, p.Stats.Uncovered,
			p.Stats.VerifyPercent)
	}
	if r.Errors > 0 || r.Warns > 0 {
		fmt.Fprintf(&b, "Validation: %d errors, %d warnings\n", r.Errors, r.Warns)
	}
	return b.String()
}

// StatusLine is the one-line summary every AI-tool response starts
// with.
func StatusLine(r StatusReport) string {
	if len(r.Pairs) == 0 {
		return fmt.Sprintf("v%d | no specs configured", r.Version)
	}
	parts := make([]string, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		parts = append(parts, fmt.Sprintf("%s/%s %.0f%% impl, %.0f%% verify",
			p.Spec, p.Impl, p.Stats.ImplPercent, p.Stats.VerifyPercent))
	}
	line := fmt.Sprintf("v%d | %s", r.Version, strings.Join(parts, " | "))
	if r.Errors > 0 {
		line += fmt.Sprintf(" | %d errors", r.Errors)
	}
	if r.ConfigError != "" {
		line = "CONFIG ERROR: " + r.ConfigError + "\n" + line
	}
	return line
}

// RenderGroups formats a grouped requirement list.
func RenderGroups(title string, groups []Group) string {
	var b strings.Builder

	for _, g := range groups {
		fmt.Fprintf(&b, "## %s — %s/%s (%d)\n", title, g.Spec, g.Impl, g.Total)
		if g.Total == 0 {
			b.WriteString("(none)\n")
			continue
		}
		for _, sec := range g.Sections {
			fmt.Fprintf(&b, "\n### %s\n", sec.Heading)
			for _, item := range sec.Items {
				fmt.Fprintf(&b, "- %s (%s:%d)", item.ID, item.File, item.Line)
				if item.Excerpt != "" {
					fmt.Fprintf(&b, " — %s", item.Excerpt)
				}
				b.WriteByte('\n')
			}
		}
	}

	if len(groups) == 0 {
		return "No matching (spec, impl) pairs.\n"
	}
	return b.String()
}

// RenderUnmapped formats the reverse-coverage view.
func RenderUnmapped(results []UnmappedResult) string {
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "## unmapped — %s/%s\n", res.Spec, res.Impl)
		if res.File != "" {
			fmt.Fprintf(&b, "%s: %d units without references\n", res.File, len(res.Units))
			for _, u := range res.Units {
				name := u.Name
				if name == "" {
					name = "(anonymous)"
				}
				fmt.Fprintf(&b, "- %s %s lines %d-%d\n", u.Kind, name, u.StartLine, u.EndLine)
			}
			continue
		}
		renderTree(&b, res.Tree, 0)
	}
	if len(results) == 0 {
		return "No matching (spec, impl) pairs.\n"
	}
	return b.String()
}

func renderTree(b *strings.Builder, n *TreeNode, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	label := n.Path
	if idx := strings.LastIndexByte(label, '/'); idx >= 0 {
		label = label[idx+1:]
	}
	fmt.Fprintf(b, "%s%s — %d/%d units mapped (%.0f%%)\n", indent, label, n.Mapped, n.Units, n.Percent)
	for _, child := range n.Children {
		renderTree(b, child, depth+1)
	}
}

// RenderRule formats one requirement with its references.
func RenderRule(d *RuleDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (spec %s, version %d)\n", d.ID, d.Spec, d.Version)
	if len(d.Heading) > 0 {
		fmt.Fprintf(&b, "Section: %s\n", strings.Join(d.Heading, " > "))
	}
	fmt.Fprintf(&b, "Defined at %s:%d\n\n", d.File, d.Line)
	b.WriteString(d.Markdown)
	b.WriteString("\n\n### References\n")
	if len(d.Refs) == 0 {
		b.WriteString("(none)\n")
	}
	for _, ref := range d.Refs {
		fmt.Fprintf(&b, "- [%s] %s:%d (%s)\n", ref.Verb, ref.File, ref.Line, ref.Impl)
	}
	for impl, cov := range d.Coverage {
		fmt.Fprintf(&b, "\nCoverage in %s: impl=%v verify=%v stale=%v\n",
			impl, cov.CoveredImpl, cov.CoveredVerify, cov.Stale)
	}
	return b.String()
}

// RenderValidation formats the full error report.
func RenderValidation(r ValidationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation at version %d: %d errors, %d warnings\n",
		r.Version, len(r.Errors), len(r.Warnings))

	writeIssues := func(title string, issues []model.Issue) {
		if len(issues) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n### %s\n", title)
		for _, is := range issues {
			loc := is.File
			if is.Line > 0 {
				loc = fmt.Sprintf("%s:%d", is.File, is.Line)
			}
			if loc != "" {
				fmt.Fprintf(&b, "- [%s] %s (%s)\n", is.Code, is.Message, loc)
			} else {
				fmt.Fprintf(&b, "- [%s] %s\n", is.Code, is.Message)
			}
			for _, sug := range is.Suggestions {
				fmt.Fprintf(&b, "  did you mean %s?\n", sug)
			}
		}
	}

	writeIssues("Errors", r.Errors)
	writeIssues("Warnings", r.Warnings)
	return b.String()
}
