package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/promptdeck-e2e/internal/outcome"
)

const bannerWidth = 60

// RenderConsole prints the header banner, every record and the summary.
func (r *Report) RenderConsole(w io.Writer) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", bannerWidth))
	fmt.Fprintln(w, "                 PROMPTDECK E2E REPORT")
	fmt.Fprintln(w, strings.Repeat("=", bannerWidth))
	fmt.Fprintf(w, "Timestamp: %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
	if r.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", r.RunID)
	}
	fmt.Fprintln(w, strings.Repeat("-", bannerWidth))

	group := ""
	for _, e := range r.Results {
		if e.Group != "" && e.Group != group {
			group = e.Group
			fmt.Fprintf(w, "\n## %s\n", group)
		}
		fmt.Fprintln(w, e.Snapshot().Render())
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", bannerWidth))
	fmt.Fprintf(w, "Total: %d  Passed: %d  Failed: %d  Skipped: %d", r.Summary.Total, r.Summary.Passed, r.Summary.Failed, r.Summary.Skipped)
	if r.Summary.Incomplete > 0 {
		fmt.Fprintf(w, "  Incomplete: %d", r.Summary.Incomplete)
	}
	fmt.Fprintf(w, "\nSuccess Rate: %s\n", r.Summary.SuccessRate)
	fmt.Fprintln(w, strings.Repeat("=", bannerWidth))

	if r.Summary.Failed > 0 {
		fmt.Fprintf(w, "\n⚠️  %d scenario(s) failed\n", r.Summary.Failed)
	} else if r.Summary.Incomplete == 0 {
		fmt.Fprintln(w, "\n✅ No failures")
	}
}

// Markdown renders the report as a Markdown document with one table per
// group.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# PromptDeck E2E Report\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Timestamp: %s\n", r.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Total: %d, passed: %d, failed: %d, skipped: %d", r.Summary.Total, r.Summary.Passed, r.Summary.Failed, r.Summary.Skipped)
	if r.Summary.Incomplete > 0 {
		fmt.Fprintf(&b, ", incomplete: %d", r.Summary.Incomplete)
	}
	fmt.Fprintf(&b, "\n- Success rate: **%s**\n", r.Summary.SuccessRate)

	group := "\x00"
	for _, e := range r.Results {
		if e.Group != group {
			group = e.Group
			title := group
			if title == "" {
				title = "Ungrouped"
			}
			fmt.Fprintf(&b, "\n## %s\n\n", title)
			b.WriteString("| Status | ID | Name | Duration | Error |\n")
			b.WriteString("|---|---|---|---|---|\n")
		}
		errText := ""
		if e.Error != nil {
			errText = *e.Error
		}
		fmt.Fprintf(&b, "| %s %s | %s | %s | %s | %s |\n",
			e.Status.Glyph(), e.Status, e.ID, escapeCell(e.Name),
			outcome.FormatSeconds(e.DurationSeconds), escapeCell(errText))
	}
	return b.String()
}

// HTML renders Markdown() to a sanitized HTML fragment.
func (r *Report) HTML() []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(r.Markdown()))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	out := markdown.Render(doc, renderer)

	return bluemonday.UGCPolicy().SanitizeBytes(out)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
