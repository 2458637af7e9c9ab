package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/review"
)

// WriteMarkdown writes rep as a markdown document.
func WriteMarkdown(w io.Writer, rep Report) error {
	var b strings.Builder
	b.WriteString("# reviewgate Report\n\n")

	generated := rep.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	b.WriteString("## Project Information\n\n")
	fmt.Fprintf(&b, "- **Path**: %s\n", orUnknown(rep.ProjectPath))
	fmt.Fprintf(&b, "- **Type**: %s\n", orUnknown(rep.ProjectType))
	fmt.Fprintf(&b, "- **Git Repository**: %s\n", yesNo(rep.IsGitRepo))
	fmt.Fprintf(&b, "- **Generated**: %s\n", generated.UTC().Format(time.RFC3339))

	o := rep.Outcome
	if o != nil {
		if o.RunID != "" {
			fmt.Fprintf(&b, "- **Run**: %s\n", o.RunID)
		}
		fmt.Fprintf(&b, "- **Policy**: %s\n", o.Policy)

		b.WriteString("\n## Quality Gates\n\n")
		b.WriteString("| Gate | Status | Duration |\n|------|--------|----------|\n")
		for _, r := range o.Results {
			fmt.Fprintf(&b, "| %s | %s %s | %s |\n", r.Tool, statusIcon(r.Status), statusLabel(r.Status), FormatDuration(r.Duration))
		}

		for _, r := range o.Results {
			if r.Status == orchestrator.StatusPassed || r.Status == orchestrator.StatusSkipped {
				continue
			}
			out := strings.TrimSpace(r.Output())
			if out == "" {
				continue
			}
			fmt.Fprintf(&b, "\n### %s output\n\n```\n%s\n```\n", r.Tool, review.TailLines(out, markdownOutputLines))
		}

		if len(o.Suggestions) > 0 {
			b.WriteString("\n## Recovery Suggestions\n\n")
			for _, s := range o.Suggestions {
				fmt.Fprintf(&b, "- **%s** (%s): `%s`", s.Tool, s.Status, s.Command)
				if s.Description != "" {
					b.WriteString(" - " + s.Description)
				}
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n## AI Review\n\n")
	switch {
	case strings.TrimSpace(rep.Review) != "":
		b.WriteString(strings.TrimSpace(rep.Review) + "\n")
	case rep.SkipReason != "":
		fmt.Fprintf(&b, "Skipped: %s\n", rep.SkipReason)
	default:
		b.WriteString("Skipped.\n")
	}

	if o != nil {
		b.WriteString("\n## Summary\n\n")
		if failed := failedTools(o); len(failed) > 0 {
			fmt.Fprintf(&b, "**%s**: review blocked by %s.\n", o.Overall, strings.Join(failed, ", "))
		} else if o.Overall == orchestrator.OverallAllPassed {
			b.WriteString("**all_passed**: every quality gate passed.\n")
		} else {
			fmt.Fprintf(&b, "**%s**: %s.\n", o.Overall, counts(o))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// SaveMarkdown writes the report to path, replacing it atomically.
func SaveMarkdown(path string, rep Report) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".report-*.md")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := WriteMarkdown(f, rep); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
