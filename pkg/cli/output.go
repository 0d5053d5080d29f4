package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ekaya-inc/querysight/pkg/models"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	cachedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
)

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable returns a table with the house border style.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...)
}

func heading(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render(title))
}

func renderRunReport(w io.Writer, r *models.RunReport) {
	fmt.Fprintf(w, "%s %s (level %s)\n", headingStyle.Render("Run"), r.RunID, r.Level)
	fmt.Fprintf(w, "Records processed: %d\n", r.RecordsProcessed)
	if r.RecordsSkipped > 0 {
		reasons := make([]string, 0, len(r.SkipReasons))
		for reason := range r.SkipReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		parts := make([]string, 0, len(reasons))
		for _, reason := range reasons {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, r.SkipReasons[reason]))
		}
		fmt.Fprintf(w, "Records skipped:   %d (%s)\n", r.RecordsSkipped, strings.Join(parts, ", "))
	}

	t := newTable("STAGE", "OUTCOME", "DURATION")
	for _, s := range r.Stages {
		outcome := string(s.Outcome)
		switch s.Outcome {
		case models.StageOutcomeFailed:
			outcome = failedStyle.Render(outcome)
		case models.StageOutcomeCached:
			outcome = cachedStyle.Render(outcome)
		}
		t.Row(string(s.Stage), outcome, s.Duration.Round(time.Millisecond).String())
	}
	fmt.Fprintln(w, t.Render())

	for _, s := range r.Stages {
		if s.Error != "" {
			fmt.Fprintf(w, "%s %s: %s\n", failedStyle.Render("error"), s.Stage, s.Error)
		}
	}
}

// shortID trims a pattern id for table display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatMs(ms float64) string {
	switch {
	case ms >= 1000:
		return fmt.Sprintf("%.2fs", ms/1000)
	case ms >= 10:
		return fmt.Sprintf("%.0fms", ms)
	default:
		return fmt.Sprintf("%.1fms", ms)
	}
}

func formatBytes(b float64) string {
	const unit = 1024.0
	if b < unit {
		return fmt.Sprintf("%.0fB", b)
	}
	div, exp := unit, 0
	for n := b / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", b/div, "KMGTP"[exp])
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}

func renderPatternRows(w io.Writer, rows []models.PatternRow) {
	t := newTable("PATTERN", "KIND", "COUNT", "AVG", "MEMORY", "TABLES", "MODELS")
	for _, row := range rows {
		mapped := "-"
		if row.Mapping != nil {
			mapped = joinOrDash(row.Mapping.Models)
		}
		t.Row(
			shortID(row.Pattern.PatternID),
			string(row.Pattern.Kind),
			fmt.Sprintf("%d", row.Pattern.Count),
			formatMs(row.Pattern.AvgDurationMs),
			formatBytes(row.Pattern.AvgMemoryBytes),
			joinOrDash(row.Pattern.Tables),
			mapped,
		)
	}
	fmt.Fprintln(w, t.Render())
}
