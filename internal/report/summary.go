package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/franz/electric/internal/store"
	"github.com/franz/electric/internal/util"
)

// SummaryReport describes one journaled run
type SummaryReport struct {
	GeneratedAt time.Time
	RunID       string
	Command     string
	Status      string
	DryRun      bool
	StartedAt   time.Time
	Duration    time.Duration

	// Plan totals
	Transfers int
	Renames   int
	Prunes    int
	Warnings  int

	// Execution totals
	Failures     int
	BytesWritten int64

	Backends  []BackendSummary
	FailedOps []FailedOp
	// WarningLines are the plan warnings, one per line
	WarningLines []string

	CatalogPath  string
	DatabasePath string
	EventLogPath string
}

// BackendSummary counts one backend's journaled operations
type BackendSummary struct {
	Backend string
	Done    int
	Failed  int
	Skipped int
	Bytes   int64
}

// FailedOp is a journaled operation that did not complete
type FailedOp struct {
	Backend string
	Kind    string
	Song    int
	Dest    string
	Error   string
}

// GenerateSummaryReport builds a report from a run and its operations
func GenerateSummaryReport(db *store.Store, runID, eventLogPath string) (*SummaryReport, error) {
	run, err := db.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run %s", util.ErrNotFound, runID)
	}

	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		RunID:        run.ID,
		Command:      run.Command,
		Status:       run.Status,
		DryRun:       run.DryRun,
		StartedAt:    run.StartedAt,
		Transfers:    run.Transfers,
		Renames:      run.Renames,
		Prunes:       run.Prunes,
		Warnings:     run.Warnings,
		Failures:     run.Failures,
		BytesWritten: run.BytesWritten,
		EventLogPath: eventLogPath,
	}
	if !run.FinishedAt.IsZero() {
		report.Duration = run.FinishedAt.Sub(run.StartedAt)
	}

	ops, err := db.GetOperations(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load operations: %w", err)
	}
	report.Backends = summarizeBackends(ops)
	for _, op := range ops {
		if op.Status == store.StatusFailed {
			report.FailedOps = append(report.FailedOps, FailedOp{
				Backend: op.Backend,
				Kind:    op.Kind,
				Song:    op.Song,
				Dest:    op.Dest,
				Error:   op.Error,
			})
		}
	}

	return report, nil
}

func summarizeBackends(ops []*store.Operation) []BackendSummary {
	byName := make(map[string]*BackendSummary)
	for _, op := range ops {
		s, ok := byName[op.Backend]
		if !ok {
			s = &BackendSummary{Backend: op.Backend}
			byName[op.Backend] = s
		}
		switch op.Status {
		case store.StatusDone:
			s.Done++
			s.Bytes += op.BytesWritten
		case store.StatusFailed:
			s.Failed++
		case store.StatusSkipped:
			s.Skipped++
		}
	}

	out := make([]BackendSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# Electric - Run Summary\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	md.WriteString(fmt.Sprintf("**Run:** `%s` (%s)\n\n", report.RunID, report.Command))
	if report.DryRun {
		md.WriteString("**Mode:** dry run, nothing was changed\n\n")
	}
	if report.CatalogPath != "" {
		md.WriteString(fmt.Sprintf("**Catalog:** `%s`\n\n", report.CatalogPath))
	}
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Status | %s |\n", report.Status))
	md.WriteString(fmt.Sprintf("| Transfers | %d |\n", report.Transfers))
	md.WriteString(fmt.Sprintf("| Renames | %d |\n", report.Renames))
	md.WriteString(fmt.Sprintf("| Prunes | %d |\n", report.Prunes))
	if report.Warnings > 0 {
		md.WriteString(fmt.Sprintf("| Warnings | %d |\n", report.Warnings))
	}
	if report.Failures > 0 {
		md.WriteString(fmt.Sprintf("| Failures | %d |\n", report.Failures))
	}
	md.WriteString(fmt.Sprintf("| Bytes Written | %s |\n", util.FormatBytes(report.BytesWritten)))
	if report.Duration > 0 {
		md.WriteString(fmt.Sprintf("| Duration | %s |\n", report.Duration.Round(time.Second)))
	}
	md.WriteString("\n")

	if len(report.Backends) > 0 {
		md.WriteString("## Backends\n\n")
		md.WriteString("| Backend | Done | Failed | Skipped | Written |\n")
		md.WriteString("|---------|------|--------|---------|---------|\n")
		for _, b := range report.Backends {
			md.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %s |\n",
				b.Backend, b.Done, b.Failed, b.Skipped, util.FormatBytes(b.Bytes)))
		}
		md.WriteString("\n")
	}

	if len(report.FailedOps) > 0 {
		md.WriteString("## Failed Operations\n\n")
		md.WriteString("| Backend | Operation | Song | Destination | Error |\n")
		md.WriteString("|---------|-----------|------|-------------|-------|\n")
		for _, op := range report.FailedOps {
			md.WriteString(fmt.Sprintf("| %s | %s | %d | `%s` | %s |\n",
				op.Backend, op.Kind, op.Song, truncatePath(op.Dest, 60), op.Error))
		}
		md.WriteString("\n")
	}

	if len(report.WarningLines) > 0 {
		md.WriteString("## Warnings\n\n")
		for _, w := range report.WarningLines {
			md.WriteString(fmt.Sprintf("- %s\n", w))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by electric*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
