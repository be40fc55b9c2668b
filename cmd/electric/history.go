package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franz/electric/internal/store"
	"github.com/franz/electric/internal/util"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recent runs, or the operations of one run",
	Long: `Show the most recent runs from the journal. With a run id (or a unique
prefix of one), show every operation journaled for that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if !util.FileExists(cfg.DB) {
		util.InfoLog("No runs recorded yet")
		return nil
	}
	db, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		run, err := findRun(db, args[0])
		if err != nil {
			return err
		}
		ops, err := db.GetOperations(run.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Run %s (%s) %s\n", run.ID, run.Command, run.Status)
		if run.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", run.Error)
		}
		if len(ops) == 0 {
			fmt.Fprintln(out, "No operations journaled")
			return nil
		}
		fmt.Fprintln(out, operationsTable(ops))
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := db.RecentRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		util.InfoLog("No runs recorded yet")
		return nil
	}
	fmt.Fprintln(out, runsTable(runs))
	return nil
}

// findRun resolves a full run id or a unique prefix of a recent one
func findRun(db *store.Store, id string) (*store.Run, error) {
	run, err := db.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run != nil {
		return run, nil
	}

	runs, err := db.RecentRuns(1000)
	if err != nil {
		return nil, err
	}
	var match *store.Run
	for _, r := range runs {
		if !strings.HasPrefix(r.ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: run id prefix %q is ambiguous", util.ErrInvalidConfig, id)
		}
		match = r
	}
	if match == nil {
		return nil, fmt.Errorf("%w: run %s", util.ErrNotFound, id)
	}
	return match, nil
}

func runsTable(runs []*store.Run) string {
	headers := []string{"Started", "Run", "Command", "Status", "Transfers", "Renames", "Prunes", "Warnings", "Failures", "Written"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		status := r.Status
		if r.DryRun {
			status += " (dry run)"
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			shortID(r.ID),
			r.Command,
			status,
			strconv.Itoa(r.Transfers),
			strconv.Itoa(r.Renames),
			strconv.Itoa(r.Prunes),
			strconv.Itoa(r.Warnings),
			strconv.Itoa(r.Failures),
			util.FormatBytes(r.BytesWritten),
		})
	}
	return renderTable(headers, rows, aligns)
}

func operationsTable(ops []*store.Operation) string {
	headers := []string{"Backend", "Kind", "Song", "Destination", "Status", "Written", "Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft}

	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		song := ""
		if op.Song > 0 {
			song = strconv.Itoa(op.Song)
		}
		rows = append(rows, []string{
			op.Backend,
			op.Kind,
			song,
			op.Dest,
			op.Status,
			util.FormatBytes(op.BytesWritten),
			op.Error,
		})
	}
	return renderTable(headers, rows, aligns)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
