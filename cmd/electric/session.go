package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/report"
	"github.com/franz/electric/internal/store"
	"github.com/franz/electric/internal/util"
)

// session is one mutating invocation: the catalog under its lock, the run
// journal and the event log
type session struct {
	cfg     *settings
	command string
	catalog *catalog.Catalog
	deriver *meta.Deriver
	lock    *catalog.Lock
	db      *store.Store
	logger  *report.EventLogger
	run     *store.Run

	// summarize writes a markdown summary with these warnings when the
	// run finishes
	summarize bool
	warnings  []string
}

// openSession locks and loads the catalog, opens the journal and starts a
// run. A missing catalog starts empty only when create is set.
func openSession(command string, create bool) (*session, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}

	lock, err := catalog.AcquireLock(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, command: command, lock: lock, logger: report.NullLogger()}

	if create {
		s.catalog, err = catalog.LoadOrEmpty(cfg.Catalog)
	} else {
		s.catalog, err = catalog.Load(cfg.Catalog)
	}
	if err != nil {
		s.release()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	s.deriver, err = cfg.deriver()
	if err != nil {
		s.release()
		return nil, err
	}

	s.db, err = store.Open(cfg.DB)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("%w: failed to open journal: %w", util.ErrPersistence, err)
	}

	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}
	logger, err := report.NewEventLogger(cfg.Artifacts, logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
	} else {
		s.logger = logger
		util.DebugLog("Event log: %s", logger.Path())
	}

	s.run = &store.Run{ID: uuid.NewString(), Command: command, DryRun: cfg.DryRun}
	s.logger.SetRunID(s.run.ID)
	if err := s.db.BeginRun(s.run); err != nil {
		s.release()
		return nil, fmt.Errorf("%w: %w", util.ErrPersistence, err)
	}
	s.logger.LogRun(command, store.StatusRunning, cfg.DryRun)

	return s, nil
}

// saveCatalog persists catalog mutations; dry runs never write
func (s *session) saveCatalog() error {
	if s.cfg.DryRun {
		return nil
	}
	if err := catalog.Save(s.cfg.Catalog, s.catalog); err != nil {
		return fmt.Errorf("%w: %w", util.ErrPersistence, err)
	}
	return nil
}

// finish records the outcome of the run and releases every resource
func (s *session) finish(runErr error) {
	s.run.Status = store.StatusOK
	if runErr != nil {
		s.run.Status = store.StatusFailed
		s.run.Error = runErr.Error()
	}
	if err := s.db.FinishRun(s.run); err != nil {
		util.WarnLog("Failed to record run outcome: %v", err)
	}
	s.logger.LogRun(s.command, s.run.Status, s.cfg.DryRun)
	if s.summarize {
		s.writeSummary()
	}
	s.release()
}

// writeSummary writes the markdown summary of the run
func (s *session) writeSummary() {
	summary, err := report.GenerateSummaryReport(s.db, s.run.ID, s.logger.Path())
	if err != nil {
		util.WarnLog("Failed to generate summary report: %v", err)
		return
	}
	summary.CatalogPath = s.cfg.Catalog
	summary.DatabasePath = s.cfg.DB
	summary.WarningLines = s.warnings

	timestamp := time.Now().Format("20060102-150405")
	reportPath := filepath.Join(s.cfg.Artifacts, "reports", timestamp, "summary.md")
	if err := report.WriteMarkdownReport(summary, reportPath); err != nil {
		util.WarnLog("Failed to write summary report: %v", err)
		return
	}
	util.InfoLog("Summary report saved to: %s", reportPath)
}

func (s *session) release() {
	if s.db != nil {
		s.db.Close()
	}
	s.logger.Close()
	if err := s.lock.Release(); err != nil {
		util.WarnLog("Failed to release catalog lock: %v", err)
	}
}

// confirm asks the operator to approve a plan. --yes approves without
// asking; without a terminal there is nobody to ask.
func confirm(cfg *settings, prompt string) (bool, error) {
	if cfg.Yes {
		return true, nil
	}
	if !util.Interactive() {
		return false, fmt.Errorf("%w: confirmation required, rerun with --yes", util.ErrInvalidConfig)
	}

	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
