package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/electric/internal/backend"
	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/store"
	"github.com/franz/electric/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure electric can operate correctly.

This command checks:
- Required tools (ffmpeg)
- Optional tools (adb for Android remotes)
- The catalog and its lock
- Configured remote locations
- Journal accessibility and integrity
- Music root and artifacts directories
- Disk space availability

Use this command to troubleshoot issues before running an update.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	util.InfoLog("=== Electric Doctor - System Diagnostics ===")
	util.InfoLog("")

	runner := util.ExecRunner{}
	results := []checkResult{
		checkTool(runner, "ffmpeg", cfg.FFmpegBinary, []string{"-version"}, true),
		checkTool(runner, "adb (optional)", cfg.ADBBinary, []string{"version"}, false),
		checkSQLite(),
		checkDatabase(cfg.DB),
		checkCatalog(cfg.Catalog),
		checkRemotes(cfg.Remotes),
		checkMusicRoot(cfg.MusicRoot),
		checkWritableDirectory("Artifacts directory", cfg.Artifacts),
	}
	if util.FileExists(cfg.MusicRoot) {
		results = append(results, checkDiskSpace(cfg.MusicRoot, "music root"))
	}

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running electric.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed! System is ready.")
	}

	return nil
}

// checkTool runs a tool's version command and reports the version it
// prints. A missing optional tool is only a warning.
func checkTool(runner util.CommandRunner, name, binary string, args []string, required bool) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := runner.Run(ctx, binary, args)
	if err != nil {
		return checkResult{
			name:    name,
			error:   required,
			warning: !required,
			message: fmt.Sprintf("%s not found or not executable", binary),
		}
	}

	msg := fmt.Sprintf("version %s", parseVersion(string(output)))
	if path, err := util.LookPath(binary); err == nil {
		msg += fmt.Sprintf(" (%s)", path)
	}
	return checkResult{
		name:    name,
		message: msg,
	}
}

// parseVersion picks the token after "version" on the first line, as printed
// by both "ffmpeg -version" and "adb version"
func parseVersion(output string) string {
	line, _, _ := strings.Cut(output, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if strings.EqualFold(f, "version") && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return "unknown"
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies the journal is accessible and intact
func checkDatabase(dbPath string) checkResult {
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Journal",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "Journal",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Journal",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Journal",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Journal",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	version, _ := db.SchemaVersion()
	runs, _ := db.RecentRuns(1000)
	return checkResult{
		name:    "Journal",
		message: fmt.Sprintf("%s (%s, schema v%d, %d runs)", dbPath, util.FormatBytes(info.Size()), version, len(runs)),
	}
}

// checkCatalog verifies the catalog parses and is not locked by a stale run
func checkCatalog(path string) checkResult {
	c, err := catalog.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return checkResult{
			name:    "Catalog",
			warning: true,
			message: fmt.Sprintf("%s does not exist yet (created on first import)", path),
		}
	}
	if err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: err.Error(),
		}
	}

	lock, err := catalog.AcquireLock(path)
	if err != nil {
		return checkResult{
			name:    "Catalog",
			warning: true,
			message: fmt.Sprintf("%s (%d songs, %v)", path, c.Len(), err),
		}
	}
	lock.Release()

	st := c.Stats()
	msg := fmt.Sprintf("%s (%d songs, %d artists)", path, st.Songs, st.Artists)
	if st.Pending > 0 {
		return checkResult{
			name:    "Catalog",
			warning: true,
			message: fmt.Sprintf("%s, %d songs not imported yet", msg, st.Pending),
		}
	}
	return checkResult{name: "Catalog", message: msg}
}

// checkRemotes verifies every configured remote names a supported location
func checkRemotes(remotes map[string]string) checkResult {
	names := make([]string, 0, len(remotes))
	for name := range remotes {
		names = append(names, name)
	}
	sort.Strings(names)

	counts := make(map[backend.Kind]int)
	for _, name := range names {
		spec, err := backend.ParseSpec(remotes[name])
		if err != nil {
			return checkResult{
				name:    "Remotes",
				error:   true,
				message: fmt.Sprintf("%s: %v (supported kinds: %s)", name, err, supportedKinds()),
			}
		}
		counts[spec.Kind]++
	}

	if len(names) == 0 {
		return checkResult{name: "Remotes", message: fmt.Sprintf("none configured (supported kinds: %s)", supportedKinds())}
	}

	var parts []string
	for _, k := range backend.Kinds() {
		if counts[k] > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
		}
	}
	return checkResult{
		name:    "Remotes",
		message: fmt.Sprintf("%d configured (%s)", len(names), strings.Join(parts, ", ")),
	}
}

func supportedKinds() string {
	var out []string
	for _, k := range backend.Kinds() {
		out = append(out, string(k))
	}
	return strings.Join(out, ", ")
}

// checkMusicRoot verifies the local library is readable
func checkMusicRoot(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Music root",
				warning: true,
				message: fmt.Sprintf("%s does not exist yet (created on first import)", path),
			}
		}
		return checkResult{
			name:    "Music root",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Music root",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	count := 0
	for _, g := range catalog.Groups {
		entries, err := os.ReadDir(filepath.Join(path, string(g)))
		if err != nil && !os.IsNotExist(err) {
			return checkResult{
				name:    "Music root",
				error:   true,
				message: fmt.Sprintf("cannot read %s: %v", filepath.Join(path, string(g)), err),
			}
		}
		count += len(entries)
	}

	return checkResult{
		name:    "Music root",
		message: fmt.Sprintf("%s (%d entries)", path, count),
	}
}

// checkWritableDirectory verifies a directory exists, or can be created, and
// is writable
func checkWritableDirectory(name, path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    name,
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    name,
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	testFile := filepath.Join(path, ".electric_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    name,
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))

	usedPercent := 0.0
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	// Warn below 1 GiB free or above 95% used
	warning := false
	warningMsg := ""
	if availBytes < 1<<30 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 95 {
		warning = true
		warningMsg = " (>95% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", util.FormatBytes(int64(availBytes)), warningMsg),
	}
}
