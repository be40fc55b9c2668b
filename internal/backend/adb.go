package backend

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/util"
)

// DefaultTimeout bounds a single device command when none is configured
const DefaultTimeout = 2 * time.Minute

// ADBConfig configures an Android device backend
type ADBConfig struct {
	Name   string
	Serial string
	Dir    string
	Binary string
	Runner util.CommandRunner
	// Timeout applies to each adb invocation
	Timeout time.Duration
	Retry   *util.RetryConfig
}

// ADB is a directory on an Android device reached through adb
type ADB struct {
	name    string
	serial  string
	dir     string
	binary  string
	runner  util.CommandRunner
	timeout time.Duration
	retry   *util.RetryConfig
}

// NewADB creates a device backend
func NewADB(cfg ADBConfig) *ADB {
	if cfg.Binary == "" {
		cfg.Binary = "adb"
	}
	if cfg.Runner == nil {
		cfg.Runner = util.ExecRunner{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = util.DeviceRetryConfig()
	}
	return &ADB{
		name:    cfg.Name,
		serial:  cfg.Serial,
		dir:     strings.TrimRight(cfg.Dir, "/"),
		binary:  cfg.Binary,
		runner:  cfg.Runner,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
	}
}

func (a *ADB) Name() string { return a.name }

func (a *ADB) devicePath(name string) string {
	return a.dir + "/" + name
}

// run executes one adb command under the per-call timeout, retrying
// transient device failures
func (a *ADB) run(ctx context.Context, args ...string) ([]byte, error) {
	if a.serial != "" {
		args = append([]string{"-s", a.serial}, args...)
	}
	op := fmt.Sprintf("%s %s", a.binary, strings.Join(args, " "))

	out, err := util.RetryWithBackoff(ctx, a.retry, op, func(ctx context.Context) ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.runner.Run(callCtx, a.binary, args)
	})
	if err != nil {
		return out, fmt.Errorf("%w: %s: %w", util.ErrTransport, a.name, err)
	}
	return out, nil
}

func (a *ADB) shell(ctx context.Context, script string) ([]byte, error) {
	return a.run(ctx, "shell", script)
}

// List finds audio files under the device directory
func (a *ADB) List(ctx context.Context) ([]string, error) {
	script := fmt.Sprintf("if [ -d %s ]; then find %s -type f -name '*%s'; fi",
		shellQuote(a.dir), shellQuote(a.dir), meta.Ext)
	out, err := a.shell(ctx, script)
	if err != nil {
		return nil, err
	}

	prefix := a.dir + "/"
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		name, ok := strings.CutPrefix(line, prefix)
		if !ok || name == "" {
			continue
		}
		if meta.Listable(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Fetch pulls a file into dest via a .part file
func (a *ADB) Fetch(ctx context.Context, name, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tempPath := dest + ".part"
	if _, err := a.run(ctx, "pull", a.devicePath(name), tempPath); err != nil {
		os.Remove(tempPath)
		return err
	}
	if err := util.SyncFile(tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename: %w", err)
	}
	return util.SyncDir(filepath.Dir(dest))
}

// Send pushes src to a .part file on the device, then moves it into place
func (a *ADB) Send(ctx context.Context, src, name string) error {
	target := a.devicePath(name)
	temp := target + ".part"

	if _, err := a.shell(ctx, "mkdir -p "+shellQuote(path.Dir(target))); err != nil {
		return err
	}
	if _, err := a.run(ctx, "push", src, temp); err != nil {
		return err
	}
	_, err := a.shell(ctx, fmt.Sprintf("mv -f %s %s", shellQuote(temp), shellQuote(target)))
	return err
}

// Retag pulls the file, splices the new tag locally and pushes it back
func (a *ADB) Retag(ctx context.Context, name string, blob []byte) error {
	dir, err := os.MkdirTemp("", "electric-retag-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, path.Base(name))
	if err := a.Fetch(ctx, name, local); err != nil {
		return err
	}
	if err := meta.WriteTags(local, blob); err != nil {
		return err
	}
	return a.Send(ctx, local, name)
}

func (a *ADB) Rename(ctx context.Context, from, to string) error {
	target := a.devicePath(to)
	script := fmt.Sprintf("mkdir -p %s && mv -n %s %s",
		shellQuote(path.Dir(target)), shellQuote(a.devicePath(from)), shellQuote(target))
	_, err := a.shell(ctx, script)
	return err
}

func (a *ADB) Remove(ctx context.Context, name string) error {
	_, err := a.shell(ctx, "rm -f "+shellQuote(a.devicePath(name)))
	return err
}

// shellQuote quotes s for the device shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
