package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/franz/electric/internal/backend"
	"github.com/franz/electric/internal/execute"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/util"
	"github.com/spf13/viper"
)

// localName is the backend name of the music root
const localName = "local"

// defaultADBTimeout bounds one adb invocation
const defaultADBTimeout = 30 * time.Second

// adbCallsPerOp is the most device commands one operation issues: a
// retagging rename pulls, then sends with mkdir, push and mv, then renames
const adbCallsPerOp = 5

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (ELECTRIC_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// GetConfigDuration retrieves a duration config value
func GetConfigDuration(key string, defaultValue time.Duration) time.Duration {
	val := viper.GetDuration(key)
	if val <= 0 {
		return defaultValue
	}
	return val
}

// GetConfigBool retrieves a bool config value
func GetConfigBool(key string) bool {
	return viper.GetBool(key)
}

// settings is the resolved configuration of one invocation
type settings struct {
	Root      string
	MusicRoot string
	Catalog   string
	Queue     string
	DB        string
	Artifacts string
	// Overrides holds this catalog's tag corrections
	Overrides string
	Layout    meta.Layout

	// Remotes maps remote names to location strings
	Remotes map[string]string

	Concurrency   int
	OpTimeout     time.Duration
	RetryAttempts int
	ADBTimeout    time.Duration
	ADBBinary     string
	FFmpegBinary  string

	DryRun bool
	Yes    bool
	Prune  bool
}

func loadSettings() (*settings, error) {
	root := GetConfigString("root", ".")
	layout, err := meta.LookupLayout(GetConfigString("layout", meta.DefaultLayoutName))
	if err != nil {
		return nil, err
	}

	s := &settings{
		Root:          root,
		MusicRoot:     GetConfigString("music_root", root),
		Catalog:       GetConfigString("catalog", filepath.Join(root, "manifest.txt")),
		Queue:         GetConfigString("queue", filepath.Join(root, "queue")),
		DB:            GetConfigString("db", filepath.Join(root, "electric.db")),
		Artifacts:     GetConfigString("artifacts", filepath.Join(root, "artifacts")),
		Overrides:     GetConfigString("overrides", filepath.Join(root, "overrides.yaml")),
		Layout:        layout,
		Remotes:       viper.GetStringMapString("remotes"),
		Concurrency:   GetConfigInt("concurrency", 2),
		OpTimeout:     GetConfigDuration("op_timeout", execute.DefaultOpTimeout),
		RetryAttempts: GetConfigInt("retry_attempts", 3),
		ADBTimeout:    GetConfigDuration("adb_timeout", defaultADBTimeout),
		ADBBinary:     GetConfigString("adb_binary", "adb"),
		FFmpegBinary:  GetConfigString("ffmpeg_binary", "ffmpeg"),
		DryRun:        GetConfigBool("dry_run"),
		Yes:           GetConfigBool("yes"),
		Prune:         GetConfigBool("prune"),
	}
	if s.Concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be positive", util.ErrInvalidConfig)
	}
	return s, nil
}

func (s *settings) backendOptions() backend.Options {
	return backend.Options{
		ADBBinary:     s.ADBBinary,
		Timeout:       s.ADBTimeout,
		RetryAttempts: s.RetryAttempts,
	}
}

// opBudget is the executor's per-operation timeout. It is never shorter than
// every device command of one operation running out all its retries.
func (s *settings) opBudget() time.Duration {
	attempts := max(s.RetryAttempts, 1)
	return max(s.OpTimeout, s.ADBTimeout*time.Duration(attempts*adbCallsPerOp))
}

// deriver builds the tag deriver from the built-in overrides and this
// catalog's own
func (s *settings) deriver() (*meta.Deriver, error) {
	overrides, err := meta.LoadOverridesFile(s.Overrides)
	if err != nil {
		return nil, err
	}
	return meta.NewDeriver(overrides), nil
}

// localBackend opens the music root
func (s *settings) localBackend() *backend.Local {
	return backend.NewLocal(localName, s.MusicRoot)
}

// remoteNames lists the configured remotes in name order
func (s *settings) remoteNames() []string {
	names := make([]string, 0, len(s.Remotes))
	for name := range s.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// openRemote resolves a remote argument: a configured remote name, or a
// location string used under its own spelling
func (s *settings) openRemote(arg string) (backend.Backend, error) {
	name, raw := arg, arg
	if spec, ok := s.Remotes[arg]; ok {
		raw = spec
	}
	if name == localName {
		return nil, fmt.Errorf("%w: %q names the local backend", util.ErrInvalidConfig, arg)
	}
	b, err := backend.Open(name, raw, s.backendOptions())
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", arg, err)
	}
	return b, nil
}
