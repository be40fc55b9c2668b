package execute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/electric/internal/backend"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/plan"
	"github.com/franz/electric/internal/report"
	"github.com/franz/electric/internal/store"
	"github.com/franz/electric/internal/util"
)

// DefaultOpTimeout bounds a single operation
const DefaultOpTimeout = 2 * time.Minute

// Executor applies a plan to a set of backends
type Executor struct {
	backends    map[string]backend.Backend
	store       *store.Store
	runID       string
	logger      *report.EventLogger
	dryRun      bool
	concurrency int
	opTimeout   time.Duration
	retry       *util.RetryConfig
	stagingDir  string
	onOp        func(op plan.Op, err error)
}

// Config holds executor configuration
type Config struct {
	// Backends maps every backend named in the plan, local included
	Backends    map[string]backend.Backend
	Store       *store.Store // optional operation journal
	RunID       string
	Logger      *report.EventLogger
	DryRun      bool
	Concurrency int // remote streams run at once
	OpTimeout   time.Duration
	Retry       *util.RetryConfig
	// StagingDir holds fetched files until they are retagged, and local
	// copies when the local backend is not on the filesystem; defaults to
	// os.TempDir()
	StagingDir string
	// OnOp is called after every operation, including skipped ones
	OnOp func(op plan.Op, err error)
}

// Failure is an operation that did not complete
type Failure struct {
	Backend string
	Op      string
	Song    int
	Err     error
}

// Report summarizes an execution
type Report struct {
	DryRun       bool
	Planned      int
	Succeeded    int
	Failed       int
	Skipped      int
	BytesWritten int64
	Failures     []Failure
	Duration     time.Duration

	mu sync.Mutex
}

// OK reports whether every attempted operation succeeded and none was skipped
func (r *Report) OK() bool {
	return r.Failed == 0 && r.Skipped == 0
}

func (r *Report) record(name string, op plan.Op, bytes int64, err error, skipped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case skipped:
		r.Skipped++
	case err != nil:
		r.Failed++
		r.Failures = append(r.Failures, Failure{Backend: name, Op: op.String(), Song: opSong(op), Err: err})
	default:
		r.Succeeded++
		r.BytesWritten += bytes
	}
}

// errSkipped marks an operation whose prerequisite failed
var errSkipped = errors.New("prerequisite failed")

// New creates a new executor
func New(cfg *Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = util.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = report.NullLogger()
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}

	return &Executor{
		backends:    cfg.Backends,
		store:       cfg.Store,
		runID:       cfg.RunID,
		logger:      cfg.Logger,
		dryRun:      cfg.DryRun,
		concurrency: cfg.Concurrency,
		opTimeout:   cfg.OpTimeout,
		retry:       cfg.Retry,
		stagingDir:  cfg.StagingDir,
		onOp:        cfg.OnOp,
	}
}

// Execute runs the local stream to completion, then every remote stream
// concurrently. Each stream is sequential. A failed operation is recorded and
// does not stop its stream or any other.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) (*Report, error) {
	start := time.Now()
	result := &Report{DryRun: e.dryRun}

	for _, name := range p.Backends() {
		if _, ok := e.backends[name]; !ok {
			return nil, fmt.Errorf("%w: backend %q is not configured", util.ErrInvalidConfig, name)
		}
	}
	local, ok := e.backends[p.Local]
	if !ok {
		return nil, fmt.Errorf("%w: local backend %q is not configured", util.ErrInvalidConfig, p.Local)
	}

	// Local names that failed to reach their canonical state; pushes that
	// read them are skipped
	unavailable := make(map[string]bool)

	for _, op := range p.Ops(p.Local) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if e.runOp(ctx, local, local, op, result, nil) != nil && op.Kind != plan.OpPrune {
			unavailable[opDest(op)] = true
		}
	}

	var remotes []string
	for _, name := range p.Backends() {
		if name != p.Local {
			remotes = append(remotes, name)
		}
	}

	workers := pool.New().WithMaxGoroutines(e.concurrency)
	for _, name := range remotes {
		b := e.backends[name]
		ops := p.Ops(name)
		workers.Go(func() {
			for _, op := range ops {
				if ctx.Err() != nil {
					return
				}
				e.runOp(ctx, local, b, op, result, unavailable)
			}
		})
	}
	workers.Wait()

	result.Duration = time.Since(start)
	if e.dryRun {
		util.InfoLog("Dry run: %d operations planned, nothing changed", result.Planned)
	} else {
		util.SuccessLog("Execution complete: %d succeeded, %d failed, %d skipped, %s written",
			result.Succeeded, result.Failed, result.Skipped, util.FormatBytes(result.BytesWritten))
	}

	return result, ctx.Err()
}

// runOp journals and performs a single operation on b
func (e *Executor) runOp(ctx context.Context, local, b backend.Backend, op plan.Op, result *Report, unavailable map[string]bool) error {
	name := b.Name()
	action := string(op.Kind)
	song := opSong(op)
	src, dest := opSrc(op), opDest(op)

	if e.dryRun {
		util.InfoLog("[dry-run] %s", op)
		e.logger.LogIntent(name, action, song, src, dest, true)
		result.mu.Lock()
		result.Planned++
		result.mu.Unlock()
		e.notify(op, nil)
		return nil
	}

	if op.Kind == plan.OpTransfer && op.Transfer.From == local.Name() && unavailable[op.Transfer.Source] {
		util.WarnLog("Skipping %s: local source not in place", op)
		e.logger.LogSkip(name, action, song, dest, "local source not in place")
		if e.store != nil {
			id, err := e.store.BeginOperation(e.journalEntry(name, op))
			if err == nil {
				e.store.FinishOperation(id, store.StatusSkipped, 0, errSkipped)
			}
		}
		result.record(name, op, 0, nil, true)
		e.notify(op, errSkipped)
		return errSkipped
	}

	util.InfoLog("%s", op)
	e.logger.LogIntent(name, action, song, src, dest, false)
	var opID int64
	if e.store != nil {
		id, err := e.store.BeginOperation(e.journalEntry(name, op))
		if err != nil {
			util.WarnLog("Failed to journal %s: %v", op, err)
		}
		opID = id
	}

	started := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	bytes, err := util.RetryWithBackoff(opCtx, e.retry, op.String(), func(ctx context.Context) (int64, error) {
		return e.perform(ctx, local, b, op)
	})
	cancel()

	if err != nil {
		util.ErrorLog("%s failed: %v", op, err)
	}
	e.logger.LogExecute(name, action, song, src, dest, bytes, time.Since(started), err)
	if e.store != nil && opID != 0 {
		status := store.StatusDone
		if err != nil {
			status = store.StatusFailed
		}
		if jerr := e.store.FinishOperation(opID, status, bytes, err); jerr != nil {
			util.WarnLog("Failed to journal outcome of %s: %v", op, jerr)
		}
	}

	result.record(name, op, bytes, err, false)
	e.notify(op, err)
	return err
}

// perform carries out op against b and returns the bytes written
func (e *Executor) perform(ctx context.Context, local, b backend.Backend, op plan.Op) (int64, error) {
	switch op.Kind {
	case plan.OpRename:
		// Retag under the old name so a failed retag leaves the stale name
		// behind and the next plan schedules the rename again
		r := op.Rename
		if r.Retag {
			if err := retag(ctx, b, r.From, r.Tags); err != nil {
				return 0, err
			}
		}
		return 0, b.Rename(ctx, r.From, r.To)

	case plan.OpTransfer:
		t := op.Transfer
		if t.To == local.Name() {
			return e.fetch(ctx, e.backends[t.From], local, t)
		}
		return e.push(ctx, local, b, t)

	case plan.OpPrune:
		return 0, b.Remove(ctx, op.Prune.Name)
	}
	return 0, fmt.Errorf("%w: operation %q", util.ErrUnsupported, op.Kind)
}

// fetch copies a remote file into the local backend. The file is staged
// and retagged first, so the canonical name only appears with fresh tags.
func (e *Executor) fetch(ctx context.Context, from, local backend.Backend, t *plan.Transfer) (int64, error) {
	if from == nil {
		return 0, fmt.Errorf("%w: backend %q is not configured", util.ErrInvalidConfig, t.From)
	}

	staged, cleanup, err := e.stage()
	if err != nil {
		return 0, err
	}
	defer cleanup()

	if err := from.Fetch(ctx, t.Source, staged); err != nil {
		return 0, err
	}
	if t.Retag {
		blob, err := meta.EncodeTags(t.Tags)
		if err != nil {
			return 0, err
		}
		if err := meta.WriteTags(staged, blob); err != nil {
			return 0, err
		}
	}

	info, err := os.Stat(staged)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", util.ErrNotFound, err)
	}
	if err := local.Send(ctx, staged, t.Dest); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// push copies a local file to a remote backend
func (e *Executor) push(ctx context.Context, local, to backend.Backend, t *plan.Transfer) (int64, error) {
	src := ""
	if pather, ok := local.(backend.Pather); ok {
		src = pather.Path(t.Source)
	} else {
		staged, cleanup, err := e.stage()
		if err != nil {
			return 0, err
		}
		defer cleanup()
		if err := local.Fetch(ctx, t.Source, staged); err != nil {
			return 0, err
		}
		src = staged
	}

	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", util.ErrNotFound, err)
	}
	if err := to.Send(ctx, src, t.Dest); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// stage reserves a temporary file path and returns a cleanup func
func (e *Executor) stage() (string, func(), error) {
	dir, err := os.MkdirTemp(e.stagingDir, "electric-stage-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return filepath.Join(dir, "file"+meta.Ext), func() { os.RemoveAll(dir) }, nil
}

func retag(ctx context.Context, b backend.Backend, name string, tags meta.Tags) error {
	blob, err := meta.EncodeTags(tags)
	if err != nil {
		return err
	}
	return b.Retag(ctx, name, blob)
}

func (e *Executor) journalEntry(name string, op plan.Op) *store.Operation {
	return &store.Operation{
		RunID:   e.runID,
		Backend: name,
		Kind:    string(op.Kind),
		Song:    opSong(op),
		Src:     opSrc(op),
		Dest:    opDest(op),
	}
}

func (e *Executor) notify(op plan.Op, err error) {
	if e.onOp != nil {
		e.onOp(op, err)
	}
}

func opSong(op plan.Op) int {
	switch op.Kind {
	case plan.OpRename:
		return op.Rename.Song
	case plan.OpTransfer:
		return op.Transfer.Song
	}
	return 0
}

func opSrc(op plan.Op) string {
	switch op.Kind {
	case plan.OpRename:
		return op.Rename.From
	case plan.OpTransfer:
		return op.Transfer.Source
	case plan.OpPrune:
		return op.Prune.Name
	}
	return ""
}

func opDest(op plan.Op) string {
	switch op.Kind {
	case plan.OpRename:
		return op.Rename.To
	case plan.OpTransfer:
		return op.Transfer.Dest
	case plan.OpPrune:
		return op.Prune.Name
	}
	return ""
}
