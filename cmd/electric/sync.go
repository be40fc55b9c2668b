package main

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/franz/electric/internal/backend"
	"github.com/franz/electric/internal/execute"
	"github.com/franz/electric/internal/plan"
	"github.com/franz/electric/internal/util"
)

var updateCmd = &cobra.Command{
	Use:     "update [remote...]",
	Aliases: []string{"sync"},
	Short:   "Reconcile the local library and remotes with the catalog",
	Long: `Reconcile the local library, and any remotes given, with the catalog.

Missing local files are copied from the first remote that holds the same
audio, files with stale names or tags are renamed and retagged in place,
and every remote is filled from the local library. Files no song accounts
for are reported, or deleted with --prune.

A remote is a name from the "remotes" config section or a location:
a directory, or adb:<serial>:<dir> for an Android device.`,
	RunE: runUpdate,
}

var pushCmd = &cobra.Command{
	Use:   "push <remote>",
	Short: "Reconcile one remote from the local library",
	Long: `Reconcile one remote from the local library only.

The local library is never filled from the remote; songs missing locally
are reported as unresolvable.`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(pushCmd)

	updateCmd.Flags().Bool("all", false, "include every configured remote")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	return reconcile(cmd.Context(), "update", args, all, false)
}

func runPush(cmd *cobra.Command, args []string) error {
	return reconcile(cmd.Context(), "push", args, false, true)
}

// reconcile plans and applies one reconciliation run
func reconcile(ctx context.Context, command string, remoteArgs []string, all, pushOnly bool) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(command, false)
	if err != nil {
		return err
	}
	defer func() { s.finish(err) }()
	cfg := s.cfg

	if all {
		remoteArgs = append(cfg.remoteNames(), remoteArgs...)
	}

	local := cfg.localBackend()
	backends := map[string]backend.Backend{localName: local}
	var remotes []backend.Backend
	for _, arg := range remoteArgs {
		b, err := cfg.openRemote(arg)
		if err != nil {
			return err
		}
		if _, dup := backends[b.Name()]; dup {
			continue
		}
		backends[b.Name()] = b
		remotes = append(remotes, b)
	}

	util.InfoLog("=== Listing ===")
	localListing, remoteListings, err := listAll(ctx, local, remotes)
	if err != nil {
		return err
	}

	planner := plan.New(&plan.Config{
		Layout:  cfg.Layout,
		Deriver: s.deriver,
		Prune:   cfg.Prune,
		Logger:  s.logger,
	})
	p, err := planner.Plan(s.catalog, localListing, remoteListings)
	if err != nil {
		return err
	}
	if pushOnly {
		p = p.PushOnly()
	}

	sum := p.Summary()
	s.logger.LogPlan(map[string]int{
		"transfers":    sum.Transfers,
		"pushes":       sum.Pushes,
		"renames":      sum.Renames,
		"retags":       sum.Retags,
		"prunes":       sum.Prunes,
		"unresolvable": sum.Unresolvable,
		"extraneous":   sum.Extraneous,
	})
	s.run.Transfers = sum.Transfers
	s.run.Renames = sum.Renames
	s.run.Prunes = sum.Prunes
	s.run.Warnings = len(p.Warnings)
	for _, w := range p.Warnings {
		util.WarnLog("%s", w)
		s.warnings = append(s.warnings, w.String())
	}

	util.InfoLog("=== Plan ===")
	util.InfoLog("Transfers: %d (%d to remotes), renames: %d, retags: %d, prunes: %d",
		sum.Transfers, sum.Pushes, sum.Renames, sum.Retags, sum.Prunes)
	if p.Empty() {
		util.SuccessLog("Nothing to do")
		return incomplete(p, nil)
	}

	total := len(p.Transfers) + len(p.Renames) + len(p.Prunes)
	if !cfg.DryRun {
		for _, name := range p.Backends() {
			for _, op := range p.Ops(name) {
				util.InfoLog("  %s", op)
			}
		}
		ok, err := confirm(cfg, fmt.Sprintf("Apply %d operations?", total))
		if err != nil {
			return err
		}
		if !ok {
			util.InfoLog("Aborted")
			return nil
		}
		s.summarize = true
	}

	bar := newProgressBar(total, "Applying")
	executor := execute.New(&execute.Config{
		Backends:    backends,
		Store:       s.db,
		RunID:       s.run.ID,
		Logger:      s.logger,
		DryRun:      cfg.DryRun,
		Concurrency: cfg.Concurrency,
		OpTimeout:   cfg.opBudget(),
		OnOp: func(op plan.Op, err error) {
			if bar != nil {
				bar.Add(1)
			}
		},
	})

	util.InfoLog("=== Execution ===")
	result, err := executor.Execute(ctx, p)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	s.run.Failures = result.Failed + result.Skipped
	s.run.BytesWritten = result.BytesWritten
	for _, f := range result.Failures {
		util.ErrorLog("%s: %s: %v", f.Backend, f.Op, f.Err)
	}

	return incomplete(p, result)
}

// listAll lists the local backend, then every remote concurrently. Listings
// keep the remotes' argument order, which the planner uses as priority.
func listAll(ctx context.Context, local backend.Backend, remotes []backend.Backend) (plan.Listing, []plan.Listing, error) {
	names, err := local.List(ctx)
	if err != nil {
		return plan.Listing{}, nil, fmt.Errorf("failed to list %s: %w", local.Name(), err)
	}
	localListing := plan.Listing{Backend: local.Name(), Names: names}
	util.InfoLog("%s: %d files", local.Name(), len(names))

	listings := make([]plan.Listing, len(remotes))
	p := pool.New().WithContext(ctx)
	for i, b := range remotes {
		p.Go(func(ctx context.Context) error {
			names, err := b.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", b.Name(), err)
			}
			listings[i] = plan.Listing{Backend: b.Name(), Names: names}
			util.InfoLog("%s: %d files", b.Name(), len(names))
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return plan.Listing{}, nil, err
	}
	return localListing, listings, nil
}

// incomplete turns leftover warnings and failed operations into the error
// that sets a non-zero exit code
func incomplete(p *plan.Plan, result *execute.Report) error {
	failed, skipped := 0, 0
	if result != nil {
		failed, skipped = result.Failed, result.Skipped
	}
	if len(p.Warnings) == 0 && failed == 0 && skipped == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d warnings, %d failed and %d skipped operations",
		util.ErrUnresolved, len(p.Warnings), failed, skipped)
}
