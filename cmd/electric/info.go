package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/plan"
	"github.com/franz/electric/internal/util"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print catalog totals",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the catalog to stdout",
	Args:  cobra.NoArgs,
	RunE:  runDump,
}

var listRemoteCmd = &cobra.Command{
	Use:   "list-remote <remote>",
	Short: "List the files on a remote and the songs they hold",
	Long: `List the files on a remote. Each line is marked:

  =  canonical file of a song
  ~  a song's audio under a stale name
  ?  no song accounts for the file`,
	Args: cobra.ExactArgs(1),
	RunE: runListRemote,
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List local files no song accounts for",
	Long: `List local files no song accounts for. Use "update --prune" to delete
them.`,
	Args: cobra.NoArgs,
	RunE: runOrphans,
}

var tagCmd = &cobra.Command{
	Use:   "tag <input> <output> <title> <artist> <album>",
	Short: "Normalize a music file and write its tags",
	Args:  cobra.ExactArgs(5),
	RunE:  runTag,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(listRemoteCmd)
	rootCmd.AddCommand(orphansCmd)
	rootCmd.AddCommand(tagCmd)
}

// loadCatalog reads the catalog without taking the lock
func loadCatalog() (*settings, *catalog.Catalog, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	c, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return cfg, c, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, c, err := loadCatalog()
	if err != nil {
		return err
	}
	st := c.Stats()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Catalog: %s\n", cfg.Catalog)
	fmt.Fprintf(out, "Music root: %s (layout %s)\n", cfg.MusicRoot, cfg.Layout.Name)
	fmt.Fprintln(out, "Groups:")
	for _, g := range catalog.Groups {
		fmt.Fprintf(out, "  %s: %d songs\n", g, st.PerGroup[g])
	}
	fmt.Fprintf(out, "%d artists, %d songs", st.Artists, st.Songs)
	if st.Pending > 0 {
		fmt.Fprintf(out, ", %d not imported yet", st.Pending)
	}
	fmt.Fprintln(out)

	if names := cfg.remoteNames(); len(names) > 0 {
		fmt.Fprintln(out, "Remotes:")
		for _, name := range names {
			fmt.Fprintf(out, "  %s: %s\n", name, cfg.Remotes[name])
		}
	}
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	_, c, err := loadCatalog()
	if err != nil {
		return err
	}
	return catalog.Format(cmd.OutOrStdout(), c)
}

func runListRemote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, c, err := loadCatalog()
	if err != nil {
		return err
	}
	deriver, err := cfg.deriver()
	if err != nil {
		return err
	}

	b, err := cfg.openRemote(args[0])
	if err != nil {
		return err
	}
	names, err := b.List(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	counts := make(map[string]int)
	for _, name := range names {
		mark, song := classify(c, deriver, cfg.Layout, name)
		counts[mark]++
		if song != nil {
			fmt.Fprintf(out, "%s %s\t%s\n", mark, name, song)
		} else {
			fmt.Fprintf(out, "%s %s\n", mark, name)
		}
	}
	util.InfoLog("%s: %d files, %d canonical, %d stale, %d unknown",
		b.Name(), len(names), counts["="], counts["~"], counts["?"])
	return nil
}

// classify marks a listed name against the catalog
func classify(c *catalog.Catalog, deriver *meta.Deriver, layout meta.Layout, name string) (string, *catalog.Song) {
	obs := meta.ParseAny(name, layout)
	if !obs.Valid {
		return "?", nil
	}
	for _, s := range c.Songs() {
		if !s.HasHash() || !strings.HasPrefix(s.Hash, obs.HashPrefix) {
			continue
		}
		if layout.Filename(s, deriver.Derive(s)) == name {
			return "=", s
		}
		return "~", s
	}
	return "?", nil
}

func runOrphans(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, c, err := loadCatalog()
	if err != nil {
		return err
	}
	deriver, err := cfg.deriver()
	if err != nil {
		return err
	}

	local := cfg.localBackend()
	names, err := local.List(ctx)
	if err != nil {
		return err
	}
	p, err := plan.New(&plan.Config{Layout: cfg.Layout, Deriver: deriver}).
		Plan(c, plan.Listing{Backend: local.Name(), Names: names}, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, w := range p.Warnings {
		if w.Kind == plan.WarnExtraneous {
			fmt.Fprintln(out, w.Name)
		}
	}
	return nil
}

func runTag(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	input, output := args[0], args[1]
	tags := meta.Tags{Title: args[2], Artist: args[3], Album: args[4]}

	if err := meta.NewNormalizer(cfg.FFmpegBinary).Normalize(ctx, input, output); err != nil {
		return err
	}
	blob, err := meta.EncodeTags(tags)
	if err != nil {
		return err
	}
	if err := meta.WriteTags(output, blob); err != nil {
		os.Remove(output)
		return err
	}
	util.SuccessLog("Tagged %s", output)
	return nil
}
