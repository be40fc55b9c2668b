package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/store"
	"github.com/franz/electric/internal/util"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the local library against the catalog",
	Long: `Verify every imported song's canonical local file: it must exist, its
audio must hash to the song's content hash and its tags must match the
derived tags. Content hashes are cached in the journal by file identity, so
unchanged files are not hashed again.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("rehash", false, "ignore cached hashes")
}

// problem is one local file that does not match its song
type problem struct {
	song *catalog.Song
	path string
	what string
}

func runCheck(cmd *cobra.Command, args []string) (err error) {
	s, err := openSession("check", false)
	if err != nil {
		return err
	}
	defer func() { s.finish(err) }()
	rehash, _ := cmd.Flags().GetBool("rehash")

	var songs []*catalog.Song
	for _, song := range s.catalog.Songs() {
		if song.HasHash() {
			songs = append(songs, song)
		}
	}
	util.InfoLog("Checking %d songs in %s", len(songs), s.cfg.MusicRoot)

	checker := &libraryChecker{
		db:        s.db,
		deriver:   s.deriver,
		layout:    s.cfg.Layout,
		musicRoot: s.cfg.MusicRoot,
		rehash:    rehash,
		seen:      make(map[string]bool),
	}

	bar := newProgressBar(len(songs), "Checking")
	var problems []problem
	for _, song := range songs {
		if p := checker.check(song); p != nil {
			problems = append(problems, *p)
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if !s.cfg.DryRun {
		if n, err := s.db.ForgetHashesExcept(checker.seen); err != nil {
			util.WarnLog("Failed to prune hash cache: %v", err)
		} else if n > 0 {
			util.DebugLog("Dropped %d stale hash cache entries", n)
		}
	}
	util.DebugLog("Hashed %d files, %d from cache", checker.hashed, checker.cached)

	for _, p := range problems {
		util.WarnLog("%s: %s (%s)", p.song, p.what, p.path)
		s.logger.LogCheck(p.song.ID, p.path, p.what)
		s.warnings = append(s.warnings, fmt.Sprintf("%s: %s", p.song, p.what))
	}
	s.run.Warnings = len(problems)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %d of %d songs have problems", util.ErrUnresolved, len(problems), len(songs))
	}
	util.SuccessLog("All %d songs are in order", len(songs))
	return nil
}

// libraryChecker verifies canonical local files, caching content hashes
type libraryChecker struct {
	db        *store.Store
	deriver   *meta.Deriver
	layout    meta.Layout
	musicRoot string
	rehash    bool

	seen           map[string]bool
	hashed, cached int
}

func (c *libraryChecker) check(song *catalog.Song) *problem {
	tags := c.deriver.Derive(song)
	name := c.layout.Filename(song, tags)
	path := filepath.Join(c.musicRoot, filepath.FromSlash(name))

	if !util.FileExists(path) {
		return &problem{song: song, path: path, what: "file is missing"}
	}
	c.seen[path] = true

	hash, err := c.hash(path)
	if err != nil {
		return &problem{song: song, path: path, what: fmt.Sprintf("cannot hash: %v", err)}
	}
	if hash != song.Hash {
		return &problem{song: song, path: path, what: fmt.Sprintf("audio hash is %s", hash)}
	}

	got, err := meta.ReadTags(path)
	if err != nil {
		return &problem{song: song, path: path, what: fmt.Sprintf("cannot read tags: %v", err)}
	}
	if got != tags {
		return &problem{song: song, path: path, what: "tags are stale"}
	}
	return nil
}

// hash returns the content hash of path, from the cache when the file is
// unchanged since it was last hashed
func (c *libraryChecker) hash(path string) (string, error) {
	key, err := util.GenerateFileKey(path)
	if err != nil {
		return "", err
	}
	if !c.rehash {
		if hash, ok, err := c.db.CachedHash(path, key); err == nil && ok {
			c.cached++
			return hash, nil
		}
	}

	hash, err := meta.HashFile(path)
	if err != nil {
		return "", err
	}
	c.hashed++
	if err := c.db.PutHash(path, key, hash); err != nil {
		util.DebugLog("Failed to cache hash of %s: %v", path, err)
	}
	return hash, nil
}
