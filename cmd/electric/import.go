package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/util"
)

var importCmd = &cobra.Command{
	Use:   "import [queue]",
	Short: "Import new music from the queue directory",
	Long: `Import every .mp3 file in the queue directory (default: <root>/queue).

Each file is identified by --artist/--title, else by its embedded tags,
else by a <artist>.<title>.mp3 file name. A registered song without audio
is completed; otherwise the next song id is registered. The audio is
normalized with ffmpeg, tagged, hashed, moved to its canonical name in the
music root and removed from the queue. The catalog is saved after every
file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

var addCmd = &cobra.Command{
	Use:   "add <group> <artist> <title>",
	Short: "Register a song without audio",
	Long: `Register the next song id without a content hash. A later import of a
file with the same identity completes it.`,
	Args: cobra.ExactArgs(3),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(addCmd)

	importCmd.Flags().String("group", string(catalog.GroupCore), "group for imported songs (core, extra)")
	importCmd.Flags().String("artist", "", "artist identifier (single file only)")
	importCmd.Flags().String("title", "", "title identifier (single file only)")
	importCmd.Flags().Bool("reimport", false, "replace the audio of songs that already have a hash")
}

// importJob is one queued file and the song it will become
type importJob struct {
	src    string
	group  catalog.Group
	artist string
	title  string
}

func (j importJob) String() string {
	return fmt.Sprintf("%s -> %s/%s/%s", filepath.Base(j.src), j.group, j.artist, j.title)
}

func runImport(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession("import", true)
	if err != nil {
		return err
	}
	defer func() { s.finish(err) }()
	cfg := s.cfg

	queue := cfg.Queue
	if len(args) == 1 {
		queue = args[0]
	}
	util.InfoLog("Queue directory: %s", queue)

	files, err := queuedFiles(queue)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		util.SuccessLog("Queue is empty")
		return nil
	}

	groupFlag, _ := cmd.Flags().GetString("group")
	group, err := catalog.ParseGroup(groupFlag)
	if err != nil {
		return err
	}
	artist, _ := cmd.Flags().GetString("artist")
	title, _ := cmd.Flags().GetString("title")
	reimport, _ := cmd.Flags().GetBool("reimport")
	if (artist != "" || title != "") && len(files) != 1 {
		return fmt.Errorf("%w: --artist and --title need a queue with exactly one file", util.ErrInvalidConfig)
	}

	var jobs []importJob
	for _, src := range files {
		job, err := identify(src, group, artist, title)
		if err != nil {
			util.WarnLog("Skipping %s: %v", src, err)
			s.logger.LogImport(0, src, "", "", err)
			continue
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return fmt.Errorf("%w: no queued file could be identified", util.ErrUnresolved)
	}

	for _, job := range jobs {
		util.InfoLog("  %s", job)
	}
	if cfg.DryRun {
		util.InfoLog("Dry run: %d files would be imported", len(jobs))
		return nil
	}
	ok, err := confirm(cfg, fmt.Sprintf("Import %d files?", len(jobs)))
	if err != nil {
		return err
	}
	if !ok {
		util.InfoLog("Aborted")
		return nil
	}

	normalizer := meta.NewNormalizer(cfg.FFmpegBinary)
	failed := 0
	for _, job := range jobs {
		if err := importFile(ctx, s, normalizer, job, reimport); err != nil {
			util.ErrorLog("Failed to import %s: %v", job.src, err)
			failed++
			if errors.Is(err, util.ErrPersistence) {
				return err
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d imports failed", util.ErrUnresolved, failed, len(jobs))
	}
	util.SuccessLog("Imported %d files", len(jobs))
	return nil
}

// queuedFiles lists the visible .mp3 files directly inside dir
func queuedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && meta.Listable(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// identify picks the identifiers for a queued file: flags first, then the
// embedded tags, then the file name
func identify(src string, group catalog.Group, artist, title string) (importJob, error) {
	job := importJob{src: src, group: group, artist: artist, title: title}

	if job.artist == "" || job.title == "" {
		if tags, err := meta.ReadTags(src); err == nil {
			if job.artist == "" {
				job.artist = meta.Slugify(tags.Artist)
			}
			if job.title == "" {
				job.title = meta.Slugify(tags.Title)
			}
		}
	}

	if job.artist == "" || job.title == "" {
		base := strings.TrimSuffix(filepath.Base(src), meta.Ext)
		if parts := strings.Split(base, "."); len(parts) == 2 {
			if job.artist == "" {
				job.artist = parts[0]
			}
			if job.title == "" {
				job.title = parts[1]
			}
		}
	}

	if !catalog.ValidIdent(job.artist) || !catalog.ValidIdent(job.title) {
		return job, fmt.Errorf("%w: cannot derive identifiers (artist %q, title %q)", util.ErrSchema, job.artist, job.title)
	}
	return job, nil
}

// importFile runs one import: normalize, tag, hash, move into place, save
func importFile(ctx context.Context, s *session, normalizer *meta.Normalizer, job importJob, reimport bool) error {
	cfg := s.cfg

	song := s.catalog.FindByIdent(job.group, job.artist, job.title)
	if song != nil && song.HasHash() && !reimport {
		return fmt.Errorf("%w: %s is already imported (use --reimport)", util.ErrConsistency, song)
	}
	// a new song joins the catalog only once its audio is in place
	registered := song == nil
	if registered {
		song = &catalog.Song{
			ID:     s.catalog.NextID(),
			Group:  job.group,
			Artist: job.artist,
			Title:  job.title,
			Added:  today(),
		}
	}
	tags := s.deriver.Derive(song)

	groupDir := filepath.Join(cfg.MusicRoot, string(job.group))
	if err := os.MkdirAll(groupDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", groupDir, err)
	}
	// hidden, so listings never see a partial import
	tmp := filepath.Join(groupDir, fmt.Sprintf(".%s.%s%s~", job.artist, job.title, meta.Ext))
	defer os.Remove(tmp)

	if err := normalizer.Normalize(ctx, job.src, tmp); err != nil {
		return err
	}
	blob, err := meta.EncodeTags(tags)
	if err != nil {
		return err
	}
	if err := meta.WriteTags(tmp, blob); err != nil {
		return err
	}
	hash, err := meta.HashFile(tmp)
	if err != nil {
		return err
	}
	for _, other := range s.catalog.Songs() {
		if other.ID != song.ID && other.Hash == hash {
			return fmt.Errorf("%w: audio of %s matches %s", util.ErrConsistency, filepath.Base(job.src), other)
		}
	}
	named := *song
	named.Hash = hash
	name := cfg.Layout.Filename(&named, tags)
	dest := filepath.Join(cfg.MusicRoot, filepath.FromSlash(name))
	if err := util.RetryableRename(ctx, tmp, dest, nil); err != nil {
		return fmt.Errorf("failed to move into place: %w", err)
	}
	if err := util.SyncDir(filepath.Dir(dest)); err != nil {
		return err
	}

	if registered {
		song.Hash = hash
		if song, err = s.catalog.Add(*song); err != nil {
			return err
		}
	} else if err := s.catalog.SetHash(song.ID, hash, reimport); err != nil {
		return err
	}
	if err := s.saveCatalog(); err != nil {
		return err
	}
	if err := os.Remove(job.src); err != nil {
		util.WarnLog("Imported but could not remove %s: %v", job.src, err)
	}

	verb := "Imported"
	if !registered {
		verb = "Completed"
	}
	util.SuccessLog("%s %s as %s", verb, filepath.Base(job.src), song)
	s.logger.LogImport(song.ID, job.src, name, hash, nil)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) (err error) {
	group, err := catalog.ParseGroup(args[0])
	if err != nil {
		return err
	}
	artist, title := args[1], args[2]
	if !catalog.ValidIdent(artist) || !catalog.ValidIdent(title) {
		return fmt.Errorf("%w: invalid identifier %q or %q", util.ErrSchema, artist, title)
	}

	s, err := openSession("add", true)
	if err != nil {
		return err
	}
	defer func() { s.finish(err) }()

	song, err := s.catalog.Register(group, artist, title, today())
	if err != nil {
		return err
	}
	if s.cfg.DryRun {
		util.InfoLog("Dry run: would register %s", song)
		return nil
	}
	if err := s.saveCatalog(); err != nil {
		return err
	}
	util.SuccessLog("Registered %s", song)
	return nil
}

// today is the local calendar date as stored in the catalog
func today() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
