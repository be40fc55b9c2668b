package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/report"
	"github.com/franz/electric/internal/util"
)

// copyRunner stands in for ffmpeg: it copies the -i input to the output
// argument, or fails with err
type copyRunner struct {
	err error
}

func (r copyRunner) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	if r.err != nil {
		return []byte("Invalid data found when processing input"), r.err
	}
	input := ""
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			input = args[i+1]
		}
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, err
	}
	return nil, os.WriteFile(args[len(args)-1], data, 0644)
}

type importFixture struct {
	session    *session
	queue      string
	normalizer *meta.Normalizer
}

func newImportFixture(t *testing.T, runner util.CommandRunner) *importFixture {
	t.Helper()
	root := t.TempDir()
	cfg := &settings{
		Root:      root,
		MusicRoot: filepath.Join(root, "music"),
		Catalog:   filepath.Join(root, "manifest.txt"),
		Queue:     filepath.Join(root, "queue"),
		Layout:    meta.DefaultLayout(),
	}
	if err := os.MkdirAll(cfg.Queue, 0755); err != nil {
		t.Fatal(err)
	}
	return &importFixture{
		session: &session{
			cfg:     cfg,
			command: "import",
			catalog: catalog.New(),
			deriver: meta.NewDeriver(nil),
			logger:  report.NullLogger(),
		},
		queue:      cfg.Queue,
		normalizer: meta.NewNormalizerWithRunner("ffmpeg", runner),
	}
}

func (f *importFixture) enqueue(t *testing.T, artist, title, audio string) importJob {
	t.Helper()
	src := filepath.Join(f.queue, artist+"."+title+meta.Ext)
	if err := os.WriteFile(src, []byte(audio), 0644); err != nil {
		t.Fatal(err)
	}
	return importJob{src: src, group: catalog.GroupCore, artist: artist, title: title}
}

func (f *importFixture) run(job importJob, reimport bool) error {
	return importFile(context.Background(), f.session, f.normalizer, job, reimport)
}

// saved reloads the catalog from disk
func (f *importFixture) saved(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.LoadOrEmpty(f.session.cfg.Catalog)
	if err != nil {
		t.Fatalf("failed to reload catalog: %v", err)
	}
	return c
}

func (f *importFixture) libraryFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.session.cfg.MusicRoot, string(catalog.GroupCore)))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (f *importFixture) canonicalPath(song *catalog.Song) string {
	cfg := f.session.cfg
	name := cfg.Layout.Filename(song, f.session.deriver.Derive(song))
	return filepath.Join(cfg.MusicRoot, filepath.FromSlash(name))
}

func TestImportNewSong(t *testing.T) {
	f := newImportFixture(t, copyRunner{})
	job := f.enqueue(t, "daft-punk", "one-more-time", "one more time audio")

	if err := f.run(job, false); err != nil {
		t.Fatalf("importFile: %v", err)
	}

	c := f.saved(t)
	if c.Len() != 1 {
		t.Fatalf("expected 1 saved song, got %d", c.Len())
	}
	song, _ := c.Get(1)
	if !song.HasHash() || song.Artist != "daft-punk" || song.Title != "one-more-time" {
		t.Fatalf("unexpected saved song %+v", song)
	}
	if !util.FileExists(f.canonicalPath(song)) {
		t.Errorf("audio missing at %s", f.canonicalPath(song))
	}
	if files := f.libraryFiles(t); len(files) != 1 {
		t.Errorf("expected only the canonical file, got %v", files)
	}
	if util.FileExists(job.src) {
		t.Error("queued file was not removed")
	}

	got, err := meta.ReadTags(f.canonicalPath(song))
	if err != nil {
		t.Fatalf("ReadTags: %v", err)
	}
	if got != f.session.deriver.Derive(song) {
		t.Errorf("tags = %+v, want derived tags", got)
	}
}

func TestImportCompletesRegisteredSong(t *testing.T) {
	f := newImportFixture(t, copyRunner{})
	if _, err := f.session.catalog.Register(catalog.GroupCore, "queen", "bohemian-rhapsody", today()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.session.catalog.Register(catalog.GroupCore, "queen", "under-pressure", today()); err != nil {
		t.Fatal(err)
	}

	job := f.enqueue(t, "queen", "bohemian-rhapsody", "bohemian rhapsody audio")
	if err := f.run(job, false); err != nil {
		t.Fatalf("importFile: %v", err)
	}

	c := f.saved(t)
	if c.Len() != 2 {
		t.Fatalf("completing a song must not register another, got %d songs", c.Len())
	}
	song, _ := c.Get(1)
	if !song.HasHash() {
		t.Fatal("registered song was not completed")
	}
	if pending, _ := c.Get(2); pending.HasHash() {
		t.Error("unrelated song gained a hash")
	}
	if !util.FileExists(f.canonicalPath(song)) {
		t.Errorf("audio missing at %s", f.canonicalPath(song))
	}
}

func TestImportRejectsDuplicateAudio(t *testing.T) {
	f := newImportFixture(t, copyRunner{})
	if err := f.run(f.enqueue(t, "queen", "bohemian-rhapsody", "same audio"), false); err != nil {
		t.Fatalf("first import: %v", err)
	}

	dup := f.enqueue(t, "queen", "bohemian-rhapsody-live", "same audio")
	err := f.run(dup, false)
	if !errors.Is(err, util.ErrConsistency) {
		t.Fatalf("expected ErrConsistency, got %v", err)
	}

	if c := f.saved(t); c.Len() != 1 {
		t.Errorf("duplicate was saved: %d songs", c.Len())
	}
	if f.session.catalog.Len() != 1 {
		t.Errorf("duplicate was registered in memory: %d songs", f.session.catalog.Len())
	}
	if files := f.libraryFiles(t); len(files) != 1 {
		t.Errorf("duplicate left files behind: %v", files)
	}
	if !util.FileExists(dup.src) {
		t.Error("rejected file was removed from the queue")
	}
}

func TestImportReimportReplacesHash(t *testing.T) {
	f := newImportFixture(t, copyRunner{})
	if err := f.run(f.enqueue(t, "queen", "bohemian-rhapsody", "first cut"), false); err != nil {
		t.Fatalf("first import: %v", err)
	}
	first, _ := f.saved(t).Get(1)

	again := f.enqueue(t, "queen", "bohemian-rhapsody", "remastered cut")
	if err := f.run(again, false); !errors.Is(err, util.ErrConsistency) {
		t.Fatalf("expected ErrConsistency without reimport, got %v", err)
	}
	if err := f.run(again, true); err != nil {
		t.Fatalf("reimport: %v", err)
	}

	c := f.saved(t)
	song, _ := c.Get(1)
	if c.Len() != 1 || song.Hash == first.Hash {
		t.Fatalf("expected the hash of song 1 to be replaced, got %+v", song)
	}
	if !util.FileExists(f.canonicalPath(song)) {
		t.Errorf("reimported audio missing at %s", f.canonicalPath(song))
	}
}

func TestImportNormalizeFailure(t *testing.T) {
	f := newImportFixture(t, copyRunner{err: errors.New("exit status 1")})
	job := f.enqueue(t, "daft-punk", "one-more-time", "not audio")

	if err := f.run(job, false); err == nil {
		t.Fatal("expected normalize error")
	}

	if util.FileExists(f.session.cfg.Catalog) {
		t.Error("catalog saved although nothing was imported")
	}
	if f.session.catalog.Len() != 0 {
		t.Errorf("failed import registered a song")
	}
	if files := f.libraryFiles(t); len(files) != 0 {
		t.Errorf("failed import left files behind: %v", files)
	}
	if !util.FileExists(job.src) {
		t.Error("failed import removed the queued file")
	}
}
