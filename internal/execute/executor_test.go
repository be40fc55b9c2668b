package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/franz/electric/internal/backend"
	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/plan"
	"github.com/franz/electric/internal/store"
	"github.com/franz/electric/internal/util"
)

// fakeRemote is an in-memory backend that records every call
type fakeRemote struct {
	name string

	mu    sync.Mutex
	files map[string][]byte
	calls []string
	fail  map[string]error
	block bool
	// fetched sees every destination path handed to Fetch
	fetched func(dest string)
}

func newFakeRemote(name string) *fakeRemote {
	return &fakeRemote{name: name, files: make(map[string][]byte), fail: make(map[string]error)}
}

func (f *fakeRemote) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) Name() string { return f.name }

func (f *fakeRemote) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.files {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeRemote) Fetch(ctx context.Context, name, dest string) error {
	if err := f.record("fetch " + name); err != nil {
		return err
	}
	f.mu.Lock()
	data, ok := f.files[name]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", util.ErrNotFound, name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return err
	}
	if f.fetched != nil {
		f.fetched(dest)
	}
	return nil
}

func (f *fakeRemote) Send(ctx context.Context, src, name string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := f.record("send " + name); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.files[name] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) Retag(ctx context.Context, name string, blob []byte) error {
	return f.record("retag " + name)
}

func (f *fakeRemote) Rename(ctx context.Context, from, to string) error {
	if err := f.record("rename " + from + " " + to); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[to] = f.files[from]
	delete(f.files, from)
	return nil
}

func (f *fakeRemote) Remove(ctx context.Context, name string) error {
	if err := f.record("remove " + name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, name)
	return nil
}

func fakeAudio() []byte {
	return bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64}, 512)
}

func writeLocal(t *testing.T, root, name string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// fixture is a local backend plus one remote, with a plan touching both
type fixture struct {
	root   string
	local  *backend.Local
	phone  *fakeRemote
	plan   *plan.Plan
	config *Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	local := backend.NewLocal("local", root)
	phone := newFakeRemote("phone")

	writeLocal(t, root, "core/queen.bohemian-rhapsody.aaaaaaaaaaaa1111.mp3", fakeAudio())
	phone.files["core/daft-punk.one-more-time.bbbbbbbbbbbb2222.mp3"] = fakeAudio()
	phone.files["core/old.name.cccccccccccc3333.mp3"] = fakeAudio()
	phone.files["extra/stray.file.dddddddddddd4444.mp3"] = fakeAudio()

	p := &plan.Plan{
		Local: "local",
		Transfers: []plan.Transfer{
			{Song: 2, From: "phone", Source: "core/daft-punk.one-more-time.bbbbbbbbbbbb2222.mp3",
				To: "local", Dest: "core/daft-punk.one-more-time.bbbbbbbbbbbb2222.mp3"},
			{Song: 1, From: "local", Source: "core/queen.bohemian-rhapsody.aaaaaaaaaaaa1111.mp3",
				To: "phone", Dest: "core/queen.bohemian-rhapsody.aaaaaaaaaaaa1111.mp3"},
		},
		Renames: []plan.Rename{
			{Song: 3, Backend: "phone", From: "core/old.name.cccccccccccc3333.mp3",
				To: "core/new.name.cccccccccccc3333.mp3"},
		},
		Prunes: []plan.Prune{
			{Backend: "phone", Name: "extra/stray.file.dddddddddddd4444.mp3"},
		},
	}

	return &fixture{
		root:  root,
		local: local,
		phone: phone,
		plan:  p,
		config: &Config{
			Backends: map[string]backend.Backend{"local": local, "phone": phone},
			RunID:    "run-1",
		},
	}
}

func TestExecuteRunsStreamsInOrder(t *testing.T) {
	f := newFixture(t)

	result, err := New(f.config).Execute(context.Background(), f.plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.OK() || result.Succeeded != 4 {
		t.Fatalf("expected 4 successful operations, got %+v", result)
	}

	want := []string{
		// local stream first: fill local from phone
		"fetch core/daft-punk.one-more-time.bbbbbbbbbbbb2222.mp3",
		// then the phone stream: rename, transfer, prune
		"rename core/old.name.cccccccccccc3333.mp3 core/new.name.cccccccccccc3333.mp3",
		"send core/queen.bohemian-rhapsody.aaaaaaaaaaaa1111.mp3",
		"remove extra/stray.file.dddddddddddd4444.mp3",
	}
	got := f.phone.Calls()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, expected %q", i, got[i], want[i])
		}
	}

	if !util.FileExists(filepath.Join(f.root, "core", "daft-punk.one-more-time.bbbbbbbbbbbb2222.mp3")) {
		t.Error("fetched file missing from local backend")
	}
	if result.BytesWritten != int64(2*len(fakeAudio())) {
		t.Errorf("expected %d bytes written, got %d", 2*len(fakeAudio()), result.BytesWritten)
	}
}

func TestExecuteDryRunChangesNothing(t *testing.T) {
	f := newFixture(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "electric.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	f.config.DryRun = true
	f.config.Store = st
	var notified int
	f.config.OnOp = func(op plan.Op, err error) { notified++ }

	result, err := New(f.config).Execute(context.Background(), f.plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Planned != 4 || result.Succeeded != 0 || !result.OK() {
		t.Errorf("unexpected dry-run report: %+v", result)
	}
	if notified != 4 {
		t.Errorf("expected 4 notifications, got %d", notified)
	}
	if calls := f.phone.Calls(); len(calls) != 0 {
		t.Errorf("dry run touched the remote: %v", calls)
	}
	if util.FileExists(filepath.Join(f.root, "core", "daft-punk.one-more-time.bbbbbbbbbbbb2222.mp3")) {
		t.Error("dry run wrote to the local backend")
	}
	if ops, _ := st.GetOperations("run-1"); len(ops) != 0 {
		t.Errorf("dry run journaled %d operations", len(ops))
	}
}

func TestExecuteJournalsOperations(t *testing.T) {
	f := newFixture(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "electric.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.BeginRun(&store.Run{ID: "run-1", Command: "sync"}); err != nil {
		t.Fatal(err)
	}

	f.phone.fail["remove extra/stray.file.dddddddddddd4444.mp3"] = errors.New("read-only file system")
	f.config.Store = st

	if _, err := New(f.config).Execute(context.Background(), f.plan); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	ops, err := st.GetOperations("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 4 {
		t.Fatalf("expected 4 journaled operations, got %d", len(ops))
	}
	if ops[0].Backend != "local" || ops[0].Kind != "transfer" || ops[0].Status != store.StatusDone {
		t.Errorf("unexpected first operation: %+v", ops[0])
	}
	last := ops[3]
	if last.Kind != "prune" || last.Status != store.StatusFailed || last.Error == "" {
		t.Errorf("expected failed prune last, got %+v", last)
	}
	if ops[0].BytesWritten != int64(len(fakeAudio())) {
		t.Errorf("expected bytes recorded for fetch, got %d", ops[0].BytesWritten)
	}
}

func TestExecuteFailureDoesNotStopStream(t *testing.T) {
	f := newFixture(t)
	f.phone.fail["rename core/old.name.cccccccccccc3333.mp3 core/new.name.cccccccccccc3333.mp3"] = errors.New("device offline")

	result, err := New(f.config).Execute(context.Background(), f.plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.OK() {
		t.Fatal("expected a failed report")
	}
	if result.Failed != 1 || result.Succeeded != 3 {
		t.Errorf("expected 1 failed and 3 succeeded, got %+v", result)
	}
	if len(result.Failures) != 1 || result.Failures[0].Backend != "phone" || result.Failures[0].Song != 3 {
		t.Errorf("unexpected failures: %+v", result.Failures)
	}
	if _, ok := f.phone.files["core/queen.bohemian-rhapsody.aaaaaaaaaaaa1111.mp3"]; !ok {
		t.Error("push after failed rename did not run")
	}
}

func TestExecuteSkipsPushOfMissingLocalFile(t *testing.T) {
	root := t.TempDir()
	local := backend.NewLocal("local", root)
	phone := newFakeRemote("phone")
	watch := newFakeRemote("watch")

	name := "core/daft-punk.one-more-time.bbbbbbbbbbbb2222.mp3"
	phone.files[name] = fakeAudio()
	phone.fail["fetch "+name] = errors.New("permission denied")

	p := &plan.Plan{
		Local: "local",
		Transfers: []plan.Transfer{
			{Song: 2, From: "phone", Source: name, To: "local", Dest: name},
			{Song: 2, From: "local", Source: name, To: "watch", Dest: name},
		},
	}

	var skippedOps []string
	cfg := &Config{
		Backends: map[string]backend.Backend{"local": local, "phone": phone, "watch": watch},
		OnOp: func(op plan.Op, err error) {
			if errors.Is(err, errSkipped) {
				skippedOps = append(skippedOps, op.String())
			}
		},
	}

	result, err := New(cfg).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Failed != 1 || result.Skipped != 1 || result.OK() {
		t.Errorf("expected 1 failed and 1 skipped, got %+v", result)
	}
	if calls := watch.Calls(); len(calls) != 0 {
		t.Errorf("skipped push reached the remote: %v", calls)
	}
	if len(skippedOps) != 1 {
		t.Errorf("expected one skipped notification, got %v", skippedOps)
	}
}

func TestExecuteRetagsFetchedFile(t *testing.T) {
	root := t.TempDir()
	local := backend.NewLocal("local", root)
	phone := newFakeRemote("phone")

	staleTags, _ := meta.EncodeTags(meta.Tags{Title: "OLD", Artist: "OLD", Album: "OLD"})
	source := "core/queen.old.aaaaaaaaaaaa0000.mp3"
	phone.files[source] = append(append([]byte{}, staleTags...), fakeAudio()...)

	want := meta.Tags{Title: "BOHEMIAN RHAPSODY", Artist: "QUEEN", Album: "ELECTRIC"}
	dest := "core/queen.bohemian-rhapsody.aaaaaaaaaaaa1111.mp3"
	p := &plan.Plan{
		Local: "local",
		Transfers: []plan.Transfer{
			{Song: 1, From: "phone", Source: source, To: "local", Dest: dest, Retag: true, Tags: want},
		},
	}

	cfg := &Config{Backends: map[string]backend.Backend{"local": local, "phone": phone}}
	result, err := New(cfg).Execute(context.Background(), p)
	if err != nil || !result.OK() {
		t.Fatalf("Execute failed: %v %+v", err, result)
	}

	got, err := meta.ReadTags(local.Path(dest))
	if err != nil {
		t.Fatalf("ReadTags failed: %v", err)
	}
	if got != want {
		t.Errorf("tags = %+v, expected %+v", got, want)
	}

	original := filepath.Join(t.TempDir(), "original.mp3")
	os.WriteFile(original, phone.files[source], 0644)
	before, _ := meta.HashFile(original)
	after, _ := meta.HashFile(local.Path(dest))
	if before != after {
		t.Error("retag changed the audio payload")
	}
}

func TestExecuteRetagsBeforeRename(t *testing.T) {
	phone := newFakeRemote("phone")
	from := "core/queen.old." + strings.Repeat("a", 12) + "0000.mp3"
	to := "core/queen.bohemian-rhapsody." + strings.Repeat("a", 12) + "1111.mp3"
	phone.files[from] = fakeAudio()

	p := &plan.Plan{
		Local: "local",
		Renames: []plan.Rename{
			{Song: 1, Backend: "phone", From: from, To: to, Retag: true, Tags: meta.Tags{Title: "BOHEMIAN RHAPSODY"}},
		},
	}
	cfg := &Config{Backends: map[string]backend.Backend{"local": backend.NewLocal("local", t.TempDir()), "phone": phone}}
	result, err := New(cfg).Execute(context.Background(), p)
	if err != nil || !result.OK() {
		t.Fatalf("Execute failed: %v %+v", err, result)
	}

	want := []string{"retag " + from, "rename " + from + " " + to}
	if got := phone.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, expected %v", got, want)
	}
}

func TestExecuteFailedRetagIsReplanned(t *testing.T) {
	c := catalog.New()
	song, err := c.Register(catalog.GroupCore, "daft-punk", "one-more-time", time.Date(2024, 9, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	hash := strings.Repeat("abcdef012345", 6)[:64]
	if err := c.SetHash(song.ID, hash, false); err != nil {
		t.Fatal(err)
	}
	layout := meta.DefaultLayout()
	canonical := layout.Filename(song, meta.NewDeriver(nil).Derive(song))
	stale := "core/daft-punk.one-more-time." + hash[:12] + "ffff.mp3"
	if stale == canonical {
		t.Fatal("stale name must differ from the canonical one")
	}

	phone := newFakeRemote("phone")
	phone.files[stale] = fakeAudio()
	phone.fail["retag "+stale] = errors.New("device offline")

	planner := plan.New(&plan.Config{Layout: layout})
	replan := func() *plan.Plan {
		t.Helper()
		names, err := phone.List(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		p, err := planner.Plan(c,
			plan.Listing{Backend: "local", Names: []string{canonical}},
			[]plan.Listing{{Backend: "phone", Names: names}})
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		return p
	}

	first := replan()
	if len(first.Renames) != 1 || !first.Renames[0].Retag {
		t.Fatalf("expected a retagging rename, got %+v", first.Renames)
	}

	cfg := &Config{Backends: map[string]backend.Backend{"local": backend.NewLocal("local", t.TempDir()), "phone": phone}}
	result, err := New(cfg).Execute(context.Background(), first)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected the retag to fail, got %+v", result)
	}
	if _, ok := phone.files[canonical]; ok {
		t.Error("file reached its canonical name with stale tags")
	}

	second := replan()
	if second.Empty() || len(second.Renames) != 1 || second.Renames[0].From != stale {
		t.Errorf("expected the rename to be scheduled again, got %+v", second)
	}
}

func TestExecuteFetchStagesBeforeRetag(t *testing.T) {
	root := t.TempDir()
	local := backend.NewLocal("local", root)
	phone := newFakeRemote("phone")
	source := "core/queen.old.aaaaaaaaaaaa0000.mp3"
	dest := "core/queen.bohemian-rhapsody.aaaaaaaaaaaa1111.mp3"
	phone.files[source] = fakeAudio()

	// Turn the fetched file into a directory so retagging it fails
	phone.fetched = func(path string) {
		if strings.HasPrefix(path, root) {
			t.Errorf("fetched straight into the library: %s", path)
		}
		os.Remove(path)
		os.Mkdir(path, 0755)
	}

	p := &plan.Plan{
		Local: "local",
		Transfers: []plan.Transfer{
			{Song: 1, From: "phone", Source: source, To: "local", Dest: dest, Retag: true, Tags: meta.Tags{Title: "BOHEMIAN RHAPSODY"}},
		},
	}
	cfg := &Config{
		Backends:   map[string]backend.Backend{"local": local, "phone": phone},
		StagingDir: t.TempDir(),
	}
	result, err := New(cfg).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected the retag to fail, got %+v", result)
	}
	if util.FileExists(local.Path(dest)) {
		t.Error("canonical file exists without fresh tags")
	}
}

func TestExecuteOperationTimeout(t *testing.T) {
	f := newFixture(t)
	f.phone.block = true
	f.config.OpTimeout = 50 * time.Millisecond

	start := time.Now()
	result, err := New(f.config).Execute(context.Background(), f.plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not bound the blocked operation")
	}
	if result.Failed != 1 {
		t.Fatalf("expected the blocked send to fail, got %+v", result)
	}
	if !errors.Is(result.Failures[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", result.Failures[0].Err)
	}
	if result.Succeeded != 3 {
		t.Errorf("expected the remaining operations to succeed, got %+v", result)
	}
}

func TestExecuteRejectsUnknownBackend(t *testing.T) {
	f := newFixture(t)
	delete(f.config.Backends, "phone")

	_, err := New(f.config).Execute(context.Background(), f.plan)
	if !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestExecuteRunsRemotesConcurrently(t *testing.T) {
	root := t.TempDir()
	local := backend.NewLocal("local", root)
	name := "core/queen.bohemian-rhapsody.aaaaaaaaaaaa1111.mp3"
	writeLocal(t, root, name, fakeAudio())

	backends := map[string]backend.Backend{"local": local}
	p := &plan.Plan{Local: "local"}
	var remotes []*fakeRemote
	for i := 0; i < 4; i++ {
		r := newFakeRemote(fmt.Sprintf("remote%d", i))
		remotes = append(remotes, r)
		backends[r.name] = r
		p.Transfers = append(p.Transfers, plan.Transfer{Song: 1, From: "local", Source: name, To: r.name, Dest: name})
	}

	result, err := New(&Config{Backends: backends, Concurrency: 2}).Execute(context.Background(), p)
	if err != nil || !result.OK() {
		t.Fatalf("Execute failed: %v %+v", err, result)
	}
	for _, r := range remotes {
		if !bytes.Equal(r.files[name], fakeAudio()) {
			t.Errorf("%s did not receive the file", r.name)
		}
	}
}
