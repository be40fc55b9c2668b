package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/util"
)

// Local is a directory tree on the local filesystem
type Local struct {
	name  string
	root  string
	retry *util.RetryConfig
}

// NewLocal creates a backend rooted at root
func NewLocal(name, root string) *Local {
	return &Local{
		name:  name,
		root:  filepath.Clean(root),
		retry: util.DefaultRetryConfig(),
	}
}

func (l *Local) Name() string { return l.name }

// Root returns the directory the backend is rooted at
func (l *Local) Root() string { return l.root }

// Path resolves a slash-separated name to a filesystem path
func (l *Local) Path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

// List walks the tree and returns candidate audio files in sorted order. A
// missing root is an empty location.
func (l *Local) List(ctx context.Context) ([]string, error) {
	var names []string

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			util.WarnLog("Error accessing %s: %v", path, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if path == l.root {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return nil
		}
		name := filepath.ToSlash(rel)
		if meta.Listable(name) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", l.root, err)
	}

	sort.Strings(names)
	return names, nil
}

func (l *Local) Fetch(ctx context.Context, name, dest string) error {
	_, err := copyFile(ctx, l.Path(name), dest, l.retry)
	return err
}

func (l *Local) Send(ctx context.Context, src, name string) error {
	_, err := copyFile(ctx, src, l.Path(name), l.retry)
	return err
}

func (l *Local) Retag(ctx context.Context, name string, blob []byte) error {
	return meta.WriteTags(l.Path(name), blob)
}

// Rename moves a file within the tree. An existing destination is not
// overwritten.
func (l *Local) Rename(ctx context.Context, from, to string) error {
	dest := l.Path(to)
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("rename %s: %s already exists", from, to)
	}
	if err := util.RetryableMkdirAll(ctx, filepath.Dir(dest), 0755, l.retry); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := util.RetryableRename(ctx, l.Path(from), dest, l.retry); err != nil {
		return err
	}
	return util.SyncDir(filepath.Dir(dest))
}

func (l *Local) Remove(ctx context.Context, name string) error {
	return util.RetryableRemove(ctx, l.Path(name), l.retry)
}
