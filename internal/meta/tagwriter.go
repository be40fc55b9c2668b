package meta

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bogem/id3v2"
	"github.com/dhowden/tag"

	"github.com/franz/electric/internal/util"
)

// EncodeTags renders tags as a standalone ID3v2.4 tag
func EncodeTags(t Tags) ([]byte, error) {
	id3 := id3v2.NewEmptyTag()
	id3.SetVersion(4)
	id3.SetDefaultEncoding(id3v2.EncodingUTF8)
	id3.SetTitle(t.Title)
	id3.SetArtist(t.Artist)
	id3.SetAlbum(t.Album)

	var buf bytes.Buffer
	if _, err := id3.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTags replaces the file's tags with blob. The audio payload is copied
// through unchanged, so the content hash is preserved. Any ID3v1 trailer is
// dropped.
func WriteTags(path string, blob []byte) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	payload, err := LocatePayload(src, info.Size())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	tmpPath := path + ".retag"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := dst.Write(blob); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tags: %w", err)
	}
	if _, err := io.Copy(dst, io.NewSectionReader(src, payload.Start, payload.Len())); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy payload: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	util.DebugLog("Wrote tags to: %s", path)
	return util.SyncDir(filepath.Dir(path))
}

// ReadTags reads the title, artist and album embedded in a file
func ReadTags(path string) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return Tags{}, fmt.Errorf("failed to read tags from %s: %w", path, err)
	}
	return Tags{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
	}, nil
}
