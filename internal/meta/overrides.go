package meta

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/franz/electric/internal/catalog"
)

//go:embed overrides.yaml
var defaultOverrides []byte

// Override replaces individual derived tag fields. Empty fields are left
// untouched; set fields win over the automatic derivation.
type Override struct {
	Title  string `yaml:"title,omitempty"`
	Artist string `yaml:"artist,omitempty"`
	Album  string `yaml:"album,omitempty"`
}

func (o Override) apply(t *Tags) {
	if o.Title != "" {
		t.Title = o.Title
	}
	if o.Artist != "" {
		t.Artist = o.Artist
	}
	if o.Album != "" {
		t.Album = o.Album
	}
}

func (o Override) empty() bool {
	return o.Title == "" && o.Artist == "" && o.Album == ""
}

// OverrideTable holds hand-authored tag corrections keyed by artist
// identifier or by song id. A song entry is applied after the artist entry.
type OverrideTable struct {
	Artists map[string]Override `yaml:"artists"`
	Songs   map[int]Override    `yaml:"songs"`
}

// OverrideEntry is one row of an override table
type OverrideEntry struct {
	// Key is "artist:<ident>" or "song:<id>"
	Key      string
	Override Override
}

// LoadOverrides decodes and validates an override table
func LoadOverrides(r io.Reader) (*OverrideTable, error) {
	var table OverrideTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&table); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode overrides: %w", err)
	}

	for artist, o := range table.Artists {
		if !catalog.ValidIdent(artist) {
			return nil, fmt.Errorf("override for invalid artist %q", artist)
		}
		if o.empty() {
			return nil, fmt.Errorf("override for artist %q sets no field", artist)
		}
	}
	for id, o := range table.Songs {
		if id < 1 {
			return nil, fmt.Errorf("override for invalid song id %d", id)
		}
		if o.empty() {
			return nil, fmt.Errorf("override for song %d sets no field", id)
		}
	}
	return &table, nil
}

// DefaultOverrides returns the built-in override table
func DefaultOverrides() (*OverrideTable, error) {
	return LoadOverrides(bytes.NewReader(defaultOverrides))
}

// LoadOverridesFile returns the built-in table with the catalog-specific
// table at path merged over it. A missing file leaves the built-in table.
func LoadOverridesFile(path string) (*OverrideTable, error) {
	table, err := DefaultOverrides()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return table, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open overrides: %w", err)
	}
	defer f.Close()

	local, err := LoadOverrides(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	table.Merge(local)
	return table, nil
}

// Merge copies every entry of other into t, replacing entries with the same
// key
func (t *OverrideTable) Merge(other *OverrideTable) {
	if len(other.Artists) > 0 && t.Artists == nil {
		t.Artists = make(map[string]Override, len(other.Artists))
	}
	for a, o := range other.Artists {
		t.Artists[a] = o
	}
	if len(other.Songs) > 0 && t.Songs == nil {
		t.Songs = make(map[int]Override, len(other.Songs))
	}
	for id, o := range other.Songs {
		t.Songs[id] = o
	}
}

// Entries enumerates the table: artist entries sorted by identifier, then
// song entries sorted by id
func (t *OverrideTable) Entries() []OverrideEntry {
	artists := make([]string, 0, len(t.Artists))
	for a := range t.Artists {
		artists = append(artists, a)
	}
	sort.Strings(artists)

	ids := make([]int, 0, len(t.Songs))
	for id := range t.Songs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	entries := make([]OverrideEntry, 0, len(artists)+len(ids))
	for _, a := range artists {
		entries = append(entries, OverrideEntry{Key: "artist:" + a, Override: t.Artists[a]})
	}
	for _, id := range ids {
		entries = append(entries, OverrideEntry{Key: fmt.Sprintf("song:%d", id), Override: t.Songs[id]})
	}
	return entries
}
