package catalog

import (
	"fmt"
	"time"

	"github.com/franz/electric/internal/util"
)

type identKey struct {
	group  Group
	artist string
	title  string
}

// Catalog is the ordered, append-only list of songs. Song N has id N.
type Catalog struct {
	songs   []*Song
	byIdent map[identKey]*Song
}

// New creates an empty catalog
func New() *Catalog {
	return &Catalog{
		byIdent: make(map[identKey]*Song),
	}
}

// Len returns the number of songs
func (c *Catalog) Len() int {
	return len(c.songs)
}

// NextID returns the id the next registered song must carry
func (c *Catalog) NextID() int {
	return len(c.songs) + 1
}

// Songs returns the songs in id order. The slice is a copy; the songs are not.
func (c *Catalog) Songs() []*Song {
	out := make([]*Song, len(c.songs))
	copy(out, c.songs)
	return out
}

// Get returns the song with the given id
func (c *Catalog) Get(id int) (*Song, bool) {
	if id < 1 || id > len(c.songs) {
		return nil, false
	}
	return c.songs[id-1], true
}

// FindByIdent returns the song with the given group, artist and title, or nil
func (c *Catalog) FindByIdent(group Group, artist, title string) *Song {
	return c.byIdent[identKey{group, artist, title}]
}

// Add appends a song. Its id must be exactly Len()+1.
func (c *Catalog) Add(s Song) (*Song, error) {
	if s.ID != c.NextID() {
		return nil, fmt.Errorf("%w: id %d is not the next id (expected %d)", util.ErrSchema, s.ID, c.NextID())
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%w: song %d: %v", util.ErrSchema, s.ID, err)
	}
	key := identKey{s.Group, s.Artist, s.Title}
	if prev, ok := c.byIdent[key]; ok {
		return nil, fmt.Errorf("%w: song %d duplicates song %d (%s)", util.ErrSchema, s.ID, prev.ID, prev.Ident())
	}

	song := s
	c.songs = append(c.songs, &song)
	c.byIdent[key] = &song
	return &song, nil
}

// Register appends a new hash-less song with the next id
func (c *Catalog) Register(group Group, artist, title string, added time.Time) (*Song, error) {
	return c.Add(Song{
		ID:     c.NextID(),
		Group:  group,
		Artist: artist,
		Title:  title,
		Added:  civilDate(added),
	})
}

// SetHash records the content hash of an imported song. Replacing an
// existing hash requires replace; it happens only on explicit re-import.
func (c *Catalog) SetHash(id int, hash string, replace bool) error {
	song, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("%w: song %d", util.ErrNotFound, id)
	}
	if !ValidHash(hash) {
		return fmt.Errorf("%w: invalid hash %q", util.ErrSchema, hash)
	}
	if song.HasHash() && !replace && song.Hash != hash {
		return fmt.Errorf("%w: %s already has hash %s", util.ErrConsistency, song, song.Hash[:12])
	}
	song.Hash = hash
	return nil
}

// Stats summarizes the catalog
type Stats struct {
	Songs    int
	Artists  int
	Pending  int
	PerGroup map[Group]int
}

// Stats computes catalog totals
func (c *Catalog) Stats() Stats {
	st := Stats{
		Songs:    len(c.songs),
		PerGroup: make(map[Group]int),
	}
	artists := make(map[string]bool)
	for _, s := range c.songs {
		artists[s.Artist] = true
		st.PerGroup[s.Group]++
		if !s.HasHash() {
			st.Pending++
		}
	}
	st.Artists = len(artists)
	return st
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
