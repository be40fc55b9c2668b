package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/franz/electric/internal/catalog"
)

// Tags are the display tags embedded in a song's file
type Tags struct {
	Title  string
	Artist string
	Album  string
}

// albums maps each group to its album tag
var albums = map[catalog.Group]string{
	catalog.GroupCore:  "ELECTRIC",
	catalog.GroupExtra: "ELECTRIC EXTRA",
}

// AlbumFor returns the album tag of a group
func AlbumFor(g catalog.Group) string {
	return albums[g]
}

// Deriver maps songs to their display tags, applying an override table
type Deriver struct {
	overrides *OverrideTable
}

// NewDeriver creates a deriver. A nil table means no overrides.
func NewDeriver(overrides *OverrideTable) *Deriver {
	if overrides == nil {
		overrides = &OverrideTable{}
	}
	return &Deriver{overrides: overrides}
}

// Derive computes the tags of a song. It is pure and total over valid songs.
func (d *Deriver) Derive(s *catalog.Song) Tags {
	tags := Tags{
		Title:  IdentToTag(s.Title),
		Artist: IdentToTag(s.Artist),
		Album:  AlbumFor(s.Group),
	}

	if o, ok := d.overrides.Artists[s.Artist]; ok {
		o.apply(&tags)
	}
	if o, ok := d.overrides.Songs[s.ID]; ok {
		o.apply(&tags)
	}
	return tags
}

// IdentToTag turns an identifier into its tag form: dashes become spaces,
// letters are uppercased
func IdentToTag(ident string) string {
	return strings.ToUpper(strings.ReplaceAll(ident, "-", " "))
}

// TagSum returns a hex digest of the tags. Filenames embed a prefix of it so
// tag-only changes are visible without rehashing audio.
func TagSum(t Tags) string {
	h := sha256.New()
	h.Write([]byte(t.Title))
	h.Write([]byte{0})
	h.Write([]byte(t.Artist))
	h.Write([]byte{0})
	h.Write([]byte(t.Album))
	return hex.EncodeToString(h.Sum(nil))
}
