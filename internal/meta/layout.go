package meta

import (
	"fmt"
	"sort"
	"strings"

	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/util"
)

// Ext is the only audio extension the library stores
const Ext = ".mp3"

// Layout is a versioned filename grammar:
//
//	<group>/<artist>.<title>.<hash-prefix><tagsum-prefix>.mp3
//
// A layout with TagSumLen 0 embeds no tag digest.
type Layout struct {
	Name          string
	HashPrefixLen int
	TagSumLen     int
}

var layouts = map[string]Layout{
	"v1": {Name: "v1", HashPrefixLen: catalog.HashLen, TagSumLen: 0},
	"v2": {Name: "v2", HashPrefixLen: 12, TagSumLen: 4},
}

// DefaultLayoutName is the layout used when none is configured
const DefaultLayoutName = "v2"

// LookupLayout returns the named layout
func LookupLayout(name string) (Layout, error) {
	l, ok := layouts[name]
	if !ok {
		return Layout{}, fmt.Errorf("%w: unknown layout %q (known: %s)", util.ErrInvalidConfig, name, strings.Join(LayoutNames(), ", "))
	}
	return l, nil
}

// LayoutNames lists known layouts in sorted order
func LayoutNames() []string {
	names := make([]string, 0, len(layouts))
	for n := range layouts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultLayout returns the current layout
func DefaultLayout() Layout {
	return layouts[DefaultLayoutName]
}

// HashPrefix truncates a content hash to the layout's prefix length
func (l Layout) HashPrefix(hash string) string {
	if len(hash) <= l.HashPrefixLen {
		return hash
	}
	return hash[:l.HashPrefixLen]
}

// TagSumPrefix returns the digest of tags as embedded by this layout
func (l Layout) TagSumPrefix(tags Tags) string {
	if l.TagSumLen == 0 {
		return ""
	}
	return TagSum(tags)[:l.TagSumLen]
}

// Filename returns the canonical slash-separated name of a song. The song
// must have a hash.
func (l Layout) Filename(s *catalog.Song, tags Tags) string {
	return fmt.Sprintf("%s/%s.%s.%s%s%s",
		s.Group, s.Artist, s.Title, l.HashPrefix(s.Hash), l.TagSumPrefix(tags), Ext)
}

// ObservedFile is a filename found at some location, parsed by a layout
type ObservedFile struct {
	Name       string
	Group      catalog.Group
	Artist     string
	Title      string
	HashPrefix string
	TagSum     string
	// Layout names the grammar the file was parsed with
	Layout string
	// Valid is false for names outside the layout grammar
	Valid bool
}

// Parse decodes a slash-separated name relative to a location root
func (l Layout) Parse(name string) ObservedFile {
	obs := ObservedFile{Name: name}

	dir, base, ok := strings.Cut(name, "/")
	if !ok || strings.Contains(base, "/") {
		return obs
	}
	group, err := catalog.ParseGroup(dir)
	if err != nil {
		return obs
	}
	stem, ok := strings.CutSuffix(base, Ext)
	if !ok {
		return obs
	}

	parts := strings.Split(stem, ".")
	if len(parts) != 3 {
		return obs
	}
	artist, title, digest := parts[0], parts[1], parts[2]
	if !catalog.ValidIdent(artist) || !catalog.ValidIdent(title) {
		return obs
	}
	if len(digest) != l.HashPrefixLen+l.TagSumLen || !isLowerHex(digest) {
		return obs
	}

	obs.Group = group
	obs.Artist = artist
	obs.Title = title
	obs.HashPrefix = digest[:l.HashPrefixLen]
	obs.TagSum = digest[l.HashPrefixLen:]
	obs.Layout = l.Name
	obs.Valid = true
	return obs
}

// Layouts returns every known layout, preferred first
func Layouts(preferred Layout) []Layout {
	out := []Layout{preferred}
	for _, name := range LayoutNames() {
		if l := layouts[name]; l.Name != preferred.Name {
			out = append(out, l)
		}
	}
	return out
}

// MatchPrefixLen is the shortest hash prefix any layout embeds. Files from
// different layouts are matched to songs on this many hash characters.
func MatchPrefixLen() int {
	n := catalog.HashLen
	for _, l := range layouts {
		if l.HashPrefixLen < n {
			n = l.HashPrefixLen
		}
	}
	return n
}

// ParseAny parses name with the preferred layout, falling back to the other
// known layouts so files written under an older grammar are still recognized
func ParseAny(name string, preferred Layout) ObservedFile {
	var obs ObservedFile
	for _, l := range Layouts(preferred) {
		if obs = l.Parse(name); obs.Valid {
			return obs
		}
	}
	return obs
}

// Listable reports whether a listed name is a candidate audio file: not
// hidden, not an in-flight temp file, with the audio extension
func Listable(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	return strings.HasSuffix(name, Ext)
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
