package catalog

import (
	"fmt"
	"regexp"
	"time"
)

// Group partitions songs into independent playback collections
type Group string

const (
	GroupCore  Group = "core"
	GroupExtra Group = "extra"
)

// Groups lists every valid group in display order
var Groups = []Group{GroupCore, GroupExtra}

// DateLayout is the on-disk date format
const DateLayout = "2006-01-02"

// HashLen is the length of a hex-encoded SHA-256 content hash
const HashLen = 64

var (
	reIdent = regexp.MustCompile(`^[0-9a-z]+(-[0-9a-z]+)*$`)
	reHash  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	reDate  = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
	reID    = regexp.MustCompile(`^[1-9][0-9]*$`)
)

// ParseGroup validates a group name
func ParseGroup(s string) (Group, error) {
	for _, g := range Groups {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("invalid group %q", s)
}

// ValidIdent reports whether s is a lowercase dash-joined identifier
func ValidIdent(s string) bool {
	return reIdent.MatchString(s)
}

// ValidHash reports whether s is a lowercase hex SHA-256 digest
func ValidHash(s string) bool {
	return reHash.MatchString(s)
}

// Song is one catalog entry.
//
// Hash is empty for a song that has been registered but not imported yet;
// such a song has no file anywhere.
type Song struct {
	ID     int
	Group  Group
	Artist string
	Title  string
	Added  time.Time
	Hash   string
}

// HasHash reports whether the song has been imported
func (s *Song) HasHash() bool {
	return s.Hash != ""
}

// Ident returns a human-readable identity for log messages
func (s *Song) Ident() string {
	return fmt.Sprintf("%s/%s.%s", s.Group, s.Artist, s.Title)
}

func (s *Song) String() string {
	return fmt.Sprintf("song %d (%s)", s.ID, s.Ident())
}

// validate checks every field except the id
func (s *Song) validate() error {
	if _, err := ParseGroup(string(s.Group)); err != nil {
		return err
	}
	if !ValidIdent(s.Artist) {
		return fmt.Errorf("invalid artist %q", s.Artist)
	}
	if !ValidIdent(s.Title) {
		return fmt.Errorf("invalid title %q", s.Title)
	}
	if s.Added.IsZero() {
		return fmt.Errorf("missing date")
	}
	if s.Hash != "" && !ValidHash(s.Hash) {
		return fmt.Errorf("invalid hash %q", s.Hash)
	}
	return nil
}
