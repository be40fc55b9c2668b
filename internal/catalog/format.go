package catalog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/franz/electric/internal/util"
)

// fieldCount is the number of space-separated fields per line:
//
//	<id> <group> <artist> <title> <YYYY-MM-DD> <sha256-or-dash>
const fieldCount = 6

const noHash = "-"

// ParseError reports the first schema violation in a catalog file
type ParseError struct {
	Line int
	Rule string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Rule)
}

func (e *ParseError) Unwrap() error {
	return util.ErrSchema
}

// Parse reads a catalog. Any deviation from the canonical serialization is
// rejected, so Format(Parse(x)) reproduces x byte for byte.
func Parse(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	c := New()
	if len(data) == 0 {
		return c, nil
	}

	lines := bytes.Split(data, []byte{'\n'})
	if last := lines[len(lines)-1]; len(last) != 0 {
		return nil, &ParseError{Line: len(lines), Rule: "missing trailing newline"}
	}
	lines = lines[:len(lines)-1]

	for i, raw := range lines {
		lineNum := i + 1
		song, perr := parseLine(string(raw), lineNum)
		if perr != nil {
			return nil, perr
		}
		if song.ID != c.NextID() {
			rule := fmt.Sprintf("id %d out of order (expected %d)", song.ID, c.NextID())
			if song.ID < c.NextID() {
				rule = fmt.Sprintf("duplicate or non-monotonic id %d (expected %d)", song.ID, c.NextID())
			}
			return nil, &ParseError{Line: lineNum, Rule: rule}
		}
		if _, err := c.Add(*song); err != nil {
			return nil, &ParseError{Line: lineNum, Rule: strings.TrimPrefix(err.Error(), util.ErrSchema.Error()+": ")}
		}
	}

	return c, nil
}

func parseLine(line string, lineNum int) (*Song, *ParseError) {
	if line == "" {
		return nil, &ParseError{Line: lineNum, Rule: "blank line"}
	}

	fields := strings.Split(line, " ")
	if len(fields) != fieldCount {
		return nil, &ParseError{Line: lineNum, Rule: fmt.Sprintf("expected %d fields, got %d", fieldCount, len(fields))}
	}

	if !reID.MatchString(fields[0]) {
		return nil, &ParseError{Line: lineNum, Rule: fmt.Sprintf("invalid id %q", fields[0])}
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, &ParseError{Line: lineNum, Rule: fmt.Sprintf("invalid id %q", fields[0])}
	}

	group, err := ParseGroup(fields[1])
	if err != nil {
		return nil, &ParseError{Line: lineNum, Rule: err.Error()}
	}

	artist, title := fields[2], fields[3]
	if !ValidIdent(artist) {
		return nil, &ParseError{Line: lineNum, Rule: fmt.Sprintf("invalid artist %q", artist)}
	}
	if !ValidIdent(title) {
		return nil, &ParseError{Line: lineNum, Rule: fmt.Sprintf("invalid title %q", title)}
	}

	if !reDate.MatchString(fields[4]) {
		return nil, &ParseError{Line: lineNum, Rule: fmt.Sprintf("invalid date %q", fields[4])}
	}
	added, err := time.Parse(DateLayout, fields[4])
	if err != nil {
		return nil, &ParseError{Line: lineNum, Rule: fmt.Sprintf("invalid date %q", fields[4])}
	}

	hash := fields[5]
	if hash == noHash {
		hash = ""
	} else if !ValidHash(hash) {
		return nil, &ParseError{Line: lineNum, Rule: fmt.Sprintf("invalid hash %q", hash)}
	}

	return &Song{
		ID:     id,
		Group:  group,
		Artist: artist,
		Title:  title,
		Added:  added,
		Hash:   hash,
	}, nil
}

// Format writes the catalog in id order, one line per song
func Format(w io.Writer, c *Catalog) error {
	bw := bufio.NewWriter(w)
	for _, s := range c.songs {
		hash := s.Hash
		if hash == "" {
			hash = noHash
		}
		if _, err := fmt.Fprintf(bw, "%d %s %s %s %s %s\n",
			s.ID, s.Group, s.Artist, s.Title, s.Added.Format(DateLayout), hash); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads the catalog at path
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return c, nil
}

// LoadOrEmpty reads the catalog at path, returning an empty catalog if the
// file does not exist yet
func LoadOrEmpty(path string) (*Catalog, error) {
	c, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	return c, err
}

// Save atomically replaces the catalog at path. A failure leaves the
// previous file intact.
func Save(path string, c *Catalog) error {
	var buf bytes.Buffer
	if err := Format(&buf, c); err != nil {
		return fmt.Errorf("%w: %v", util.ErrPersistence, err)
	}
	if err := util.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("%w: %v", util.ErrPersistence, err)
	}
	return nil
}
