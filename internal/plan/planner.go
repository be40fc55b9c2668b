package plan

import (
	"fmt"
	"strings"

	"github.com/franz/electric/internal/catalog"
	"github.com/franz/electric/internal/meta"
	"github.com/franz/electric/internal/report"
	"github.com/franz/electric/internal/util"
)

// Planner reconciles the catalog with observed listings
type Planner struct {
	layout  meta.Layout
	deriver *meta.Deriver
	prune   bool
	logger  *report.EventLogger
}

// Config holds planner configuration
type Config struct {
	Layout  meta.Layout
	Deriver *meta.Deriver
	// Prune schedules extraneous files for deletion instead of warning
	Prune  bool
	Logger *report.EventLogger
}

// New creates a new Planner
func New(cfg *Config) *Planner {
	if cfg.Layout.Name == "" {
		cfg.Layout = meta.DefaultLayout()
	}
	if cfg.Deriver == nil {
		cfg.Deriver = meta.NewDeriver(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = report.NullLogger()
	}
	return &Planner{
		layout:  cfg.Layout,
		deriver: cfg.Deriver,
		prune:   cfg.Prune,
		logger:  cfg.Logger,
	}
}

// location is the working set of one backend during planning
type location struct {
	name     string
	order    []string
	files    map[string]meta.ObservedFile
	byPrefix map[string][]string
	taken    map[string]bool
}

func newLocation(l Listing, layout meta.Layout) *location {
	loc := &location{
		name:     l.Backend,
		files:    make(map[string]meta.ObservedFile, len(l.Names)),
		byPrefix: make(map[string][]string),
		taken:    make(map[string]bool),
	}
	matchLen := meta.MatchPrefixLen()
	for _, name := range l.Names {
		if _, dup := loc.files[name]; dup {
			continue
		}
		obs := meta.ParseAny(name, layout)
		loc.files[name] = obs
		loc.order = append(loc.order, name)
		if obs.Valid {
			key := obs.HashPrefix[:matchLen]
			loc.byPrefix[key] = append(loc.byPrefix[key], name)
		}
	}
	return loc
}

// take claims name if it is present and unclaimed
func (l *location) take(name string) bool {
	if _, ok := l.files[name]; !ok || l.taken[name] {
		return false
	}
	l.taken[name] = true
	return true
}

// find returns an unclaimed file holding the given hash, preferring the
// canonical name, then listing order
func (l *location) find(hash, canonical string) (meta.ObservedFile, bool) {
	if obs, ok := l.files[canonical]; ok && !l.taken[canonical] {
		return obs, true
	}
	for _, name := range l.byPrefix[hash[:meta.MatchPrefixLen()]] {
		obs := l.files[name]
		if !l.taken[name] && strings.HasPrefix(hash, obs.HashPrefix) {
			return obs, true
		}
	}
	return meta.ObservedFile{}, false
}

func (l *location) leftovers() []string {
	var out []string
	for _, name := range l.order {
		if !l.taken[name] {
			out = append(out, name)
		}
	}
	return out
}

// Plan computes the operations that bring local and every remote into
// agreement with the catalog. Remotes are searched for transfer sources in
// the order given.
func (p *Planner) Plan(c *catalog.Catalog, local Listing, remotes []Listing) (*Plan, error) {
	if err := checkBackendNames(local, remotes); err != nil {
		return nil, err
	}

	songs := c.Songs()
	if err := checkHashCollisions(songs); err != nil {
		return nil, err
	}

	loc := newLocation(local, p.layout)
	rems := make([]*location, len(remotes))
	for i, r := range remotes {
		rems[i] = newLocation(r, p.layout)
	}

	if err := checkUnregistered(c, append([]*location{loc}, rems...)); err != nil {
		return nil, err
	}

	out := &Plan{Local: local.Backend}

	for _, song := range songs {
		if !song.HasHash() {
			continue
		}
		tags := p.deriver.Derive(song)
		canonical := p.layout.Filename(song, tags)

		if !p.resolveLocal(out, loc, rems, song, tags, canonical) {
			w := Warning{Kind: WarnUnresolvable, Song: song.ID}
			out.Warnings = append(out.Warnings, w)
			p.logger.LogWarning(w.String(), "", "", song.ID)
			continue
		}

		for _, rem := range rems {
			p.resolveRemote(out, rem, song, tags, canonical)
		}
	}

	for _, l := range append([]*location{loc}, rems...) {
		for _, name := range l.leftovers() {
			if p.prune {
				out.Prunes = append(out.Prunes, Prune{Backend: l.name, Name: name})
				continue
			}
			w := Warning{Kind: WarnExtraneous, Backend: l.name, Name: name}
			out.Warnings = append(out.Warnings, w)
			p.logger.LogWarning(w.String(), l.name, name, 0)
		}
	}

	s := out.Summary()
	util.DebugLog("Plan: %d transfers (%d pushes), %d renames, %d retags, %d prunes, %d unresolvable, %d extraneous",
		s.Transfers, s.Pushes, s.Renames, s.Retags, s.Prunes, s.Unresolvable, s.Extraneous)
	return out, nil
}

// resolveLocal ensures the song will exist locally under its canonical
// name. It reports false when no location holds the song's audio.
func (p *Planner) resolveLocal(out *Plan, loc *location, rems []*location, song *catalog.Song, tags meta.Tags, canonical string) bool {
	if loc.take(canonical) {
		return true
	}

	if obs, ok := loc.find(song.Hash, canonical); ok {
		loc.taken[obs.Name] = true
		out.Renames = append(out.Renames, Rename{
			Song:    song.ID,
			Backend: loc.name,
			From:    obs.Name,
			To:      canonical,
			Retag:   p.staleTags(obs, tags),
			Tags:    tags,
		})
		return true
	}

	// The source stays unclaimed: the remote's own pass below matches or
	// renames it, and the local stream runs before any remote stream.
	for _, rem := range rems {
		if obs, ok := rem.find(song.Hash, canonical); ok {
			out.Transfers = append(out.Transfers, Transfer{
				Song:   song.ID,
				From:   rem.name,
				Source: obs.Name,
				To:     loc.name,
				Dest:   canonical,
				Retag:  obs.Name != canonical && p.staleTags(obs, tags),
				Tags:   tags,
			})
			return true
		}
	}
	return false
}

func (p *Planner) resolveRemote(out *Plan, rem *location, song *catalog.Song, tags meta.Tags, canonical string) {
	if rem.take(canonical) {
		return
	}

	if obs, ok := rem.find(song.Hash, canonical); ok {
		rem.taken[obs.Name] = true
		out.Renames = append(out.Renames, Rename{
			Song:    song.ID,
			Backend: rem.name,
			From:    obs.Name,
			To:      canonical,
			Retag:   p.staleTags(obs, tags),
			Tags:    tags,
		})
		return
	}

	out.Transfers = append(out.Transfers, Transfer{
		Song:   song.ID,
		From:   out.Local,
		Source: canonical,
		To:     rem.name,
		Dest:   canonical,
		Tags:   tags,
	})
}

// staleTags reports whether a file's name proves its embedded tags current.
// A layout without a tag digest proves nothing.
func (p *Planner) staleTags(obs meta.ObservedFile, tags meta.Tags) bool {
	if obs.Layout != p.layout.Name || p.layout.TagSumLen == 0 {
		return true
	}
	return obs.TagSum != p.layout.TagSumPrefix(tags)
}

func checkBackendNames(local Listing, remotes []Listing) error {
	seen := map[string]bool{local.Backend: true}
	for _, r := range remotes {
		if seen[r.Backend] {
			return fmt.Errorf("%w: backend %q listed twice", util.ErrInvalidConfig, r.Backend)
		}
		seen[r.Backend] = true
	}
	return nil
}

// checkHashCollisions rejects two songs sharing a hash, or sharing the hash
// prefix files are matched on
func checkHashCollisions(songs []*catalog.Song) error {
	n := meta.MatchPrefixLen()
	owners := make(map[string]*catalog.Song)
	for _, s := range songs {
		if !s.HasHash() {
			continue
		}
		key := s.Hash[:n]
		if prev, ok := owners[key]; ok {
			if prev.Hash == s.Hash {
				return fmt.Errorf("%w: %s and %s have the same content hash %s", util.ErrConsistency, prev, s, s.Hash)
			}
			return fmt.Errorf("%w: %s and %s share hash prefix %s", util.ErrConsistency, prev, s, key)
		}
		owners[key] = s
	}
	return nil
}

// checkUnregistered rejects files named after a song that has no hash: some
// other tool wrote them without registering the content
func checkUnregistered(c *catalog.Catalog, locs []*location) error {
	for _, l := range locs {
		for _, name := range l.order {
			obs := l.files[name]
			if !obs.Valid {
				continue
			}
			song := c.FindByIdent(obs.Group, obs.Artist, obs.Title)
			if song != nil && !song.HasHash() {
				return fmt.Errorf("%w: %s:%s belongs to %s, which has no registered hash", util.ErrConsistency, l.name, name, song)
			}
		}
	}
	return nil
}
